package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/katler/internal/models"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile commands",
	Long: `Commands for the acting principal's profile.

A username must be set before any other command is accepted.`,
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		return printProfile(cmd, s.View().Profile)
	},
}

var profileSetUsernameCmd = &cobra.Command{
	Use:   "set-username <username>",
	Short: "Choose a username",
	Long: `Choose a unique username. Usernames are 3-32 characters of lowercase
letters, digits, "_" and "-"; a leading "@" is ignored.

Example:
  katlerctl --as pat-id profile set-username pat`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		p, err := s.SetUsername(ctx, args[0])
		if err != nil {
			return err
		}
		return printProfile(cmd, p)
	},
}

func printProfile(cmd *cobra.Command, p *models.Profile) error {
	username := p.Handle()
	if username == "" {
		username = "(not set)"
	}
	return render(cmd.OutOrStdout(), p, "", []string{"ID", "EMAIL", "USERNAME"}, func() [][]string {
		return [][]string{{p.ID, p.Email, username}}
	})
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetUsernameCmd)
}
