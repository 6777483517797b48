package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/katler/internal/models"
)

var (
	inviteProject  string
	inviteTo       string
	inviteID       string
	inviteDecision string
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Invite commands",
	Long: `Commands for project invites.

Examples:
  # Invite by username or email (owner only)
  katlerctl --as pat-id invite create --project <id> --to @alice
  katlerctl --as pat-id invite create --project <id> --to alice@example.com

  # Answer an invite addressed to you
  katlerctl --as alice-id --email alice@example.com invite list
  katlerctl --as alice-id --email alice@example.com invite respond --id <id> --decision accepted`,
}

var inviteCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Invite a username or email address to a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if inviteProject == "" || inviteTo == "" {
			return fmt.Errorf("--project and --to are required")
		}
		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		invite, err := s.CreateInvite(ctx, inviteProject, inviteTo)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), invite, "", []string{"ID", "PROJECT", "INVITEE", "STATUS"}, func() [][]string {
			return [][]string{{invite.ID, invite.ProjectID, invitee(invite), string(invite.Status)}}
		})
	},
}

var inviteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending invites addressed to you",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		invites, err := s.ListInvites(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), invites, "No pending invites.",
			[]string{"ID", "PROJECT", "FROM", "SENT"},
			func() [][]string {
				rows := make([][]string, len(invites))
				for i, inv := range invites {
					rows[i] = []string{inv.ID, inv.ProjectName, inv.InviterUsername, inv.CreatedAt.Format("2006-01-02 15:04")}
				}
				return rows
			})
	},
}

var inviteRespondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Accept or decline an invite",
	RunE: func(cmd *cobra.Command, args []string) error {
		if inviteID == "" {
			return fmt.Errorf("--id is required")
		}
		decision, err := models.ParseInviteStatus(inviteDecision)
		if err != nil {
			return err
		}

		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		invite, err := s.RespondToInvite(ctx, inviteID, decision)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Invite %s %s.\n", invite.ID, invite.Status)
		return nil
	},
}

func invitee(i *models.Invite) string {
	if i.InviteeEmail != "" {
		return i.InviteeEmail
	}
	return i.InviteeUserID
}

func init() {
	rootCmd.AddCommand(inviteCmd)
	inviteCmd.AddCommand(inviteCreateCmd, inviteListCmd, inviteRespondCmd)

	inviteCreateCmd.Flags().StringVar(&inviteProject, "project", "", "project ID (required)")
	inviteCreateCmd.Flags().StringVar(&inviteTo, "to", "", "username or email address (required)")

	inviteRespondCmd.Flags().StringVar(&inviteID, "id", "", "invite ID (required)")
	inviteRespondCmd.Flags().StringVar(&inviteDecision, "decision", "accepted", "accepted or declined")
}
