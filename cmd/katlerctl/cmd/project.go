package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/registry"
)

var (
	projectID      string
	projectName    string
	projectDesc    string
	projectNewName string
	projectLimit   int
)

// projectCmd represents the project command group
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Project management commands",
	Long: `Commands for managing Katler projects.

Examples:
  # List your projects
  katlerctl --as pat-id project list

  # Create a new project
  katlerctl --as pat-id project create --name Launch --description "Q3 launch"

  # List members and recent entries (owner only)
  katlerctl --as pat-id project members --id <id>
  katlerctl --as pat-id project logs --id <id> --limit 20`,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your projects, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		projects, err := s.ListProjects(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), projects, "No projects found.",
			[]string{"ID", "NAME", "DESCRIPTION", "OWNER", "CREATED"},
			func() [][]string {
				rows := make([][]string, len(projects))
				for i, p := range projects {
					owner := ""
					if p.OwnerID == asUser {
						owner = "you"
					}
					rows[i] = []string{p.ID, truncate(p.Name, 24), truncate(p.Description, 30), owner, p.CreatedAt.Format("2006-01-02 15:04")}
				}
				return rows
			})
	},
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project you own",
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectName == "" {
			return fmt.Errorf("--name is required")
		}
		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		p, err := s.CreateProject(ctx, projectName, projectDesc)
		if err != nil {
			return err
		}
		return printProject(cmd, p)
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Rename or re-describe a project (owner only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectID == "" {
			return fmt.Errorf("--id is required")
		}
		var patch registry.Patch
		if cmd.Flags().Changed("new-name") {
			patch.Name = &projectNewName
		}
		if cmd.Flags().Changed("description") {
			patch.Description = &projectDesc
		}
		if patch.Name == nil && patch.Description == nil {
			return fmt.Errorf("nothing to update: use --new-name or --description")
		}

		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		p, err := s.UpdateProject(ctx, projectID, patch)
		if err != nil {
			return err
		}
		return printProject(cmd, p)
	},
}

var projectMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "List project members (owner only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectID == "" {
			return fmt.Errorf("--id is required")
		}
		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		members, err := s.Members(ctx, projectID)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), members, "No members.",
			[]string{"USER ID", "USERNAME", "EMAIL", "ROLE"},
			func() [][]string {
				rows := make([][]string, len(members))
				for i, m := range members {
					rows[i] = []string{m.UserID, m.Username, m.Email, string(m.Role)}
				}
				return rows
			})
	},
}

var projectLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List recent project entries (owner only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectID == "" {
			return fmt.Errorf("--id is required")
		}
		ctx := context.Background()
		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		entries, err := s.EntryLogs(ctx, projectID, projectLimit)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), entries, "No entries.",
			[]string{"ENTERED", "USER ID", "USERNAME"},
			func() [][]string {
				rows := make([][]string, len(entries))
				for i, l := range entries {
					rows[i] = []string{l.EnteredAt.Format("2006-01-02 15:04:05"), l.UserID, l.Username}
				}
				return rows
			})
	},
}

var projectRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Restore missing owner memberships",
	Long: `Insert an owner membership for every project whose creator has none.
Does not require --as.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.deps.Registry.RepairOwnerships(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d owner membership(s).\n", n)
		return nil
	},
}

func printProject(cmd *cobra.Command, p *models.Project) error {
	return render(cmd.OutOrStdout(), p, "", []string{"ID", "NAME", "DESCRIPTION"}, func() [][]string {
		return [][]string{{p.ID, p.Name, p.Description}}
	})
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectListCmd, projectCreateCmd, projectUpdateCmd, projectMembersCmd, projectLogsCmd, projectRepairCmd)

	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectCreateCmd.Flags().StringVar(&projectDesc, "description", "", "project description")

	projectUpdateCmd.Flags().StringVar(&projectID, "id", "", "project ID (required)")
	projectUpdateCmd.Flags().StringVar(&projectNewName, "new-name", "", "new project name")
	projectUpdateCmd.Flags().StringVar(&projectDesc, "description", "", "new description")

	projectMembersCmd.Flags().StringVar(&projectID, "id", "", "project ID (required)")

	projectLogsCmd.Flags().StringVar(&projectID, "id", "", "project ID (required)")
	projectLogsCmd.Flags().IntVar(&projectLimit, "limit", 0, "maximum entries (default 50, max 500)")
}
