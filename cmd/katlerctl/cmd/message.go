package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/session"
	"github.com/good-yellow-bee/katler/internal/stream"
)

var (
	messageProject string
	messageTag     string
	messageFilter  string
	messageFollow  bool
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Message commands",
}

var messageSendCmd = &cobra.Command{
	Use:   "send <content>",
	Short: "Post a message to a project",
	Long: `Post a message to a project you belong to.

Tags: none, decision, idea, problem.

Example:
  katlerctl --as pat-id message send --project <id> --tag decision "Ship it"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if messageProject == "" {
			return fmt.Errorf("--project is required")
		}
		tag, err := models.ParseTag(messageTag)
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

		m, err := s.SendMessage(ctx, messageProject, strings.Join(args, " "), &tag)
		if err != nil {
			return err
		}
		PrintVerbose("sent %s", m.ID)
		if GetOutput() == "json" {
			return printJSON(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

var messageTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print a project's transcript",
	Long: `Print a project's transcript in order. With --follow (requires --nats),
keep printing messages as they arrive.

Examples:
  katlerctl --as pat-id message tail --project <id> --tag decision
  katlerctl --as pat-id --nats nats://localhost:4222 message tail --project <id> -f`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if messageProject == "" {
			return fmt.Errorf("--project is required")
		}
		filter, err := models.ParseTagFilter(messageFilter)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer s.Close()

		if messageFollow && !e.live {
			return fmt.Errorf("--follow requires --nats")
		}

		updates, detach := s.AttachStream()
		defer detach()

		if err := s.SetTagFilter(ctx, filter); err != nil {
			return err
		}
		if err := s.SwitchProject(ctx, messageProject); err != nil {
			return err
		}
		settle(ctx, s, updates)

		w := cmd.OutOrStdout()
		seen := make(map[string]bool)
		printNew(w, s.View().Messages, seen, false)
		if !messageFollow {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-updates:
				printNew(w, s.View().Messages, seen, true)
			}
		}
	},
}

// settle waits briefly for author names of the loaded transcript.
func settle(ctx context.Context, s *session.Session, updates <-chan struct{}) {
	timeout := time.NewTimer(2 * time.Second)
	defer timeout.Stop()

	for pending(s.View().Messages) {
		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			return
		case <-updates:
		}
	}
}

func pending(messages []stream.MessageView) bool {
	for _, m := range messages {
		if m.Author == stream.PendingAuthor {
			return true
		}
	}
	return false
}

// printNew prints messages not printed before. With hold, messages whose
// author is still resolving wait for the next update.
func printNew(w io.Writer, messages []stream.MessageView, seen map[string]bool, hold bool) {
	for _, m := range messages {
		if seen[m.ID] || hold && m.Author == stream.PendingAuthor {
			continue
		}
		seen[m.ID] = true
		if GetOutput() == "json" {
			printJSON(w, m)
			continue
		}
		tag := ""
		if m.Tag != models.TagNone {
			tag = "[" + string(m.Tag) + "] "
		}
		fmt.Fprintf(w, "%s  %-16s %s%s\n", m.CreatedAt.Format("15:04:05"), m.Author, tag, m.Content)
	}
}

func init() {
	rootCmd.AddCommand(messageCmd)
	messageCmd.AddCommand(messageSendCmd, messageTailCmd)

	messageSendCmd.Flags().StringVar(&messageProject, "project", "", "project ID (required)")
	messageSendCmd.Flags().StringVar(&messageTag, "tag", "none", "message tag")

	messageTailCmd.Flags().StringVar(&messageProject, "project", "", "project ID (required)")
	messageTailCmd.Flags().StringVar(&messageFilter, "tag", "all", "only show messages with this tag")
	messageTailCmd.Flags().BoolVarP(&messageFollow, "follow", "f", false, "follow new messages (requires --nats)")
}

