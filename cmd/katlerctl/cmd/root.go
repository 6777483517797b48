// Package cmd contains the CLI commands for katlerctl.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
	"github.com/good-yellow-bee/katler/internal/session"
	"github.com/good-yellow-bee/katler/internal/storage"
)

// defaultDBPath is the default database path, can be overridden via KATLER_DATABASE_PATH env var
var defaultDBPath = "./data/katler.db"

func init() {
	if envPath := os.Getenv("KATLER_DATABASE_PATH"); envPath != "" {
		defaultDBPath = envPath
	}
}

var (
	// Used for flags
	verbose bool
	output  string
	dbPath  string
	natsURL string
	asUser  string
	asEmail string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "katlerctl",
	Short: "Katler - team sync and access control",
	Long: `katlerctl operates on a Katler database as one principal.

Commands run through the same identity gate and ownership checks as the
HTTP API. With --nats, writes are published to running servers and
message tail follows the live stream.

Examples:
  # Choose a username
  katlerctl --as pat-id --email pat@example.com profile set-username pat

  # Create a project and post to it
  katlerctl --as pat-id project create --name Launch
  katlerctl --as pat-id message send --project <id> --tag decision "Ship it"

  # Invite a teammate
  katlerctl --as pat-id invite create --project <id> --to alice@example.com`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath, "database path")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats", os.Getenv("KATLER_REALTIME_NATS_URL"), "NATS URL for publishing and following changes")
	rootCmd.PersistentFlags().StringVar(&asUser, "as", os.Getenv("KATLER_USER_ID"), "principal id to act as")
	rootCmd.PersistentFlags().StringVar(&asEmail, "email", os.Getenv("KATLER_USER_EMAIL"), "principal email")
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// env is an opened store with the core components wired over it.
type env struct {
	store  *storage.SQLiteStorage
	broker realtime.Broker
	deps   session.Deps
	live   bool
}

func (e *env) Close() {
	e.store.Close()
	e.broker.Close()
}

func logger() *slog.Logger {
	if verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openEnv opens the database and, with --nats, the shared broker.
func openEnv() (*env, error) {
	log := logger()

	var (
		broker realtime.Broker
		live   bool
	)
	if natsURL != "" {
		nb, err := realtime.DialNATS(realtime.NATSConfig{URL: natsURL, Name: "katlerctl", Logger: log})
		if err != nil {
			return nil, err
		}
		broker, live = nb, true
		PrintVerbose("connected to %s", natsURL)
	} else {
		broker = realtime.NewMemoryBroker()
	}

	store := storage.NewSQLiteStorage(dbPath, broker, log)
	if err := store.Open(); err != nil {
		broker.Close()
		return nil, fmt.Errorf("open database at %s: %w", dbPath, err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		broker.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &env{
		store:  store,
		broker: broker,
		deps:   session.NewDeps(store, broker, log),
		live:   live,
	}, nil
}

// openSession opens the env and a session for the --as principal.
func openSession(ctx context.Context) (*env, *session.Session, error) {
	if asUser == "" {
		return nil, nil, fmt.Errorf("--as is required")
	}
	e, err := openEnv()
	if err != nil {
		return nil, nil, err
	}
	s, err := session.Open(ctx, e.deps, models.Principal{ID: asUser, Email: models.NormalizeEmail(asEmail)})
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, s, nil
}
