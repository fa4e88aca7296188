package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koopa0/parley/internal/config"
	"github.com/koopa0/parley/internal/database"
	"github.com/koopa0/parley/internal/session"
)

func init() {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}

	sessionsCmd.AddCommand(newSessionsListCmd())
	sessionsCmd.AddCommand(newSessionsDeleteCmd())
	sessionsCmd.AddCommand(newSessionsSweepCmd())

	rootCmd.AddCommand(sessionsCmd)
}

// withStore opens the configured database and hands a ready store to fn.
func withStore(ctx context.Context, fn func(context.Context, *session.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	return fn(ctx, session.New(db, nil))
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
				sessions, err := store.List(ctx, 100, 0)
				if err != nil {
					return fmt.Errorf("listing sessions: %w", err)
				}

				if len(sessions) == 0 {
					fmt.Println("No sessions found.")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SESSION ID\tMESSAGES\tCREATED\tLAST ACTIVE")
				for _, s := range sessions {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
						s.ID,
						s.MessageCount,
						s.CreatedAt.Local().Format(time.DateTime),
						s.UpdatedAt.Local().Format(time.DateTime),
					)
				}
				return w.Flush()
			})
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and all its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
				deleted, err := store.Delete(ctx, args[0])
				if err != nil {
					return fmt.Errorf("deleting session: %w", err)
				}
				if !deleted {
					return fmt.Errorf("session %q not found", args[0])
				}
				fmt.Printf("Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionsSweepCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions inactive for longer than the given number of days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1, got %d", days)
			}
			return withStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
				removed, err := store.Sweep(ctx, time.Duration(days)*24*time.Hour)
				if err != nil {
					return fmt.Errorf("sweeping sessions: %w", err)
				}
				fmt.Printf("Removed %d stale session(s)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "inactivity threshold in days")
	return cmd
}
