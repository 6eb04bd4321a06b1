package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lyra/internal/config"
	"lyra/internal/domain"
	"lyra/internal/journal"
	"lyra/internal/ports"
)

const maxJournalText = 60

func truncateText(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// formatJournalTable renders entries newest first as a table.
func formatJournalTable(entries []domain.JournalEntry) string {
	if len(entries) == 0 {
		return "No journal entries.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-10s %s\n", "ID", "DATE", "TEXT")
	for _, e := range entries {
		text := truncateText(strings.ReplaceAll(e.Text, "\n", " "), maxJournalText)
		fmt.Fprintf(&b, "%-36s %-10s %s\n", e.ID, e.Date, text)
	}
	return b.String()
}

// journalOpener yields a journal and a function that releases it.
type journalOpener func(ctx context.Context) (ports.Journal, func() error, error)

func newJournalCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Browse and manage the gratitude journal",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "journal database path (default from LYRA_JOURNAL_DB)")

	open := func(ctx context.Context) (ports.Journal, func() error, error) {
		store, err := openJournal(ctx, dbPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	cmd.AddCommand(
		newJournalListCmd(open),
		newJournalDeleteCmd(open),
	)
	return cmd
}

func openJournal(ctx context.Context, dbPath string) (*journal.Store, error) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.Journal.Path
	}
	store, err := journal.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return store, nil
}

func newJournalListCmd(open journalOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List journal entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			store, release, err := open(ctx)
			if err != nil {
				return fmt.Errorf("journal list: %w", err)
			}
			defer func() { _ = release() }()

			entries, err := store.List(ctx)
			if err != nil {
				return fmt.Errorf("journal list: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatJournalTable(entries))
			return nil
		},
	}
}

func newJournalDeleteCmd(open journalOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			store, release, err := open(ctx)
			if err != nil {
				return fmt.Errorf("journal delete: %w", err)
			}
			defer func() { _ = release() }()

			if err := store.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("journal delete: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
