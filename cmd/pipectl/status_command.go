package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/docpipe/api-go/internal/status"
	"github.com/example/docpipe/api-go/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <doc-id>",
		Short: "Show per-stage progress for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return ctx.withLedger(cmd.Context(), func(ledger store.Ledger) error {
				svc := status.NewService(ledger)
				view, err := svc.Get(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("status %s: %w", id, err)
				}
				out := cmd.OutOrStdout()
				if ctx.jsonOutput() {
					return writeJSON(out, view)
				}

				rows, err := svc.Progress(cmd.Context(), id)
				if err != nil {
					return err
				}
				colorize := shouldColorize(out)
				now := time.Now()
				table := make([][]string, 0, len(rows))
				for _, row := range rows {
					table = append(table, []string{
						row.Stage,
						renderStatus(row.Status, row.Class, colorize),
						relativeTime(row.TS, now),
						summarizeExtra(row.Extra, 60),
					})
				}

				state := "in progress"
				switch {
				case view.Failed:
					state = "failed"
				case view.Complete:
					state = "complete"
				}
				fmt.Fprintf(out, "Document %s (%s, updated %s)\n", view.DocID, state, relativeTime(view.UpdatedAt, now))
				fmt.Fprintln(out, renderTable(
					[]string{"Stage", "Status", "Updated", "Detail"},
					table,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}
