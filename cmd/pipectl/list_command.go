package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/docpipe/api-go/internal/model"
	"github.com/example/docpipe/api-go/internal/status"
	"github.com/example/docpipe/api-go/internal/store"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var stuckOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents in the ledger, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd.Context(), func(ledger store.Ledger) error {
				recs, err := ledger.ListAll(cmd.Context())
				if err != nil {
					return err
				}
				if stuckOnly {
					recs = filterStuck(recs)
				}

				out := cmd.OutOrStdout()
				if ctx.jsonOutput() {
					views := make([]status.View, 0, len(recs))
					for _, rec := range recs {
						views = append(views, status.NewView(rec))
					}
					return writeJSON(out, map[string]any{"documents": views})
				}
				if len(recs) == 0 {
					fmt.Fprintln(out, "No documents")
					return nil
				}

				colorize := shouldColorize(out)
				now := time.Now()
				rows := make([][]string, 0, len(recs))
				for _, rec := range recs {
					ingestion := rec.States[model.StageIngestion]
					name, _ := ingestion.Extra["filename"].(string)
					rows = append(rows, []string{
						rec.ID,
						name,
						renderStatus(ingestion.Status, model.Classify(ingestion.Status), colorize),
						progressSummary(rec),
						relativeTime(rec.UpdatedAt, now),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "File", "Ingestion", "Done", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&stuckOnly, "stuck", false, "Only show documents whose ingestion stage is queued or publish-failed")
	return cmd
}

// filterStuck keeps records that never got past the ingestion publish.
func filterStuck(recs []model.StatusRecord) []model.StatusRecord {
	out := recs[:0:0]
	for _, rec := range recs {
		if isStuck(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func isStuck(rec model.StatusRecord) bool {
	entry, ok := rec.States[model.StageIngestion]
	if !ok {
		return false
	}
	if entry.Status != model.StatusQueued && entry.Status != model.StatusPublishFailed {
		return false
	}
	for stage := range rec.States {
		if stage != model.StageIngestion {
			return false
		}
	}
	return true
}
