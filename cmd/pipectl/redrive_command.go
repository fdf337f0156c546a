package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/docpipe/api-go/internal/intake"
	"github.com/example/docpipe/api-go/internal/store"
)

func newRedriveCommand(ctx *commandContext) *cobra.Command {
	var (
		force    bool
		allStuck bool
	)

	cmd := &cobra.Command{
		Use:   "redrive [doc-id...]",
		Short: "Republish documents stuck at queued or publish-failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !allStuck {
				return errors.New("pass document ids or --all-stuck")
			}
			logger := ctx.logger(cmd.ErrOrStderr())
			out := cmd.OutOrStdout()

			ids := append([]string(nil), args...)
			if allStuck {
				err := ctx.withLedger(cmd.Context(), func(ledger store.Ledger) error {
					recs, err := ledger.ListAll(cmd.Context())
					if err != nil {
						return err
					}
					for _, rec := range filterStuck(recs) {
						ids = append(ids, rec.ID)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			if len(ids) == 0 {
				fmt.Fprintln(out, "Nothing to re-drive")
				return nil
			}

			return ctx.withCoordinator(cmd.Context(), logger, func(coord *intake.Coordinator) error {
				var failed int
				for _, id := range ids {
					if _, err := coord.Redrive(cmd.Context(), id, force); err != nil {
						failed++
						fmt.Fprintf(out, "%s: %v\n", id, err)
						continue
					}
					fmt.Fprintf(out, "%s: re-queued\n", id)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d documents could not be re-driven", failed, len(ids))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Republish even if the ingestion stage has moved on")
	cmd.Flags().BoolVar(&allStuck, "all-stuck", false, "Re-drive every document that never left the ingestion stage")
	return cmd
}
