package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/docpipe/api-go/internal/model"
	"github.com/example/docpipe/api-go/internal/stage"
	"github.com/example/docpipe/api-go/internal/store"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Report stage status the way a stage worker does",
	}
	cmd.AddCommand(newStageSetCommand(ctx))
	return cmd
}

func newStageSetCommand(ctx *commandContext) *cobra.Command {
	var extraFlags []string

	cmd := &cobra.Command{
		Use:   "set <doc-id> <stage> <status>",
		Short: "Set the status of one stage for a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, stageName, statusToken := args[0], args[1], args[2]
			extra, err := parseExtra(extraFlags)
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd.ErrOrStderr())
			return ctx.withLedger(cmd.Context(), func(ledger store.Ledger) error {
				reporter, err := stage.NewReporter(ledger, stageName, logger)
				if err != nil {
					return err
				}
				if err := reporter.Set(cmd.Context(), id, statusToken, extra); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s=%s\n", id, stageName, statusToken)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&extraFlags, "extra", "e", nil, "Extra key=value (value parsed as JSON when possible); repeatable")
	return cmd
}

// parseExtra turns key=value pairs into an extra map. Values that parse as
// JSON keep their type; anything else is a string.
func parseExtra(pairs []string) (map[string]any, error) {
	extra := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --extra %q, expected key=value", pair)
		}
		if !json.Valid([]byte(raw)) {
			extra[key] = raw
			continue
		}
		var v any
		if err := model.DecodeJSON(strings.NewReader(raw), &v); err != nil {
			extra[key] = raw
			continue
		}
		extra[key] = model.ExactNumbers(v)
	}
	return extra, nil
}
