package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/example/docpipe/api-go/internal/intake"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file|url>",
		Short: "Submit a local file or an http(s) URL for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(args[0])
			logger := ctx.logger(cmd.ErrOrStderr())
			out := cmd.OutOrStdout()

			req := intake.Request{}
			var size int64
			if looksLikeURL(target) {
				req.SourceURL = target
			} else {
				f, err := os.Open(target)
				if err != nil {
					return fmt.Errorf("open %s: %w", target, err)
				}
				defer f.Close()
				if info, err := f.Stat(); err == nil {
					size = info.Size()
				}
				req.File = f
				req.Filename = filepath.Base(target)
			}

			return ctx.withCoordinator(cmd.Context(), logger, func(coord *intake.Coordinator) error {
				res, err := coord.Intake(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("ingest failed (%s): %w", intake.Kind(err), err)
				}
				if ctx.jsonOutput() {
					return writeJSON(out, map[string]any{"doc_id": res.DocumentID})
				}
				if req.File != nil {
					fmt.Fprintf(out, "Queued %s (%s) as %s\n", req.Filename, humanize.Bytes(uint64(size)), res.DocumentID)
				} else {
					fmt.Fprintf(out, "Queued %s as %s\n", req.SourceURL, res.DocumentID)
				}
				return nil
			})
		},
	}
}

func looksLikeURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
