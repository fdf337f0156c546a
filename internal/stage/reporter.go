package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/docpipe/api-go/internal/model"
)

// StatusWriter is the stage status API of the ledger.
type StatusWriter interface {
	SetStageStatus(ctx context.Context, stage, id, status string, extra map[string]any) error
}

// Reporter writes status for one named stage. Workers own exactly one
// stage key, so a Reporter is bound to it at construction.
type Reporter struct {
	ledger StatusWriter
	stage  string
	logger *slog.Logger
}

func NewReporter(ledger StatusWriter, stage string, logger *slog.Logger) (*Reporter, error) {
	if !model.ValidStageName(stage) {
		return nil, fmt.Errorf("invalid stage name %q", stage)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{ledger: ledger, stage: stage, logger: logger.With("stage", stage)}, nil
}

func (r *Reporter) Stage() string { return r.stage }

// Set records an arbitrary status token for id.
func (r *Reporter) Set(ctx context.Context, id, status string, extra map[string]any) error {
	if err := r.ledger.SetStageStatus(ctx, r.stage, id, status, extra); err != nil {
		return fmt.Errorf("report %s=%s for %s: %w", r.stage, status, id, err)
	}
	r.logger.Debug("stage status reported", "doc_id", id, "status", status)
	return nil
}

func (r *Reporter) Started(ctx context.Context, id string, extra map[string]any) error {
	return r.Set(ctx, id, model.StatusStarted, extra)
}

func (r *Reporter) OK(ctx context.Context, id string, extra map[string]any) error {
	return r.Set(ctx, id, model.StatusOK, extra)
}

// Fail records the error status with the cause under extra["error"].
func (r *Reporter) Fail(ctx context.Context, id string, cause error, extra map[string]any) error {
	merged := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		merged[k] = v
	}
	if cause != nil {
		merged["error"] = cause.Error()
	}
	return r.Set(ctx, id, model.StatusError, merged)
}
