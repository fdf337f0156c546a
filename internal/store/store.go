package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/docpipe/api-go/internal/model"
)

var (
	ErrMissingID    = errors.New("document id required")
	ErrInvalidStage = errors.New("invalid stage name")
)

// Ledger is the per-document stage status store shared by intake and every
// stage worker.
//
// Implementations must apply each write as one atomic document-level
// operation that touches only states.<stage> and updated_at, and sets id and
// created_at only when the record is first inserted. Writes for different
// stages on the same document therefore never lose each other.
type Ledger interface {
	UpsertInitial(ctx context.Context, id string, extra map[string]any, initialStatus string) error
	SetStageStatus(ctx context.Context, stage, id, status string, extra map[string]any) error
	GetStatus(ctx context.Context, id string) (model.StatusRecord, error)
	ListAll(ctx context.Context) ([]model.StatusRecord, error)
	Close() error
}

// stageWrite is the validated form of a single stage upsert.
type stageWrite struct {
	id    string
	stage string
	now   string
	entry model.StageEntry
}

func newStageWrite(stage, id, status string, extra map[string]any, now time.Time) (stageWrite, error) {
	if id == "" {
		return stageWrite{}, ErrMissingID
	}
	if !model.ValidStageName(stage) {
		return stageWrite{}, fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}
	if extra == nil {
		extra = map[string]any{}
	}
	ts := model.Timestamp(now)
	return stageWrite{
		id:    id,
		stage: stage,
		now:   ts,
		entry: model.StageEntry{Status: status, TS: ts, Extra: extra},
	}, nil
}

func normalizeRecord(rec *model.StatusRecord) {
	if rec.States == nil {
		rec.States = map[string]model.StageEntry{}
	}
	for stage, entry := range rec.States {
		if entry.Extra == nil {
			entry.Extra = map[string]any{}
			rec.States[stage] = entry
		}
	}
}
