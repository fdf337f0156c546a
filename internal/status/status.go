package status

import (
	"context"

	"github.com/example/docpipe/api-go/internal/model"
)

// Reader is the read side of the status ledger.
type Reader interface {
	GetStatus(ctx context.Context, id string) (model.StatusRecord, error)
	ListAll(ctx context.Context) ([]model.StatusRecord, error)
}

// View is what clients polling a document see.
type View struct {
	DocID     string                      `json:"doc_id"`
	States    map[string]model.StageEntry `json:"states"`
	CreatedAt string                      `json:"created_at,omitempty"`
	UpdatedAt string                      `json:"updated_at"`
	Complete  bool                        `json:"complete"`
	Failed    bool                        `json:"failed"`
}

func NewView(rec model.StatusRecord) View {
	states := rec.States
	if states == nil {
		states = map[string]model.StageEntry{}
	}
	return View{
		DocID:     rec.ID,
		States:    states,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Complete:  rec.Complete(),
		Failed:    rec.Failed(),
	}
}

// Service answers status queries. It never writes.
type Service struct {
	reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// Get returns the current view of id, or model.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	rec, err := s.reader.GetStatus(ctx, id)
	if err != nil {
		return View{}, err
	}
	return NewView(rec), nil
}

// List returns every record, most recently updated first.
func (s *Service) List(ctx context.Context) ([]View, error) {
	recs, err := s.reader.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		out = append(out, NewView(rec))
	}
	return out, nil
}

// Progress returns one row per pipeline stage in order, then any other
// stages the document reported.
func (s *Service) Progress(ctx context.Context, id string) ([]model.StageProgress, error) {
	rec, err := s.reader.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Progress(), nil
}
