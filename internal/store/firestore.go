package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/docpipe/api-go/internal/model"
)

// Firestore keeps each status record as a document keyed by id. Stage writes
// run in a transaction that either creates the document or updates the
// states.<stage> field path.
type Firestore struct {
	client *firestore.Client
	coll   string
	now    func() time.Time
}

func OpenFirestore(ctx context.Context, projectID, collection string) (*Firestore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id must be provided")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &Firestore{client: client, coll: collection, now: time.Now}, nil
}

func (f *Firestore) Close() error {
	if f == nil || f.client == nil {
		return nil
	}
	return f.client.Close()
}

func (f *Firestore) UpsertInitial(ctx context.Context, id string, extra map[string]any, initialStatus string) error {
	return f.SetStageStatus(ctx, model.StageIngestion, id, initialStatus, extra)
}

func (f *Firestore) SetStageStatus(ctx context.Context, stage, id, statusToken string, extra map[string]any) error {
	w, err := newStageWrite(stage, id, statusToken, extra, f.now())
	if err != nil {
		return err
	}

	ref := f.client.Collection(f.coll).Doc(w.id)
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, getErr := tx.Get(ref)
		if status.Code(getErr) == codes.NotFound {
			return tx.Create(ref, model.StatusRecord{
				ID:        w.id,
				CreatedAt: w.now,
				UpdatedAt: w.now,
				States:    map[string]model.StageEntry{w.stage: w.entry},
			})
		}
		if getErr != nil {
			return getErr
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "updated_at", Value: w.now},
			{FieldPath: firestore.FieldPath{"states", w.stage}, Value: w.entry},
		})
	})
	if err != nil {
		return fmt.Errorf("upsert %s stage for %s: %w", w.stage, w.id, err)
	}
	return nil
}

func (f *Firestore) GetStatus(ctx context.Context, id string) (model.StatusRecord, error) {
	snap, err := f.client.Collection(f.coll).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return model.StatusRecord{}, model.ErrNotFound
		}
		return model.StatusRecord{}, fmt.Errorf("get %s: %w", id, err)
	}
	var rec model.StatusRecord
	if err := snap.DataTo(&rec); err != nil {
		return model.StatusRecord{}, fmt.Errorf("decode %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = snap.Ref.ID
	}
	normalizeRecord(&rec)
	return rec, nil
}

func (f *Firestore) ListAll(ctx context.Context) ([]model.StatusRecord, error) {
	iter := f.client.Collection(f.coll).OrderBy("updated_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var out []model.StatusRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list status records: %w", err)
		}
		var rec model.StatusRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Ref.ID, err)
		}
		if rec.ID == "" {
			rec.ID = snap.Ref.ID
		}
		normalizeRecord(&rec)
		out = append(out, rec)
	}
	return out, nil
}
