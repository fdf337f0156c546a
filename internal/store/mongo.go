package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/docpipe/api-go/internal/model"
)

// Mongo stores one document per id in a collection and updates stages with
// $set on the dotted states.<stage> path.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

func OpenMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Mongo{
		client: client,
		coll:   client.Database(database).Collection(collection),
		now:    time.Now,
	}, nil
}

func (m *Mongo) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) UpsertInitial(ctx context.Context, id string, extra map[string]any, initialStatus string) error {
	return m.SetStageStatus(ctx, model.StageIngestion, id, initialStatus, extra)
}

func (m *Mongo) SetStageStatus(ctx context.Context, stage, id, status string, extra map[string]any) error {
	w, err := newStageWrite(stage, id, status, extra, m.now())
	if err != nil {
		return err
	}

	update := bson.M{
		"$setOnInsert": bson.M{"created_at": w.now},
		"$set": bson.M{
			"updated_at":         w.now,
			"states." + w.stage: bson.M{"status": w.entry.Status, "ts": w.entry.TS, "extra": w.entry.Extra},
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	res := m.coll.FindOneAndUpdate(ctx, bson.M{"_id": w.id}, update, opts)
	if err := res.Err(); err != nil {
		return fmt.Errorf("upsert %s stage for %s: %w", w.stage, w.id, err)
	}
	return nil
}

func (m *Mongo) GetStatus(ctx context.Context, id string) (model.StatusRecord, error) {
	var rec model.StatusRecord
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.StatusRecord{}, model.ErrNotFound
		}
		return model.StatusRecord{}, fmt.Errorf("find %s: %w", id, err)
	}
	normalizeRecord(&rec)
	return rec, nil
}

func (m *Mongo) ListAll(ctx context.Context) ([]model.StatusRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := m.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list status records: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.StatusRecord
	for cur.Next(ctx) {
		var rec model.StatusRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode status record: %w", err)
		}
		normalizeRecord(&rec)
		out = append(out, rec)
	}
	return out, cur.Err()
}
