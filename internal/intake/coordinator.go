package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/docpipe/api-go/internal/blob"
	"github.com/example/docpipe/api-go/internal/broker"
	"github.com/example/docpipe/api-go/internal/model"
)

// ErrNotRedrivable is returned by Redrive for documents that are not stuck
// in the ingestion stage or lack what is needed to rebuild the message.
var ErrNotRedrivable = errors.New("document cannot be re-driven")

// Ledger is the part of the status ledger intake writes to.
type Ledger interface {
	UpsertInitial(ctx context.Context, id string, extra map[string]any, initialStatus string) error
	SetStageStatus(ctx context.Context, stage, id, status string, extra map[string]any) error
	GetStatus(ctx context.Context, id string) (model.StatusRecord, error)
}

// Publisher sends ingest envelopes to the broker.
type Publisher interface {
	Publish(ctx context.Context, destination string, msg broker.Message[model.Envelope]) error
}

// Request carries exactly one of File (with Filename) or SourceURL.
type Request struct {
	File      io.Reader
	Filename  string
	SourceURL string
}

type Result struct {
	DocumentID string
}

type Options struct {
	// Queue is the broker destination for ingest messages.
	Queue string
	// MarkPublishFailures records publish-failed on the ingestion stage when
	// every publish attempt failed. Without it the stage stays queued.
	MarkPublishFailures bool
}

// Coordinator turns one intake request into a stored document, a seeded
// ledger record and a published ingest message, in that order.
type Coordinator struct {
	ledger    Ledger
	blobs     blob.Store
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	newID     func() string
}

func New(ledger Ledger, blobs blob.Store, publisher Publisher, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		ledger:    ledger,
		blobs:     blobs,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Intake validates req, mints a document id and hands the document to the
// pipeline. The ledger record exists before the id is returned.
func (c *Coordinator) Intake(ctx context.Context, req Request) (Result, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	switch {
	case req.File == nil && sourceURL == "":
		return Result{}, &ValidationError{Reason: "no input"}
	case req.File != nil && sourceURL != "":
		return Result{}, &ValidationError{Reason: "ambiguous input: provide a file or a url, not both"}
	}

	var parsed *url.URL
	if req.File == nil {
		u, err := parseSourceURL(sourceURL)
		if err != nil {
			return Result{}, err
		}
		parsed = u
	}

	id := c.newID()
	if parsed != nil {
		return c.intakeURL(ctx, id, parsed)
	}
	return c.intakeFile(ctx, id, req)
}

func (c *Coordinator) intakeFile(ctx context.Context, id string, req Request) (Result, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = fmt.Sprintf("document-%s.%s", id, model.DefaultExtension)
	}
	obj, err := c.blobs.Put(ctx, StoredName(id, req.Filename), req.File)
	if err != nil {
		return Result{}, &StorageError{DocumentID: id, Err: err}
	}

	if err := c.ledger.UpsertInitial(ctx, id, map[string]any{
		"filename": filename,
		"size":     obj.Size,
	}, model.StatusUploaded); err != nil {
		return Result{}, &LedgerError{DocumentID: id, Err: err}
	}

	msg := model.IngestMessage{
		ID:        id,
		Source:    model.SourceWebUpload,
		Name:      filename,
		URL:       obj.Location,
		Extension: Extension(filename),
		Payload:   map[string]any{},
	}
	queued := queuedExtra(msg)
	queued["size"] = obj.Size
	return c.queueAndPublish(ctx, msg, queued)
}

func (c *Coordinator) intakeURL(ctx context.Context, id string, u *url.URL) (Result, error) {
	filename := FilenameFromURL(u)
	source := u.String()

	if err := c.ledger.UpsertInitial(ctx, id, map[string]any{
		"filename":  filename,
		"sourceUrl": source,
	}, model.StatusSubmitted); err != nil {
		return Result{}, &LedgerError{DocumentID: id, Err: err}
	}

	msg := model.IngestMessage{
		ID:        id,
		Source:    model.SourceWebURL,
		Name:      filename,
		URL:       source,
		Extension: Extension(filename),
		Payload:   map[string]any{},
	}
	queued := queuedExtra(msg)
	queued["sourceUrl"] = source
	queued["mode"] = "url"
	return c.queueAndPublish(ctx, msg, queued)
}

func (c *Coordinator) queueAndPublish(ctx context.Context, msg model.IngestMessage, queued map[string]any) (Result, error) {
	if err := c.ledger.SetStageStatus(ctx, model.StageIngestion, msg.ID, model.StatusQueued, queued); err != nil {
		return Result{}, &LedgerError{DocumentID: msg.ID, Err: err}
	}
	if err := c.publish(ctx, msg, queued); err != nil {
		return Result{}, err
	}

	c.logger.Info("document queued for ingestion",
		"doc_id", msg.ID,
		"source", msg.Source,
		"name", msg.Name,
	)
	return Result{DocumentID: msg.ID}, nil
}

func (c *Coordinator) publish(ctx context.Context, msg model.IngestMessage, queued map[string]any) error {
	env := model.Envelope{Data: &msg}
	err := c.publisher.Publish(ctx, c.opts.Queue, broker.Message[model.Envelope]{
		Subject: model.IngestSubject,
		Body:    env,
	})
	if err == nil {
		return nil
	}

	c.logger.Error("ingest publish failed",
		"doc_id", msg.ID,
		"queue", c.opts.Queue,
		"error", err.Error(),
	)
	if c.opts.MarkPublishFailures {
		c.markPublishFailed(ctx, msg.ID, queued, err)
	}
	return &PublishError{DocumentID: msg.ID, Err: err}
}

// markPublishFailed records the exhausted publish on the ingestion stage.
// It runs even if ctx was cancelled so the stuck state stays visible.
func (c *Coordinator) markPublishFailed(ctx context.Context, id string, queued map[string]any, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	extra := make(map[string]any, len(queued)+2)
	for k, v := range queued {
		extra[k] = v
	}
	extra["error"] = cause.Error()
	var exhausted *broker.ExhaustedError
	if errors.As(cause, &exhausted) {
		extra["attempts"] = exhausted.Attempts
	}

	if err := c.ledger.SetStageStatus(ctx, model.StageIngestion, id, model.StatusPublishFailed, extra); err != nil {
		c.logger.Error("mark publish failure", "doc_id", id, "error", err.Error())
	}
}

// Redrive republishes the ingest message of a document whose ingestion
// stage is stuck at queued or publish-failed. With force it republishes
// regardless of the current status.
func (c *Coordinator) Redrive(ctx context.Context, id string, force bool) (Result, error) {
	rec, err := c.ledger.GetStatus(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Result{}, fmt.Errorf("redrive %s: %w", id, err)
		}
		return Result{}, &LedgerError{DocumentID: id, Err: err}
	}
	entry, ok := rec.States[model.StageIngestion]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s has no ingestion stage", ErrNotRedrivable, id)
	}
	if !force && entry.Status != model.StatusQueued && entry.Status != model.StatusPublishFailed {
		return Result{}, fmt.Errorf("%w: ingestion stage of %s is %q", ErrNotRedrivable, id, entry.Status)
	}

	msg, err := messageFromExtra(id, entry.Extra)
	if err != nil {
		return Result{}, err
	}

	queued := make(map[string]any, len(entry.Extra)+1)
	for k, v := range entry.Extra {
		if k == "error" || k == "attempts" {
			continue
		}
		queued[k] = v
	}
	queued["redrives"] = redriveCount(entry.Extra) + 1

	c.logger.Info("re-driving document", "doc_id", id, "previous_status", entry.Status)
	return c.queueAndPublish(ctx, msg, queued)
}

func messageFromExtra(id string, extra map[string]any) (model.IngestMessage, error) {
	name, _ := extra["filename"].(string)
	location, _ := extra["location"].(string)
	source, _ := extra["source"].(string)
	if name == "" || location == "" || source == "" {
		return model.IngestMessage{}, fmt.Errorf("%w: %s lacks filename, location or source", ErrNotRedrivable, id)
	}
	return model.IngestMessage{
		ID:        id,
		Source:    source,
		Name:      name,
		URL:       location,
		Extension: Extension(name),
		Payload:   map[string]any{},
	}, nil
}

func redriveCount(extra map[string]any) int {
	switch v := extra["redrives"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// queuedExtra is what the ingestion stage keeps while queued. It holds
// enough to rebuild the ingest message.
func queuedExtra(msg model.IngestMessage) map[string]any {
	return map[string]any{
		"filename": msg.Name,
		"location": msg.URL,
		"source":   msg.Source,
	}
}

func parseSourceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, &ValidationError{Reason: "invalid url"}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, nil
	default:
		return nil, &ValidationError{Reason: "invalid url: only http(s) urls are allowed"}
	}
}

// StoredName is the blob key of an upload: the document id joined to the
// original filename with path separators replaced.
func StoredName(id, filename string) string {
	name := strings.TrimSpace(filename)
	if name == "" {
		name = "document." + model.DefaultExtension
	}
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	return id + "_" + name
}

// FilenameFromURL derives a display filename from the last path segment.
func FilenameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	if !strings.Contains(base, ".") {
		base += "." + model.DefaultExtension
	}
	return base
}

// Extension returns the lowercase extension of filename without the dot.
func Extension(filename string) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if ext == "" {
		return model.DefaultExtension
	}
	return strings.ToLower(ext)
}
