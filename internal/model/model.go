package model

import (
	"errors"
	"regexp"
	"time"
)

var ErrNotFound = errors.New("not found")

// Source values carried by an IngestMessage.
const (
	SourceWebUpload = "web-upload"
	SourceWebURL    = "web-url"
)

// DefaultExtension is used when a filename carries no extension.
const DefaultExtension = "dat"

// IngestSubject tags broker messages that describe a document to ingest.
const IngestSubject = "document_ingest"

// IngestMessage is the sole description of what the first pipeline stage
// should process and where to find it.
type IngestMessage struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	Extension string         `json:"extension"`
	Payload   map[string]any `json:"payload"`
}

// Envelope mirrors the composite message consumed by the stage workers.
// Only Data is populated at intake; later stages fill the other sections.
type Envelope struct {
	Data       *IngestMessage `json:"data"`
	Validation map[string]any `json:"validation"`
	PII        map[string]any `json:"pii"`
	Metadata   map[string]any `json:"metadata"`
}

// StageEntry is the last status reported by one pipeline stage.
type StageEntry struct {
	Status string         `json:"status" bson:"status" firestore:"status"`
	TS     string         `json:"ts" bson:"ts" firestore:"ts"`
	Extra  map[string]any `json:"extra" bson:"extra" firestore:"extra"`
}

// StatusRecord is the ledger entry for one document.
//
// States is keyed by stage name and is open-ended: any stage a worker
// reports becomes a key.
type StatusRecord struct {
	ID        string                `json:"id" bson:"_id" firestore:"id"`
	CreatedAt string                `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt string                `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
	States    map[string]StageEntry `json:"states" bson:"states" firestore:"states"`
}

// TimestampLayout is a fixed-width ISO-8601 layout, so stored timestamps
// sort lexically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t the way ledger timestamps are stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

var stageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidStageName reports whether name can be used as a states key on every
// ledger backend.
func ValidStageName(name string) bool {
	return stageNamePattern.MatchString(name)
}
