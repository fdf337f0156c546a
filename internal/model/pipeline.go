package model

import (
	"sort"
	"strings"
)

// Stage names used by the core. Stage workers may report any other name.
const (
	StageIngestion    = "ingestion"
	StageValidation   = "validation"
	StagePIIScanning  = "pii-scanning"
	StageExtractor    = "extractor"
	StageEmbedding    = "embedding"
	StageDataStorage  = "data-storage"
	StageSearchIndex  = "search-index"
	StageNotification = "notification"
)

// PipelineStages is the fixed stage sequence a document must pass through
// before it is considered complete.
var PipelineStages = []string{
	StageIngestion,
	StageValidation,
	StagePIIScanning,
	StageExtractor,
	StageEmbedding,
	StageDataStorage,
	StageSearchIndex,
	StageNotification,
}

const (
	StatusNotStarted    = "not-started"
	StatusUploaded      = "uploaded"
	StatusSubmitted     = "submitted"
	StatusQueued        = "queued"
	StatusStarted       = "started"
	StatusProcessing    = "processing"
	StatusGenerating    = "generating"
	StatusOK            = "ok"
	StatusCompleted     = "completed"
	StatusError         = "error"
	StatusFailed        = "failed"
	StatusPublishFailed = "publish-failed"
)

// Class groups status tokens by what they mean to a reader.
type Class string

const (
	ClassPending Class = "pending"
	ClassRunning Class = "running"
	ClassSuccess Class = "success"
	ClassFailure Class = "failure"
	ClassUnknown Class = "unknown"
)

// Classify maps a status token to its class. Tokens outside the known
// vocabulary are ClassUnknown and must be rendered verbatim.
func Classify(status string) Class {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", StatusNotStarted, StatusUploaded, StatusSubmitted, StatusQueued:
		return ClassPending
	case StatusStarted, StatusProcessing, StatusGenerating:
		return ClassRunning
	case StatusOK, StatusCompleted:
		return ClassSuccess
	case StatusError, StatusFailed, StatusPublishFailed:
		return ClassFailure
	default:
		return ClassUnknown
	}
}

// Terminal reports whether no further transition is expected for status.
func Terminal(status string) bool {
	c := Classify(status)
	return c == ClassSuccess || c == ClassFailure
}

// StageProgress is one row of a per-document progress view.
type StageProgress struct {
	Stage  string
	Status string
	TS     string
	Extra  map[string]any
	Class  Class
}

// Complete reports whether every stage in PipelineStages has reported a
// success-class status.
func (r StatusRecord) Complete() bool {
	for _, stage := range PipelineStages {
		entry, ok := r.States[stage]
		if !ok || Classify(entry.Status) != ClassSuccess {
			return false
		}
	}
	return true
}

// Failed reports whether any stage, known or not, reported a failure.
func (r StatusRecord) Failed() bool {
	for _, entry := range r.States {
		if Classify(entry.Status) == ClassFailure {
			return true
		}
	}
	return false
}

// Progress lists the pipeline stages in order followed by any extra stages
// the record carries, filling absent pipeline stages with not-started.
func (r StatusRecord) Progress() []StageProgress {
	out := make([]StageProgress, 0, len(PipelineStages)+len(r.States))
	known := make(map[string]struct{}, len(PipelineStages))
	for _, stage := range PipelineStages {
		known[stage] = struct{}{}
		entry, ok := r.States[stage]
		if !ok {
			out = append(out, StageProgress{Stage: stage, Status: StatusNotStarted, Class: ClassPending})
			continue
		}
		out = append(out, progressRow(stage, entry))
	}

	extras := make([]string, 0)
	for stage := range r.States {
		if _, ok := known[stage]; !ok {
			extras = append(extras, stage)
		}
	}
	sort.Strings(extras)
	for _, stage := range extras {
		out = append(out, progressRow(stage, r.States[stage]))
	}
	return out
}

func progressRow(stage string, entry StageEntry) StageProgress {
	return StageProgress{
		Stage:  stage,
		Status: entry.Status,
		TS:     entry.TS,
		Extra:  entry.Extra,
		Class:  Classify(entry.Status),
	}
}
