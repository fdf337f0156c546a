package model_test

import (
	"testing"

	"github.com/example/docpipe/api-go/internal/model"
)

func allStages(status string) map[string]model.StageEntry {
	states := make(map[string]model.StageEntry, len(model.PipelineStages))
	for _, stage := range model.PipelineStages {
		states[stage] = model.StageEntry{Status: status}
	}
	return states
}

func TestCompleteRequiresEveryStageSucceeded(t *testing.T) {
	mixed := allStages(model.StatusOK)
	mixed[model.StageEmbedding] = model.StageEntry{Status: model.StatusCompleted}

	missing := allStages(model.StatusOK)
	delete(missing, model.StageNotification)

	failed := allStages(model.StatusOK)
	failed[model.StagePIIScanning] = model.StageEntry{Status: model.StatusError}

	failedAlt := allStages(model.StatusCompleted)
	failedAlt[model.StageSearchIndex] = model.StageEntry{Status: model.StatusFailed}

	running := allStages(model.StatusOK)
	running[model.StageExtractor] = model.StageEntry{Status: model.StatusProcessing}

	cases := []struct {
		name   string
		states map[string]model.StageEntry
		want   bool
	}{
		{"all ok", allStages(model.StatusOK), true},
		{"ok and completed", mixed, true},
		{"missing stage", missing, false},
		{"error stage", failed, false},
		{"failed stage", failedAlt, false},
		{"running stage", running, false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := model.StatusRecord{ID: "D1", States: tc.states}
			if got := rec.Complete(); got != tc.want {
				t.Fatalf("Complete() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]model.Class{
		"":                        model.ClassPending,
		model.StatusQueued:        model.ClassPending,
		model.StatusSubmitted:     model.ClassPending,
		model.StatusStarted:       model.ClassRunning,
		model.StatusGenerating:    model.ClassRunning,
		"OK":                      model.ClassSuccess,
		model.StatusCompleted:     model.ClassSuccess,
		model.StatusFailed:        model.ClassFailure,
		model.StatusPublishFailed: model.ClassFailure,
		"quarantined":             model.ClassUnknown,
	}
	for status, want := range cases {
		if got := model.Classify(status); got != want {
			t.Errorf("Classify(%q) = %s, want %s", status, got, want)
		}
	}
	if !model.Terminal(model.StatusError) || model.Terminal(model.StatusQueued) {
		t.Fatal("unexpected terminal classification")
	}
}

func TestProgressFillsMissingStagesAndKeepsUnknown(t *testing.T) {
	rec := model.StatusRecord{
		ID: "D1",
		States: map[string]model.StageEntry{
			model.StageIngestion: {Status: model.StatusQueued, TS: "t1"},
			"ocr":                {Status: "quarantined", TS: "t2"},
		},
	}

	rows := rec.Progress()
	if len(rows) != len(model.PipelineStages)+1 {
		t.Fatalf("expected %d rows, got %d", len(model.PipelineStages)+1, len(rows))
	}
	if rows[0].Stage != model.StageIngestion || rows[0].Status != model.StatusQueued {
		t.Fatalf("unexpected first row: %#v", rows[0])
	}
	if rows[1].Status != model.StatusNotStarted {
		t.Fatalf("expected validation to be not-started, got %q", rows[1].Status)
	}
	last := rows[len(rows)-1]
	if last.Stage != "ocr" || last.Status != "quarantined" || last.Class != model.ClassUnknown {
		t.Fatalf("unknown stage not preserved: %#v", last)
	}
	if rec.Failed() {
		t.Fatal("record should not be failed")
	}
}

func TestValidStageName(t *testing.T) {
	for _, name := range []string{"ingestion", "pii-scanning", "data_storage", "stage2"} {
		if !model.ValidStageName(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}
	for _, name := range []string{"", "states.x", "$set", "-lead", `a"b`, "a b"} {
		if model.ValidStageName(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}
