package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/example/docpipe/api-go/internal/blob"
	"github.com/example/docpipe/api-go/internal/broker"
	"github.com/example/docpipe/api-go/internal/intake"
	"github.com/example/docpipe/api-go/internal/model"
	"github.com/example/docpipe/api-go/internal/status"
	"github.com/example/docpipe/api-go/internal/store"
)

type memBroker struct {
	mu   sync.Mutex
	sent []broker.Envelope
}

func (b *memBroker) Dial(ctx context.Context) (broker.Session, error) { return b, nil }

func (b *memBroker) Send(ctx context.Context, destination string, env broker.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, env)
	return nil
}

func (b *memBroker) Close() error { return nil }

type stubIntake struct {
	err error
}

func (s stubIntake) Intake(ctx context.Context, req intake.Request) (intake.Result, error) {
	return intake.Result{}, s.err
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLite, *memBroker) {
	t.Helper()
	ledger, err := store.OpenSQLite(filepath.Join(t.TempDir(), "status.db"), "")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mb := &memBroker{}
	pub := broker.NewPublisher[model.Envelope](mb, broker.Options{}, logger)
	coord := intake.New(ledger, blob.LocalFS{Root: t.TempDir()}, pub, intake.Options{Queue: "ingestion-queue", MarkPublishFailures: true}, logger)

	srv := httptest.NewServer(Server{
		Intake: coord,
		Status: status.NewService(ledger),
		Stages: ledger,
	}.Router())
	t.Cleanup(srv.Close)
	return srv, ledger, mb
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestIngestURLThenPollStatus(t *testing.T) {
	srv, _, mb := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/api/ingest", url.Values{"sourceUrl": {"https://example.org/docs/report.pdf"}})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	id, _ := body["doc_id"].(string)
	if id == "" {
		t.Fatalf("missing doc_id in %v", body)
	}
	if len(mb.sent) != 1 {
		t.Fatalf("expected one published message, got %d", len(mb.sent))
	}

	resp, err = http.Get(srv.URL + "/api/status/" + id)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	view := decode(t, resp)
	states, _ := view["states"].(map[string]any)
	ingestion, _ := states["ingestion"].(map[string]any)
	if ingestion["status"] != model.StatusQueued {
		t.Fatalf("unexpected ingestion entry %v", ingestion)
	}
	if view["complete"] != false || view["failed"] != false {
		t.Fatalf("unexpected flags %v", view)
	}
}

func TestIngestMultipartFile(t *testing.T) {
	srv, ledger, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "invoice.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte("%PDF-1.4"))
	_ = mw.Close()

	resp, err := http.Post(srv.URL+"/api/ingest", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	id, _ := decode(t, resp)["doc_id"].(string)

	rec, err := ledger.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	entry := rec.States[model.StageIngestion]
	if entry.Status != model.StatusQueued || entry.Extra["filename"] != "invoice.pdf" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestIngestJSONBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/ingest", "application/json", strings.NewReader(`{"sourceUrl":"http://example.org/x"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	srv, ledger, mb := newTestServer(t)

	for _, form := range []url.Values{{}, {"sourceUrl": {"ftp://example.org/a.pdf"}}} {
		resp, err := http.PostForm(srv.URL+"/api/ingest", form)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
		if body := decode(t, resp); body["error"] == nil {
			t.Fatalf("expected error field, got %v", body)
		}
	}
	recs, err := ledger.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(recs) != 0 || len(mb.sent) != 0 {
		t.Fatalf("side effects on bad input: records=%d sent=%d", len(recs), len(mb.sent))
	}
}

func TestIngestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		key  string
	}{
		{&intake.StorageError{DocumentID: "x", Err: errors.New("disk full")}, http.StatusInternalServerError, "detail"},
		{&intake.LedgerError{DocumentID: "x", Err: errors.New("down")}, http.StatusInternalServerError, "detail"},
		{&intake.PublishError{DocumentID: "x", Err: errors.New("broker gone")}, http.StatusBadGateway, "detail"},
		{&intake.ValidationError{Reason: "no input"}, http.StatusBadRequest, "error"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(Server{Intake: stubIntake{err: tc.err}}.Router())
		resp, err := http.PostForm(srv.URL+"/api/ingest", url.Values{"sourceUrl": {"https://example.org/a"}})
		if err != nil {
			srv.Close()
			t.Fatalf("POST: %v", err)
		}
		body := decode(t, resp)
		srv.Close()
		if resp.StatusCode != tc.code {
			t.Fatalf("%T: expected %d, got %d", tc.err, tc.code, resp.StatusCode)
		}
		if body[tc.key] == nil {
			t.Fatalf("%T: expected %q in %v", tc.err, tc.key, body)
		}
	}
}

func TestStatusNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status/unknown-id")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["error"] != "not_found" || body["doc_id"] != "unknown-id" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSetStageAndList(t *testing.T) {
	srv, ledger, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/status/D5/stages/validation",
		strings.NewReader(`{"status":"ok","extra":{"pages":3,"bytes":9007199254740993}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	rec, err := ledger.GetStatus(context.Background(), "D5")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if entry := rec.States["validation"]; entry.Status != "ok" || entry.Extra["pages"] != int64(3) || entry.Extra["bytes"] != int64(9007199254740993) {
		t.Fatalf("unexpected entry %+v", entry)
	}

	bad, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/status/D5/stages/bad.stage", strings.NewReader(`{"status":"ok"}`))
	resp, err = http.DefaultClient.Do(bad)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid stage, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	docs, _ := decode(t, resp)["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
