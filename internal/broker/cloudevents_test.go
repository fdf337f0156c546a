package broker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCloudEventsSessionPostsBinaryEvent(t *testing.T) {
	var (
		gotType  string
		gotQueue string
		gotCT    string
		gotBody  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Ce-Type")
		gotQueue = r.Header.Get("Ce-Queue")
		gotCT = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	session, err := NewCloudEventsDialer(srv.URL).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()

	env := Envelope{Subject: "document_ingest", ContentType: "application/json", Body: []byte(`{"data":{"id":"D1"}}`)}
	if err := session.Send(context.Background(), "ingestion-queue", env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotType != "document_ingest" || gotQueue != "ingestion-queue" {
		t.Fatalf("unexpected headers type=%q queue=%q", gotType, gotQueue)
	}
	if gotCT != "application/json" {
		t.Fatalf("unexpected content type %q", gotCT)
	}
	if gotBody != `{"data":{"id":"D1"}}` {
		t.Fatalf("unexpected body %s", gotBody)
	}
}

func TestCloudEventsSessionReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	session, err := NewCloudEventsDialer(srv.URL).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()

	err = session.Send(context.Background(), "q", Envelope{Subject: "s", ContentType: "application/json", Body: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}
