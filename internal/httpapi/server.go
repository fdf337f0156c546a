package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/docpipe/api-go/internal/intake"
	"github.com/example/docpipe/api-go/internal/model"
	"github.com/example/docpipe/api-go/internal/status"
	"github.com/example/docpipe/api-go/internal/store"
)

const maxUploadBytes = 50 << 20

type Intaker interface {
	Intake(ctx context.Context, req intake.Request) (intake.Result, error)
}

type StageWriter interface {
	SetStageStatus(ctx context.Context, stage, id, status string, extra map[string]any) error
}

type Server struct {
	Intake Intaker
	Status *status.Service
	Stages StageWriter
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/status", s.handleListStatus)
		r.Get("/status/{id}", s.handleGetStatus)
		r.Put("/status/{id}/stages/{stage}", s.handleSetStage)
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	req, cleanup, err := readIngestRequest(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	defer cleanup()

	res, err := s.Intake.Intake(r.Context(), req)
	if err != nil {
		writeIntakeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": res.DocumentID})
}

// readIngestRequest accepts a multipart form with "file" or "sourceUrl", a
// urlencoded form with "sourceUrl", or a JSON body {"sourceUrl": "..."}.
func readIngestRequest(w http.ResponseWriter, r *http.Request) (intake.Request, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		var body struct {
			SourceURL string `json:"sourceUrl"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			return intake.Request{}, noop, fmt.Errorf("invalid JSON body: %w", err)
		}
		return intake.Request{SourceURL: body.SourceURL}, noop, nil

	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return intake.Request{}, noop, fmt.Errorf("parse multipart: %w", err)
		}
		cleanup := func() { _ = r.MultipartForm.RemoveAll() }
		req := intake.Request{SourceURL: r.FormValue("sourceUrl")}
		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			cleanup()
			return intake.Request{}, noop, fmt.Errorf("read 'file': %w", err)
		default:
			req.File = file
			req.Filename = header.Filename
			cleanup = closeAnd(file, cleanup)
		}
		return req, cleanup, nil

	default:
		if err := r.ParseForm(); err != nil {
			return intake.Request{}, noop, fmt.Errorf("parse form: %w", err)
		}
		return intake.Request{SourceURL: r.FormValue("sourceUrl")}, noop, nil
	}
}

func closeAnd(f multipart.File, next func()) func() {
	return func() {
		_ = f.Close()
		next()
	}
}

func (s Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.Status.Get(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "doc_id": id})
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s Server) handleListStatus(w http.ResponseWriter, r *http.Request) {
	views, err := s.Status.List(r.Context())
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": views})
}

func (s Server) handleSetStage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stage := chi.URLParam(r, "stage")

	var body struct {
		Status string         `json:"status"`
		Extra  map[string]any `json:"extra"`
	}
	if err := model.DecodeJSON(io.LimitReader(r.Body, 1<<20), &body); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	model.ExactNumbers(body.Extra)
	body.Status = strings.TrimSpace(body.Status)
	if body.Status == "" {
		writeErr(w, http.StatusBadRequest, errors.New("status is required"))
		return
	}

	err := s.Stages.SetStageStatus(r.Context(), stage, id, body.Status, body.Extra)
	switch {
	case errors.Is(err, store.ErrInvalidStage), errors.Is(err, store.ErrMissingID):
		writeErr(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeDetail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": id, "stage": stage, "status": body.Status})
}

func writeIntakeErr(w http.ResponseWriter, err error) {
	switch intake.Kind(err) {
	case intake.KindValidation:
		writeErr(w, http.StatusBadRequest, err)
	case intake.KindPublish:
		writeDetail(w, http.StatusBadGateway, err)
	default:
		writeDetail(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

func writeDetail(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"detail": err.Error()})
}
