package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/WessleyAI/pagerag/engine/agent"
	"github.com/WessleyAI/pagerag/engine/domain"
	"github.com/WessleyAI/pagerag/engine/pdfpage"
	"github.com/WessleyAI/pagerag/engine/retrieval"
	"github.com/WessleyAI/pagerag/pkg/mid"
)

// maxFilesPerUpload bounds one multipart request.
const maxFilesPerUpload = 8

// service is the part of agent.Orchestrator the HTTP handlers use.
type service interface {
	Index(ctx context.Context, files []agent.File) (agent.IndexResult, error)
	Answer(ctx context.Context, query string) agent.AnswerResult
}

type serverDeps struct {
	svc      service
	imageDir string
	metrics  http.Handler
	origins  []string
	logger   *slog.Logger
}

func newHandler(d serverDeps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/agent/health", handleHealth)
	mux.HandleFunc("POST /api/query/", handleQuery(d.svc))
	mux.HandleFunc("POST /api/agent/query", handleQuery(d.svc))
	mux.Handle("POST /api/index", mid.Chain(handleIndex(d.svc, d.logger), mid.MaxBody(maxFilesPerUpload*domain.MaxUploadBytes)))
	mux.Handle("POST /api/agent/upload", mid.Chain(handleIndex(d.svc, d.logger), mid.MaxBody(maxFilesPerUpload*domain.MaxUploadBytes)))
	mux.HandleFunc("GET /api/evidence/{name}", handleEvidence(d.imageDir))
	if d.metrics != nil {
		mux.Handle("GET /metrics", d.metrics)
	}

	return mid.Chain(mux,
		mid.OTel("pagerag"),
		mid.Recover(d.logger),
		mid.Logger(d.logger),
		mid.CORS(d.origins...),
	)
}

func runServer(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pagerag server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueryRequest is the JSON body of the query endpoints.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse carries the answer text under "response" plus routing and
// evidence details.
type QueryResponse struct {
	Response string             `json:"response"`
	Status   string             `json:"status"`
	Route    string             `json:"route"`
	Degraded bool               `json:"degraded,omitempty"`
	Evidence []EvidenceResponse `json:"evidence,omitempty"`
}

// EvidenceResponse points at a stored page image instead of inlining it.
type EvidenceResponse struct {
	URL      string                 `json:"url"`
	Metadata retrieval.EvidenceMeta `json:"metadata"`
}

func handleQuery(svc service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			mid.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		if _, err := domain.ValidateQuery(req.Query); err != nil {
			mid.WriteError(w, http.StatusBadRequest, "invalid query", err.Error())
			return
		}

		res := svc.Answer(r.Context(), req.Query)
		out := QueryResponse{Response: res.Text, Status: res.Status, Route: res.Route, Degraded: res.Degraded}
		for _, ev := range res.Evidence {
			out.Evidence = append(out.Evidence, EvidenceResponse{
				URL:      "/api/evidence/" + filepath.Base(ev.ImagePath),
				Metadata: ev.Metadata,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// IndexResponse is agent.IndexResult plus per-document problems.
type IndexResponse struct {
	agent.IndexResult
	Errors string `json:"errors,omitempty"`
}

func handleIndex(svc service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(domain.MaxUploadBytes); err != nil {
			status := http.StatusBadRequest
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				status = http.StatusRequestEntityTooLarge
			}
			mid.WriteError(w, status, "invalid multipart upload", err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := append(r.MultipartForm.File["file"], r.MultipartForm.File["files"]...)
		if len(headers) == 0 {
			mid.WriteError(w, http.StatusBadRequest, "no files uploaded", `use the "file" form field`)
			return
		}
		if len(headers) > maxFilesPerUpload {
			mid.WriteError(w, http.StatusBadRequest, "too many files", "")
			return
		}

		files := make([]agent.File, 0, len(headers))
		for _, fh := range headers {
			data, err := readPart(fh)
			if err != nil {
				logger.Warn("cannot read upload", "file", fh.Filename, "err", err)
				continue
			}
			files = append(files, agent.File{Name: fh.Filename, Data: data})
		}

		res, err := svc.Index(r.Context(), files)
		out := IndexResponse{IndexResult: res}
		if err != nil {
			out.Errors = err.Error()
		}
		status := http.StatusOK
		if res.PagesIndexed == 0 {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, out)
	}
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, domain.MaxUploadBytes+1))
}

// handleEvidence serves stored page images. Only names produced by the
// extractor are accepted.
func handleEvidence(imageDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, _, ok := pdfpage.ParseImageName(name); !ok || name != filepath.Base(name) {
			mid.WriteError(w, http.StatusNotFound, "evidence not found", "")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		http.ServeFile(w, r, filepath.Join(imageDir, name))
	}
}
