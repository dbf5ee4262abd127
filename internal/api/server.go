// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/toxipipe/internal/model"
	"github.com/sells-group/toxipipe/internal/normalize"
	"github.com/sells-group/toxipipe/internal/pipeline"
	"github.com/sells-group/toxipipe/internal/store"
)

// Server serves the toxicity pipeline API.
type Server struct {
	pipe  *pipeline.Pipeline
	store store.Store
	port  int
}

func NewServer(pipe *pipeline.Pipeline, st store.Store, port int) *Server {
	return &Server{pipe: pipe, store: st, port: port}
}

// Router builds the chi router with all routes mounted. Exposed separately
// from Run so tests can drive it with httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/posts", s.handleSubmitPosts)
	r.Post("/process", s.handleProcess)
	r.Get("/posts", s.handleListPosts)
	r.Get("/analyses", s.handleListAnalyses)
	r.Get("/stats", s.handleStats)
	r.Post("/analyze", s.handleAnalyzeText)
	r.Post("/clean", s.handleCleanText)

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", s.port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitPosts accepts a JSON array of posts and runs them through the
// pipeline. The response itemizes every post; malformed items are rejected
// individually, never the whole batch.
func (s *Server) handleSubmitPosts(w http.ResponseWriter, r *http.Request) {
	var posts []model.RawPost
	if err := json.NewDecoder(r.Body).Decode(&posts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: expected a JSON array of posts")
		return
	}
	if len(posts) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}

	results := s.pipe.ProcessBatch(r.Context(), posts)
	writeJSON(w, http.StatusOK, map[string]any{
		"submitted": len(posts),
		"results":   results,
	})
}

// handleProcess kicks off processing of stored posts that have no analysis
// yet. The work runs in the background; the response only acknowledges it.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	go func() {
		results, err := s.pipe.ProcessUnanalyzed(context.Background(), limit)
		if err != nil {
			zap.L().Error("background processing failed", zap.Error(err))
			return
		}
		zap.L().Info("background processing complete", zap.Int("processed", len(results)))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	posts, err := s.store.ListPosts(r.Context(), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(posts), "posts": posts})
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	filter := store.AnalysisFilter{Limit: queryInt(r, "limit", 50)}
	if v := r.URL.Query().Get("min_toxicity"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "min_toxicity must be a number in [0,1]")
			return
		}
		filter.MinToxicity = f
	}

	recs, err := s.store.ListAnalyses(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(recs), "analyses": recs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("recompute") == "true" {
		snap, err := s.pipe.Stats().Recompute(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Stats().Snapshot())
}

type textRequest struct {
	Text string `json:"text"`
}

// handleAnalyzeText scores one text without persisting anything.
func (s *Server) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	rec, err := s.pipe.AnalyzeText(r.Context(), req.Text)
	if err != nil {
		if model.IsOracle(err) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCleanText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"text":         req.Text,
		"cleaned_text": normalize.Normalize(req.Text),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	zap.L().Error("store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "storage unavailable")
}
