// Package api provides the HTTP server and handlers.
package api

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/auth"
	"github.com/fruitsalade/aftp/internal/events"
	"github.com/fruitsalade/aftp/internal/fstree"
	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/internal/metrics"
	"github.com/fruitsalade/aftp/internal/quota"
	"github.com/fruitsalade/aftp/internal/storage"
	"github.com/fruitsalade/aftp/pkg/protocol"
)

// Pool gzip writers to reduce allocations on tree/subtree endpoints.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Server is the HTTP server.
type Server struct {
	tree          *fstree.Store
	content       *storage.Content
	auth          *auth.Auth
	rateLimiter   *quota.RateLimiter
	broadcaster   *events.Broadcaster
	maxUploadSize int64
}

// NewServer creates a new server. rateLimiter and broadcaster may be nil.
func NewServer(
	tree *fstree.Store,
	content *storage.Content,
	authHandler *auth.Auth,
	rateLimiter *quota.RateLimiter,
	broadcaster *events.Broadcaster,
	maxUploadSize int64,
) *Server {
	if rateLimiter == nil {
		rateLimiter = quota.NewRateLimiter(0)
	}
	metrics.SetTreeSize(tree.Size())
	return &Server{
		tree:          tree,
		content:       content,
		auth:          authHandler,
		rateLimiter:   rateLimiter,
		broadcaster:   broadcaster,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Read endpoints
	mux.HandleFunc("GET /api/v1/tree", s.handleTree)
	mux.HandleFunc("GET /api/v1/tree/{path...}", s.handleTree)
	mux.HandleFunc("GET /api/v1/children", s.handleChildren)
	mux.HandleFunc("GET /api/v1/children/{path...}", s.handleChildren)
	mux.HandleFunc("GET /api/v1/subtree", s.handleSubtree)
	mux.HandleFunc("GET /api/v1/subtree/{path...}", s.handleSubtree)
	mux.HandleFunc("GET /api/v1/raw/{path...}", s.handleRaw)

	// Write endpoints: allow-list first, then the per-caller rate limit
	mux.Handle("PUT /api/v1/tree/{path...}", s.writer(s.handleCreate))
	mux.Handle("DELETE /api/v1/tree", s.writer(s.handleDelete))
	mux.Handle("DELETE /api/v1/tree/{path...}", s.writer(s.handleDelete))

	// SSE endpoint
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) writer(h http.HandlerFunc) http.Handler {
	limited := quota.RateLimitMiddleware(s.rateLimiter, auth.ClientFromContext)(h)
	return s.auth.RequireWriter(limited)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.HealthResponse{Status: "ok", Entries: s.tree.Size()})
}

// requestPath canonicalizes the {path...} wildcard of r.
func requestPath(r *http.Request) []string {
	return fstree.Canonicalize(fstree.SplitPath(r.PathValue("path")))
}

// openAt returns a handle positioned at path, or writes the error and
// returns nil.
func (s *Server) openAt(w http.ResponseWriter, r *http.Request, op string, path []string) *fstree.Handle {
	h := s.tree.Handle()
	if err := h.ChangeHead(path); err != nil {
		s.fail(w, r, op, fstree.JoinPath(path), err)
		return nil
	}
	return h
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		s.sendError(w, http.StatusNotFound, "events disabled", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	prefix := fstree.JoinPath(fstree.Canonicalize(fstree.SplitPath(r.URL.Query().Get("path"))))

	// Subscribe before the headers go out so a client that has seen the
	// response cannot miss the next mutation.
	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logging.WithContext(r.Context()).Debug("SSE client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("prefix", prefix))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if !events.Within(event.Path, prefix) {
				continue
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes an event to the broadcaster if available.
func (s *Server) publishEvent(eventType, path string, entry protocol.EntryType, files int) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:      eventType,
		Path:      path,
		EntryType: entry,
		Files:     files,
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// sendJSON writes v with status code, gzip-compressed when the client
// accepts it.
func sendJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(code)
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(v)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps tree, access and transport errors onto HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, fstree.ErrForbidden):
		return http.StatusForbidden
	case fstree.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// resultLabel is the metrics label for the outcome of a tree operation.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, fstree.ErrForbidden):
		return "forbidden"
	case fstree.IsNotFound(err):
		return "not_found"
	default:
		return "failed"
	}
}

// fail records and reports a failed tree operation on path.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op, path string, err error) {
	metrics.RecordFSOperation(op, resultLabel(err))
	code := statusFor(err)
	logger := logging.WithContext(r.Context())
	fields := []zap.Field{zap.String("op", op), zap.String("path", path), zap.Error(err)}
	if code >= http.StatusInternalServerError {
		logger.Error("operation failed", fields...)
	} else {
		logger.Debug("operation rejected", fields...)
	}
	s.sendError(w, code, err.Error(), path)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
