package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/listing"
	"github.com/datadavev/mnstatus/internal/metrics"
	"github.com/datadavev/mnstatus/internal/probe"
	"github.com/datadavev/mnstatus/internal/registry"
)

// NodeService defines the operations the server exposes.
type NodeService interface {
	Nodes(ctx context.Context, q probe.NodeQuery) ([]registry.Node, error)
	CheckNode(ctx context.Context, ref string, tests []checker.Category, refresh bool) (registry.Node, error)
	Objects(ctx context.Context, q probe.ObjectQuery) (*listing.Iterator, error)
}

// Server holds the chi router and its dependencies.
type Server struct {
	svc     NodeService
	metrics *metrics.Metrics
	router  chi.Router
	logger  *slog.Logger
}

// New creates a new Server and registers all routes. m may be nil, in which
// case /metrics is not served.
func New(svc NodeService, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:     svc,
		metrics: m,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/nodes", s.handleListNodes)
	r.Get("/api/nodes/{id}", s.handleGetNode)
	r.Get("/api/nodes/{id}/objects", s.handleListObjects)
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// --- Query helpers ---

// tests reads the repeatable, comma separated "test" parameter.
func tests(r *http.Request) ([]checker.Category, error) {
	var names []string
	for _, v := range r.URL.Query()["test"] {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	return checker.ParseCategories(names)
}

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + " parameter")
	}
	return n, nil
}

// statusFor maps service errors onto response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, probe.ErrInvalidQuery), errors.Is(err, checker.ErrUnknownCategory):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	cats, err := tests(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nodes, err := s.svc.Nodes(r.Context(), probe.NodeQuery{
		State:   r.URL.Query().Get("state"),
		Type:    r.URL.Query().Get("type"),
		Tests:   cats,
		Refresh: boolParam(r, "refresh"),
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadGateway {
			s.logger.Error("Nodes", "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cats, err := tests(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	node, err := s.svc.CheckNode(r.Context(), id, cats, boolParam(r, "refresh"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadGateway {
			s.logger.Error("CheckNode", "node", id, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type objectsResponse struct {
	Objects []listing.ObjectInfo `json:"objects"`
	Total   int                  `json:"total"`
	Dropped int                  `json:"dropped,omitempty"`
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	const maxLimit = 1000

	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxLimit {
		limit = maxLimit
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	it, err := s.svc.Objects(r.Context(), probe.ObjectQuery{
		Node:   id,
		Source: probe.Source(r.URL.Query().Get("source")),
		Offset: offset,
		Max:    limit,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := objectsResponse{Objects: []listing.ObjectInfo{}}
	for it.Next(r.Context()) {
		resp.Objects = append(resp.Objects, it.Object())
	}
	if err := it.Err(); err != nil {
		s.logger.Error("Objects", "node", id, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp.Total = it.Total()
	resp.Dropped = it.Dropped()
	writeJSON(w, http.StatusOK, resp)
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
