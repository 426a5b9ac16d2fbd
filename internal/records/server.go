package records

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/sharedstate"
	"github.com/zjrosen/fedhost/internal/tracing"
)

// HeaderRequestID carries a per-request id between client and server.
const HeaderRequestID = "X-Request-ID"

const maxBodyBytes = 1 << 20

// ServerConfig configures the mock record service.
type ServerConfig struct {
	// RecordID is the id served at /user. Defaults to "user_123".
	RecordID string
	// FailRate is the fraction (0..1) of write requests answered with 500.
	FailRate float64
	// Rand returns a value in [0,1); defaults to math/rand.
	Rand func() float64
}

// Server serves GET, PUT and PATCH /user from a Repository.
type Server struct {
	repo     *Repository
	recordID string
	failRate float64

	randMu sync.Mutex
	rand   func() float64
}

// NewServer creates a server over repo.
func NewServer(repo *Repository, cfg ServerConfig) *Server {
	if cfg.RecordID == "" {
		cfg.RecordID = "user_123"
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return &Server{repo: repo, recordID: cfg.RecordID, failRate: cfg.FailRate, rand: cfg.Rand}
}

// Handler returns the HTTP handler for the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /user", tracing.Middleware(nil, "records.get", http.HandlerFunc(s.get)))
	mux.Handle("PUT /user", tracing.Middleware(nil, "records.put", http.HandlerFunc(s.put)))
	mux.Handle("PATCH /user", tracing.Middleware(nil, "records.patch", http.HandlerFunc(s.patch)))
	return withRequestID(mux)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	rec, err := s.repo.Get(r.Context(), s.recordID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) put(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, s.repo.Put)
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, s.repo.Patch)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, store func(context.Context, string, sharedstate.Record) (sharedstate.Record, error)) {
	var fields sharedstate.Record
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&fields); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if s.shouldFail() {
		log.Warn(log.CatRecords, "Injected failure", "method", r.Method, "request_id", w.Header().Get(HeaderRequestID))
		writeError(w, r, http.StatusInternalServerError, errors.New("injected failure"))
		return
	}
	rec, err := store(r.Context(), s.recordID, fields)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	log.Debug(log.CatRecords, "Record written", "method", r.Method, "fields", len(fields))
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) shouldFail() bool {
	if s.failRate <= 0 {
		return false
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand() < s.failRate
}

// withRequestID echoes the caller's request id, or assigns one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	log.ErrorErr(log.CatRecords, "Request failed", err, "method", r.Method, "path", r.URL.Path, "status", status)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
