package fragments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/pubsub"
	"github.com/zjrosen/fedhost/internal/remote"
	"github.com/zjrosen/fedhost/internal/tracing"
	"github.com/zjrosen/fedhost/internal/watcher"
)

// ManifestPath is where the manifest is served.
const ManifestPath = "/remoteEntry.json"

// Server serves one directory as a remote module.
type Server struct {
	dir string

	mu      sync.RWMutex
	site    *site
	loadErr error
}

// NewServer loads dir. The initial load must succeed.
func NewServer(dir string) (*Server, error) {
	s, err := load(dir)
	if err != nil {
		return nil, err
	}
	log.Info(log.CatRemote, "Serving module", "name", s.def.Name, "dir", dir, "exposes", s.keys())
	return &Server{dir: dir, site: s}, nil
}

// Reload re-reads the directory. On error the previous definition keeps
// being served and the error is returned.
func (s *Server) Reload() error {
	next, err := load(s.dir)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.loadErr = err
		log.ErrorErr(log.CatRemote, "Reload failed, keeping previous definition", err, "dir", s.dir)
		return err
	}
	changes := manifestChanges(s.site.manifest(), next.manifest())
	s.site = next
	s.loadErr = nil
	log.Info(log.CatRemote, "Module reloaded", "name", next.def.Name, "version", next.def.Version, "manifest_changes", len(changes))
	for _, c := range changes {
		log.Debug(log.CatRemote, "Manifest changed", "line", c)
	}
	return nil
}

// LastReloadError returns the error from the most recent failed reload, or nil.
func (s *Server) LastReloadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Watch reloads whenever files in the directory change, until ctx ends.
func (s *Server) Watch(ctx context.Context) error {
	w, err := watcher.New(watcher.DefaultConfig(s.dir))
	if err != nil {
		return err
	}
	events := w.Subscribe(ctx)
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}
	log.SafeGo("fragments.watch", func() {
		defer func() { _ = w.Stop() }()
		for ev := range events {
			if ev.Type == pubsub.ReloadedEvent {
				log.Debug(log.CatWatcher, "Reloading after change", "files", ev.Payload)
				_ = s.Reload()
			}
		}
	})
	return nil
}

func (s *Server) current() *site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.site
}

// Handler returns the HTTP handler: GET /remoteEntry.json and
// POST /fragments/{name}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+ManifestPath, tracing.Middleware(nil, "fragments.manifest", http.HandlerFunc(s.serveManifest)))
	mux.Handle("POST /fragments/{name}", tracing.Middleware(nil, "fragments.render", http.HandlerFunc(s.serveFragment)))
	return withCORS(mux)
}

func (s *Server) serveManifest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.current().manifest())
}

func (s *Server) serveFragment(w http.ResponseWriter, r *http.Request) {
	site := s.current()
	key, ok := site.paths[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if status := site.def.Exposes[key].Status; status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	var req remote.RenderRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := site.render(key, req)
	if err != nil {
		log.ErrorErr(log.CatRemote, "Template failed", err, "expose", key)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// withCORS lets browser-based hosts fetch fragments during development.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
