// Package relayhttp serves the token payload contract over HTTP so local
// consumers can read the current token without talking to a remote backend.
// The handler implements the same protocol the serverless backend speaks:
// POST stores a validated payload, GET returns it with 404 when nothing is
// stored and 410 once the stored token has expired.
package relayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"clsrelay/internal/relay"
	"clsrelay/pkg/logx"
)

// Config controls the optional local relay endpoint.
type Config struct {
	Enabled bool
	Addr    string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:8787"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	return c
}

// Server is the HTTP front for the current token payload. It doubles as a
// relay backend target: pointing a serverless descriptor at its address
// round-trips through the same code paths a remote function would.
type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	now func() time.Time

	store payloadStore

	ln  net.Listener
	srv *http.Server
}

// payloadStore holds the last accepted payload.
type payloadStore struct {
	mu   sync.RWMutex
	p    relay.Payload
	held bool
}

func (s *payloadStore) put(p relay.Payload) {
	s.mu.Lock()
	s.p = p
	s.held = true
	s.mu.Unlock()
}

func (s *payloadStore) get() (relay.Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p, s.held
}

func New(cfg Config, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log, cfg: cfg.withDefaults(), now: time.Now}
}

// Addr returns the bound listen address, empty when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// SetPayload seeds or replaces the served payload from inside the process.
// The coordinator calls this after each successful refresh so GET works even
// when no external writer ever POSTs.
func (s *Server) SetPayload(p relay.Payload) {
	s.store.put(p)
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	if !s.cfg.Enabled {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("relay http server stopped", logx.Err(err))
		}
	}()

	s.log.Info("relay http listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

// Handler exposes the route table without requiring a running listener, so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	// Browser consumers read the token cross-origin; keep CORS permissive.
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		s.handlePut(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	default:
		h.Set("Allow", "GET, POST, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var p relay.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.store.put(p)
	s.log.Debug("relay http payload stored",
		logx.Int64("expire_timestamp", p.ExpireTimestamp),
		logx.String("platform", p.Platform))
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, held := s.store.get()
	if !held {
		writeJSONError(w, http.StatusNotFound, "no token payload stored")
		return
	}
	// Expiry is always recomputed at read time; the stored document carries
	// no authority over its own freshness.
	if p.Expired(s.now()) {
		writeJSONError(w, http.StatusGone, "stored token payload has expired")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
