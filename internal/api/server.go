// Package api serves the bridge's HTTP endpoints: the latest sample, health,
// and a websocket feed of the latest sample.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dyluth/pacer/internal/state"
	"golang.org/x/net/websocket"
)

// Readiness reports whether the bridge is consuming.
type Readiness interface {
	Ready() bool
}

// Options configures a Server.
type Options struct {
	Addr              string        // Listen address (default ":8000")
	ConsumerGroup     string        // Reported by /healthz
	BroadcastInterval time.Duration // How often /ws checks the cache for changes (default 250ms)
}

// Server provides the HTTP API. It only ever reads the cache.
type Server struct {
	cache *state.Cache
	ready Readiness
	opts  Options

	server   *http.Server
	listener net.Listener

	// streamMu orders stream registration against Shutdown so that no
	// streams.Add happens once Shutdown is waiting.
	streamMu sync.Mutex
	closing  chan struct{}
	closed   bool
	streams  sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(cache *state.Cache, ready Readiness, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = 250 * time.Millisecond
	}

	return &Server{
		cache:   cache,
		ready:   ready,
		opts:    opts,
		closing: make(chan struct{}),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest-data", s.latestDataHandler)
	mux.HandleFunc("/healthz", s.healthCheckHandler)
	mux.Handle("/ws", websocket.Handler(s.streamLatest))
	return mux
}

// Start binds the listen address and serves in the background.
// Bind errors are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] API server error: %v", err)
		}
	}()

	log.Printf("[INFO] API listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, ends websocket feeds and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.streamMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	s.streamMu.Unlock()

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// latestDataHandler handles GET /latest-data.
// Returns the latest sample, or the placeholder with 503 until one arrives.
func (s *Server) latestDataHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.cache.Read()

	status := http.StatusOK
	if !snap.HasSample {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

// healthCheckHandler handles GET /healthz.
// Returns 200 OK while the bridge is consuming, 503 Service Unavailable otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:        "UP",
		ConsumerGroup: s.opts.ConsumerGroup,
	}

	if s.ready == nil || !s.ready.Ready() {
		response.Status = "DOWN"
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// streamLatest pushes the snapshot on connect and again whenever it changes.
func (s *Server) streamLatest(conn *websocket.Conn) {
	defer conn.Close()
	if !s.trackStream() {
		return
	}
	defer s.streams.Done()

	// Clients send nothing; a read error means they went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard []byte
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	last := s.cache.Read()
	if err := websocket.JSON.Send(conn, last); err != nil {
		return
	}

	ticker := time.NewTicker(s.opts.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closing:
			return
		case <-gone:
			return
		case <-ticker.C:
			snap := s.cache.Read()
			if snap == last {
				continue
			}
			if err := websocket.JSON.Send(conn, snap); err != nil {
				log.Printf("[DEBUG] Websocket client %s dropped: %v", conn.Request().RemoteAddr, err)
				return
			}
			last = snap
		}
	}
}

// trackStream registers a feed unless Shutdown has begun.
func (s *Server) trackStream() bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.closed {
		return false
	}
	s.streams.Add(1)
	return true
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status        string `json:"status"`
	ConsumerGroup string `json:"consumer_group"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[WARN] Failed to write response: %v", err)
	}
}
