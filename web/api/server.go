package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/replay-orchestrator/internal/history"
	"github.com/hochfrequenz/replay-orchestrator/internal/observer"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
)

// HistoryStore is the part of the history database the API reads
type HistoryStore interface {
	ListBatches(limit int) ([]history.BatchRecord, error)
	GetBatch(id string) (history.BatchRecord, error)
	ListJobs(batchID string) ([]history.JobRecord, error)
}

// Defaults fill in a batch request that leaves fields empty
type Defaults struct {
	ReplaysDir string
	OutputDir  string
	Reprocess  bool
}

// Config wires the server to the running orchestrator
type Config struct {
	Addr     string
	Host     *orchestrator.Host
	Store    HistoryStore       // optional
	Observer *observer.Observer // optional
	Hub      *Hub               // created when nil; pass one to share with the orchestrator sink
	Defaults Defaults
	Logger   *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	host     *orchestrator.Host
	store    HistoryStore
	observer *observer.Observer
	defaults Defaults
	addr     string
	mux      *http.ServeMux
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{
		host:     cfg.Host,
		store:    cfg.Store,
		observer: cfg.Observer,
		defaults: cfg.Defaults,
		addr:     cfg.Addr,
		mux:      http.NewServeMux(),
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/batches", s.batchesHandler())
	s.mux.HandleFunc("/api/batches/", s.batchHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Sink returns an orchestrator sink that broadcasts to connected clients
func (s *Server) Sink() orchestrator.Sink {
	return s.hub.Sink()
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.CloseAll()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("web API listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Broadcast sends an event to all stream clients
func (s *Server) Broadcast(event Event) {
	s.hub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
