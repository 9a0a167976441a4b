package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/history"
	"github.com/hochfrequenz/replay-orchestrator/internal/observer"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/replay-orchestrator/internal/outlock"
	"github.com/hochfrequenz/replay-orchestrator/internal/replay"
	"github.com/hochfrequenz/replay-orchestrator/internal/report"
)

// historyLimit caps how many stored batches /api/batches returns
const historyLimit = 50

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Idle           bool                `json:"idle"`
	ActiveWorkers  int                 `json:"active_workers"`
	Capacity       int                 `json:"capacity"`
	RunningBatches int                 `json:"running_batches"`
	Clients        int                 `json:"stream_clients"`
	Metrics        *observer.Metrics   `json:"metrics,omitempty"`
	Stuck          []observer.StuckJob `json:"stuck,omitempty"`
}

// BatchResponse is the API response for a batch
type BatchResponse struct {
	ID         string     `json:"id"`
	ShortID    string     `json:"short_id"`
	ReplaysDir string     `json:"replays_dir"`
	OutputDir  string     `json:"output_dir"`
	Reprocess  bool       `json:"reprocess"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Done       int        `json:"done"`
	Converted  int        `json:"converted"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// BatchRequest is the body of POST /api/batches
type BatchRequest struct {
	ReplaysDir string `json:"replays_dir,omitempty"`
	OutputDir  string `json:"output_dir,omitempty"`
	Reprocess  *bool  `json:"reprocess,omitempty"`
}

func batchStatus(finished, abandoned bool) string {
	switch {
	case abandoned:
		return "abandoned"
	case finished:
		return "finished"
	default:
		return "running"
	}
}

func batchToResponse(b *domain.Batch) BatchResponse {
	counts := b.Counts()
	return BatchResponse{
		ID:         b.ID,
		ShortID:    b.ShortID(),
		ReplaysDir: b.ReplaysDir,
		OutputDir:  b.OutputDir,
		Reprocess:  b.Reprocess,
		Status:     batchStatus(b.Finished(), b.Abandoned),
		Total:      b.Progress.Total,
		Done:       b.Progress.Completed,
		Converted:  counts[domain.StatusCompleted],
		Skipped:    counts[domain.StatusSkipped],
		Failed:     counts[domain.StatusFailed],
		StartedAt:  b.StartedAt,
		FinishedAt: b.FinishedAt,
	}
}

func recordToResponse(r history.BatchRecord) BatchResponse {
	return BatchResponse{
		ID:         r.ID,
		ShortID:    r.ShortID(),
		ReplaysDir: r.ReplaysDir,
		OutputDir:  r.OutputDir,
		Reprocess:  r.Reprocess,
		Status:     batchStatus(r.FinishedAt != nil, r.Abandoned),
		Total:      r.Total,
		Done:       r.Completed + r.Skipped + r.Failed,
		Converted:  r.Completed,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// liveBatches returns snapshots of the batches held by the orchestrator
func (s *Server) liveBatches(r *http.Request) ([]*domain.Batch, error) {
	var batches []*domain.Batch
	err := s.host.Do(r.Context(), func(o *orchestrator.Orchestrator) {
		for _, b := range o.Batches() {
			batches = append(batches, b.Clone())
		}
	})
	return batches, err
}

func findLive(batches []*domain.Batch, id string) *domain.Batch {
	for _, b := range batches {
		if b.ID == id || strings.HasPrefix(b.ID, id) {
			return b
		}
	}
	return nil
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var resp StatusResponse
		err := s.host.Do(r.Context(), func(o *orchestrator.Orchestrator) {
			resp.Idle = o.Idle()
			resp.ActiveWorkers = o.ActiveWorkers()
			resp.Capacity = o.Capacity()
			for _, b := range o.Batches() {
				if !b.Finished() {
					resp.RunningBatches++
				}
			}
		})
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		resp.Clients = s.hub.Clients()
		if s.observer != nil {
			m := s.observer.GetMetrics()
			resp.Metrics = &m
			resp.Stuck = s.observer.Stuck()
		}

		writeJSON(w, resp)
	}
}

func (s *Server) batchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listBatches(w, r)
		case http.MethodPost:
			s.startBatch(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	live, err := s.liveBatches(r)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := make([]BatchResponse, 0, len(live))
	seen := make(map[string]bool, len(live))
	for i := len(live) - 1; i >= 0; i-- {
		resp = append(resp, batchToResponse(live[i]))
		seen[live[i].ID] = true
	}

	if s.store != nil {
		records, err := s.store.ListBatches(historyLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, rec := range records {
			if !seen[rec.ID] {
				resp = append(resp, recordToResponse(rec))
			}
		}
	}

	writeJSON(w, resp)
}

func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	req := orchestrator.BatchRequest{
		ReplaysDir: s.defaults.ReplaysDir,
		OutputDir:  s.defaults.OutputDir,
		Reprocess:  s.defaults.Reprocess,
	}
	if body.ReplaysDir != "" {
		req.ReplaysDir = body.ReplaysDir
	}
	if body.OutputDir != "" {
		req.OutputDir = body.OutputDir
	}
	if body.Reprocess != nil {
		req.Reprocess = *body.Reprocess
	}

	b, err := s.host.Submit(r.Context(), req)
	switch {
	case errors.Is(err, outlock.ErrLocked):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, orchestrator.ErrHostStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, replay.ErrDirNotFound), errors.Is(err, replay.ErrNotADir),
		errors.Is(err, replay.ErrDirNotReadable), errors.Is(err, replay.ErrDirNotWritable):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONStatus(w, http.StatusCreated, batchToResponse(b))
}

// batchHandler serves /api/batches/{id} and /api/batches/{id}/abandon
func (s *Server) batchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/batches/")
		id, action, _ := strings.Cut(path, "/")
		if id == "" {
			writeError(w, http.StatusNotFound, "batch id required")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			s.getBatch(w, r, id)
		case action == "abandon" && r.Method == http.MethodPost:
			s.abandonBatch(w, r, id)
		case action == "" || action == "abandon":
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request, id string) {
	live, err := s.liveBatches(r)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if b := findLive(live, id); b != nil {
		writeJSON(w, report.FromBatch(b))
		return
	}

	if s.store == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	rec, err := s.store.GetBatch(id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.store.ListJobs(rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, report.Build(rec, jobs))
}

func (s *Server) abandonBatch(w http.ResponseWriter, r *http.Request, id string) {
	var abandonErr error
	var resp BatchResponse
	err := s.host.Do(r.Context(), func(o *orchestrator.Orchestrator) {
		var target *domain.Batch
		for _, b := range o.Batches() {
			if b.ID == id || strings.HasPrefix(b.ID, id) {
				target = b
				break
			}
		}
		if target == nil {
			abandonErr = orchestrator.ErrUnknownBatch
			return
		}
		abandonErr = o.Abandon(target.ID)
		resp = batchToResponse(target)
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if errors.Is(abandonErr, orchestrator.ErrUnknownBatch) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if abandonErr != nil {
		writeError(w, http.StatusInternalServerError, abandonErr.Error())
		return
	}
	writeJSON(w, resp)
}
