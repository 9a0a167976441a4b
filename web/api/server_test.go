package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/history"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/replay-orchestrator/internal/report"
	"github.com/hochfrequenz/replay-orchestrator/internal/testsupport"
)

type mockStore struct {
	batches []history.BatchRecord
}

func (m *mockStore) ListBatches(limit int) ([]history.BatchRecord, error) {
	return m.batches, nil
}

func (m *mockStore) GetBatch(id string) (history.BatchRecord, error) {
	for _, b := range m.batches {
		if strings.HasPrefix(b.ID, id) {
			return b, nil
		}
	}
	return history.BatchRecord{}, history.ErrNotFound
}

func (m *mockStore) ListJobs(batchID string) ([]history.JobRecord, error) {
	return nil, nil
}

type fixture struct {
	server  *Server
	http    *httptest.Server
	replays string
	out     string
}

func newFixture(t *testing.T, store HistoryStore) *fixture {
	t.Helper()
	hub := NewHub()
	o, err := orchestrator.New(orchestrator.Options{
		Run: func(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
			time.Sleep(20 * time.Millisecond)
			return domain.ConversionResult{}
		},
		Sink: hub.Sink(),
	})
	if err != nil {
		t.Fatal(err)
	}

	host := orchestrator.NewHost(o, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		host.Run(ctx)
	}()

	f := &fixture{replays: t.TempDir(), out: t.TempDir()}
	f.server = NewServer(Config{
		Host:     host,
		Store:    store,
		Hub:      hub,
		Defaults: Defaults{ReplaysDir: f.replays, OutputDir: f.out},
	})
	f.http = httptest.NewServer(f.server.Handler())

	t.Cleanup(func() {
		f.http.Close()
		cancel()
		<-stopped
		o.Shutdown(context.Background())
	})
	return f
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	resp, err := http.Post(f.http.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	f.server.statusHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if !status.Idle {
		t.Error("fresh orchestrator should be idle")
	}
	if status.Capacity != 1 {
		t.Errorf("Capacity = %d, want 1", status.Capacity)
	}
}

func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest("POST", "/api/status", nil)
	w := httptest.NewRecorder()
	f.server.statusHandler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", w.Code)
	}
}

func TestStartBatchAndFetchReport(t *testing.T) {
	f := newFixture(t, nil)
	testsupport.WriteReplay(t, f.replays, "match1.dem", 2_000_000)

	resp := f.post(t, "/api/batches", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", resp.StatusCode)
	}
	var created BatchResponse
	json.NewDecoder(resp.Body).Decode(&created)
	if created.Total != 1 {
		t.Fatalf("Total = %d, want 1", created.Total)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(f.http.URL + "/api/batches/" + created.ShortID)
		if err != nil {
			t.Fatal(err)
		}
		var rep report.Report
		json.NewDecoder(r.Body).Decode(&rep)
		r.Body.Close()

		if rep.Status == "finished" {
			if rep.Summary.Converted != 1 {
				t.Errorf("Converted = %d, want 1", rep.Summary.Converted)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch did not finish, last status %q", rep.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartBatch_BadDirectory(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, "/api/batches", BatchRequest{ReplaysDir: "/does/not/exist"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListBatches_IncludesHistory(t *testing.T) {
	finished := time.Now()
	store := &mockStore{batches: []history.BatchRecord{
		{ID: "feedbeef-0000", ReplaysDir: "/r", OutputDir: "/o", Total: 3, Completed: 2, Failed: 1, FinishedAt: &finished},
	}}
	f := newFixture(t, store)

	resp, err := http.Get(f.http.URL + "/api/batches")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var batches []BatchResponse
	json.NewDecoder(resp.Body).Decode(&batches)
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if batches[0].Status != "finished" || batches[0].Done != 3 {
		t.Errorf("batch = %+v", batches[0])
	}

	missing, _ := http.Get(f.http.URL + "/api/batches/00000000")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown batch status = %d, want 404", missing.StatusCode)
	}
}

func TestAbandonUnknownBatch(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, "/api/batches/nope/abandon", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := newFixture(t, nil)
	testsupport.WriteReplay(t, f.replays, "match1.dem", 2_000_000)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for f.server.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := f.post(t, "/api/batches", nil)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var event struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read: %v", err)
		}
		if event.Type != EventProgress {
			continue
		}
		var p orchestrator.ProgressEvent
		json.Unmarshal(event.Data, &p)
		if p.Completed == p.Total && p.Total == 1 {
			return
		}
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for i := 0; i < clientBuffer+1; i++ {
		hub.Broadcast(Event{Type: EventLog})
	}

	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d, want slow client dropped", hub.Clients())
	}
	n := 0
	for range events {
		n++
	}
	if n != clientBuffer {
		t.Errorf("buffered events = %d, want %d", n, clientBuffer)
	}
}

func TestHub_SinkBroadcasts(t *testing.T) {
	hub := NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	sink := hub.Sink()
	sink.Progress(orchestrator.ProgressEvent{Completed: 1, Total: 2})
	sink.Log(orchestrator.LogEvent{Message: "match1.dem: converted"})

	if e := <-events; e.Type != EventProgress {
		t.Errorf("first event = %s, want progress", e.Type)
	}
	if e := <-events; e.Type != EventLog {
		t.Errorf("second event = %s, want log", e.Type)
	}
}
