package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	alarmapp "leakwatch/internal/alarms/application"
	alarms "leakwatch/internal/alarms/domain"
	"leakwatch/internal/audit"
	"leakwatch/internal/auth"
	telemetry "leakwatch/internal/telemetry/domain"
)

type stubController struct {
	state  alarms.State
	result alarmapp.DismissResult
	err    error
	calls  int
}

func (s *stubController) State() alarms.State { return s.state }

func (s *stubController) Dismiss(context.Context) (alarmapp.DismissResult, error) {
	s.calls++
	return s.result, s.err
}

func newRouter(t *testing.T, controller AlertController, logger audit.Logger, broker *SSEBroker) chi.Router {
	t.Helper()
	handler, err := NewHandler(controller, logger, broker, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func activeState() alarms.State {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return alarms.State{
		Phase:       alarms.PhaseActive,
		EpisodeID:   "ep-1",
		Snapshot:    &alarms.Snapshot{BurstType: telemetry.BurstCatastrophic, Confidence: 91, ObservationID: 7},
		TriggeredAt: &at,
		PrevBurst:   true,
	}
}

func TestHandler_State(t *testing.T) {
	router := newRouter(t, &stubController{state: activeState()}, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/alert", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["phase"] != "Active" || body["episode_id"] != "ep-1" {
		t.Fatalf("unexpected body %v", body)
	}
	snap, _ := body["snapshot"].(map[string]any)
	if snap["burst_type"] != "CATASTROPHIC BURST" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}

func TestHandler_DismissAudited(t *testing.T) {
	state := activeState()
	controller := &stubController{result: alarmapp.DismissResult{
		Effective: true,
		Marked:    true,
		Event: &alarms.Event{
			Type:      alarms.EventDismissed,
			Seq:       3,
			EpisodeID: "ep-1",
			Snapshot:  state.Snapshot,
			At:        time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
		},
		State: alarms.NewState(),
	}}
	logger := audit.NewMemoryLogger()
	router := newRouter(t, controller, logger, nil)

	req := httptest.NewRequest(http.MethodPost, "/dismiss", nil)
	req.Header.Set("User-Agent", "dashboard/1.0")
	req.Header.Set("X-Forwarded-For", "10.0.0.9")
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleOperator, "op-1"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["success"] != true || body["dismissed"] != true || body["effective"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	entries := logger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Actor != "op-1" || entry.Role != "operator" || entry.ResourceID != "ep-1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.IP != "10.0.0.9" || entry.UserAgent != "dashboard/1.0" || entry.Action != audit.ActionAlertDismiss {
		t.Fatalf("unexpected request details %+v", entry)
	}
	var meta map[string]any
	_ = json.Unmarshal(entry.Metadata, &meta)
	if meta["observation_id"] != float64(7) || meta["marked"] != true {
		t.Fatalf("unexpected metadata %v", meta)
	}
}

func TestHandler_DismissIdleIsSuccessWithoutAudit(t *testing.T) {
	controller := &stubController{result: alarmapp.DismissResult{State: alarms.NewState()}}
	logger := audit.NewMemoryLogger()
	router := newRouter(t, controller, logger, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/dismiss", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"dismissed":true`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
	if len(logger.Entries()) != 0 {
		t.Fatalf("expected no audit entry for idle dismiss")
	}
}

func TestHandler_DismissFailure(t *testing.T) {
	controller := &stubController{err: errors.Join(alarms.ErrDismissFailed, errors.New("disk full"))}
	router := newRouter(t, controller, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/dismiss", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Database error") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestHandler_DismissRequiresPost(t *testing.T) {
	controller := &stubController{}
	router := newRouter(t, controller, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/dismiss", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if controller.calls != 0 {
		t.Fatalf("dismiss should not run on GET")
	}
}

func TestNewHandler_NilController(t *testing.T) {
	if _, err := NewHandler(nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStream_DeliversEvents(t *testing.T) {
	broker := NewSSEBroker()
	server := httptest.NewServer(newRouter(t, &stubController{}, nil, broker))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/alert/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line := readLine(t, reader); line != "event: ready" {
		t.Fatalf("unexpected first line %q", line)
	}
	readLine(t, reader)
	readLine(t, reader)

	broker.Notify(context.Background(), alarms.Event{Type: alarms.EventTriggered, Seq: 1, EpisodeID: "ep-9"})

	if line := readLine(t, reader); line != "event: triggered" {
		t.Fatalf("unexpected event line %q", line)
	}
	data := readLine(t, reader)
	if !strings.HasPrefix(data, "data: ") || !strings.Contains(data, `"episode_id":"ep-9"`) {
		t.Fatalf("unexpected data line %q", data)
	}
}

func TestBroker_DropsWhenClientSlow(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	for i := 0; i < 32; i++ {
		broker.Notify(context.Background(), alarms.Event{Type: alarms.EventEscalated, Seq: uint64(i)})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected buffer full, got %d", len(ch))
	}
	broker.Unsubscribe(ch)
	if broker.Clients() != 0 {
		t.Fatalf("expected no clients")
	}
}

func TestBroker_NotifyWhileUnsubscribing(t *testing.T) {
	broker := NewSSEBroker()
	event := alarms.Event{Type: alarms.EventTriggered, EpisodeID: "ep-1"}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			broker.Notify(context.Background(), event)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			ch := broker.Subscribe()
			broker.Unsubscribe(ch)
			broker.Unsubscribe(ch)
		}
	}()
	wg.Wait()
	if broker.Clients() != 0 {
		t.Fatalf("expected no clients, got %d", broker.Clients())
	}
}

func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\n")
}
