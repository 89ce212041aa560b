// Package internal holds cross-package tests that wire the real components
// together against an in-process bridge backend.
package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mdai-dev/kiosk/internal/bridge"
	"github.com/mdai-dev/kiosk/internal/config"
	"github.com/mdai-dev/kiosk/internal/control"
	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/history"
	"github.com/mdai-dev/kiosk/internal/liveness"
	"github.com/mdai-dev/kiosk/internal/phase"
	"github.com/mdai-dev/kiosk/internal/session"
	"github.com/mdai-dev/kiosk/internal/sim"
	"github.com/mdai-dev/kiosk/internal/worker"
)

// fakeBackend serves POST /auth and the /ws/hardware socket. Once the kiosk
// connects it plays the phone: joins, says hello and reports its platform
// id. Every upload is acknowledged.
type fakeBackend struct {
	srv        *httptest.Server
	platformID string

	mu      sync.Mutex
	uploads []map[string]any
}

func newFakeBackend(t *testing.T, platformID string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{platformID: platformID}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"token": "pair-123", "expires_in": 60})
	})
	mux.HandleFunc("/ws/hardware", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "pair-123" {
			http.Error(w, "bad token", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		script := []map[string]any{
			{"type": "joined", "role": "app"},
			{"type": "from_app", "data": map[string]any{"message": "hello"}},
			{"type": "from_app", "data": map[string]any{"platform_id": b.platformID}},
		}
		for _, msg := range script {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] != bridge.TypeToBackend {
				continue
			}
			b.mu.Lock()
			b.uploads = append(b.uploads, msg)
			b.mu.Unlock()
			ack := map[string]any{"type": "backend_response", "status_code": 200, "latency_ms": 12.5}
			if err := conn.WriteJSON(ack); err != nil {
				return
			}
		}
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
}

func (b *fakeBackend) uploaded() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.uploads...)
}

func integrationConfig() *config.Config {
	cfg := config.Default()
	cfg.Phases = config.PhasesConfig{
		PairingRequestMs:         1,
		HelloHumanMs:             1,
		ScanPromptMs:             1,
		CompleteMs:               1,
		ErrorMs:                  1,
		ProcessingMinMs:          1,
		BackendAckTimeoutMs:      2000,
		AppReadyDefaultTimeoutMs: 5000,
	}
	cfg.Validation.DurationMs = 60
	cfg.Validation.SliceMs = 20
	cfg.Validation.MinPassingFrames = 3
	cfg.Validation.WarmupColdMs = 1
	cfg.Validation.WarmupWarmMs = 1
	cfg.Presence.GracePeriodMs = 50
	cfg.Watchdog.CancelTimeoutMs = 1000
	cfg.Events.HeartbeatIntervalMs = 0
	return cfg
}

type kiosk struct {
	arbiter *hardware.Arbiter
	orch    *session.Orchestrator
	bus     *event.Bus
	control *httptest.Server
}

func newKiosk(t *testing.T, backend *fakeBackend) *kiosk {
	t.Helper()
	cfg := integrationConfig()

	pool := worker.New(2, nil)
	t.Cleanup(pool.Close)
	bus := event.NewBus()
	t.Cleanup(bus.Close)

	camera := sim.NewCamera(0, nil)
	arbiter := hardware.NewArbiter(camera, pool, nil)

	collectorCfg := sim.DefaultCollectorConfig()
	collectorCfg.FrameInterval = 2 * time.Millisecond
	selector := liveness.NewSelector(sim.NewCollector(camera, collectorCfg),
		liveness.Config{Slice: cfg.Validation.Slice()}, nil, nil)

	proxy := bridge.NewProxy(
		bridge.NewHTTPTokenService(backend.srv.URL, "kiosk-key", time.Second),
		bridge.NewWSChannel(backend.wsURL(), nil),
		backend.srv.URL, backend.wsURL())

	rec, err := history.NewFileRecorder(t.TempDir()+"/history.json", 50)
	if err != nil {
		t.Fatal(err)
	}

	orch := session.New(cfg, session.Deps{
		Hardware: arbiter,
		Bridge:   proxy,
		Selector: selector,
		History:  rec,
		Events:   bus,
		Pool:     pool,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv := httptest.NewServer(control.NewServer(orch, arbiter, bus, 16, nil).Handler())
	t.Cleanup(srv.Close)

	return &kiosk{arbiter: arbiter, orch: orch, bus: bus, control: srv}
}

func (k *kiosk) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(k.control.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	resp.Body.Close()
	return resp
}

func (k *kiosk) sessions(t *testing.T) []history.Entry {
	t.Helper()
	resp, err := http.Get(k.control.URL + "/debug/sessions")
	if err != nil {
		t.Fatalf("GET /debug/sessions: %v", err)
	}
	defer resp.Body.Close()
	var reply struct {
		Sessions []history.Entry `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatal(err)
	}
	return reply.Sessions
}

func (k *kiosk) waitForSession(t *testing.T) history.Entry {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if entries := k.sessions(t); len(entries) > 0 {
			return entries[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no session recorded")
	return history.Entry{}
}

func collectPhases(sub *event.Subscription) func() []phase.Phase {
	var (
		mu     sync.Mutex
		phases []phase.Phase
	)
	go func() {
		for e := range sub.C {
			if e.Type == event.TypeState {
				mu.Lock()
				phases = append(phases, e.Phase)
				mu.Unlock()
			}
		}
	}()
	return func() []phase.Phase {
		mu.Lock()
		defer mu.Unlock()
		return append([]phase.Phase(nil), phases...)
	}
}

func TestKiosk_PresenceToUpload(t *testing.T) {
	backend := newFakeBackend(t, "plat-9")
	k := newKiosk(t, backend)
	phases := collectPhases(k.bus.SubscribeAll(256))

	if resp := k.post(t, "/debug/presence", `{"present":true,"distance_mm":320}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("presence status = %d", resp.StatusCode)
	}

	entry := k.waitForSession(t)
	if entry.Outcome != history.OutcomeSuccess {
		t.Fatalf("outcome = %s (%s), want success", entry.Outcome, entry.Message)
	}
	if entry.PlatformID != "plat-9" || entry.PhaseReached != phase.Complete.String() {
		t.Errorf("entry = %+v", entry)
	}

	uploads := backend.uploaded()
	if len(uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(uploads))
	}
	data, _ := uploads[0]["data"].(map[string]any)
	if data["platform_id"] != "plat-9" || data["image_base64"] == "" {
		t.Errorf("upload data = %v", data)
	}

	want := []phase.Phase{
		phase.PairingRequest, phase.HelloHuman, phase.ScanPrompt, phase.QrDisplay,
		phase.HumanDetect, phase.Processing, phase.Complete, phase.Idle,
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(phases()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := phases()
	if len(got) < len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i, p := range want {
		if got[i] != p {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}

	if k.arbiter.Status().Total != 0 {
		t.Errorf("hardware references leaked: %+v", k.arbiter.Status())
	}
}

func TestKiosk_SimulatedNoFaceShowsError(t *testing.T) {
	// The app never reports a platform id; the operator forces app-ready
	// with a no-face scenario instead.
	backend := newFakeBackend(t, "")
	k := newKiosk(t, backend)
	sub := k.bus.SubscribeAll(256)

	if resp := k.post(t, "/debug/trigger", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("trigger status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
waitQR:
	for {
		select {
		case e := <-sub.C:
			if e.Type == event.TypeState && e.Phase == phase.QrDisplay {
				break waitQR
			}
		case <-time.After(time.Until(deadline)):
			t.Fatal("never reached qr_display")
		}
	}

	resp := k.post(t, "/debug/app-ready", `{"platform_id":"bench","simulate_no_face":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("app-ready status = %d", resp.StatusCode)
	}

	entry := k.waitForSession(t)
	if entry.Outcome != history.OutcomeFlowError || entry.Message != errors.ErrNoFace.Error() {
		t.Errorf("entry = %+v, want no-face flow error", entry)
	}
	if len(backend.uploaded()) != 0 {
		t.Error("nothing should be uploaded after a failed selection")
	}
	if k.arbiter.Status().Total != 0 {
		t.Errorf("hardware references leaked: %+v", k.arbiter.Status())
	}
}
