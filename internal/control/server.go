// Package control exposes the debug and test control surface over HTTP.
//
// The routes drive the same entry points as the real collaborators:
// simulated presence goes through the presence trigger, app-ready through
// the session's app-ready path. They are meant for bench and integration
// runs, not for the production kiosk UI.
package control

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/history"
	"github.com/mdai-dev/kiosk/internal/liveness"
	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/session"
)

// DefaultSessionsLimit is used when /debug/sessions has no limit.
const DefaultSessionsLimit = 20

// Session is the orchestrator side of the surface.
type Session interface {
	Status() session.Status
	OnPresence(present bool, distanceMM int)
	ScheduleSession() bool
	MarkAppReady(platformID string, scenario liveness.Scenario) bool
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Hardware is the arbiter side of the surface.
type Hardware interface {
	Status() hardware.Status
	Request(ctx context.Context, id hardware.RequesterID, active bool) error
}

// Server serves the control routes.
type Server struct {
	router    *mux.Router
	sess      Session
	hw        Hardware
	bus       *event.Bus
	queueSize int
	logger    *logging.Logger
	upgrader  websocket.Upgrader
}

// NewServer creates a Server. bus may be nil, in which case /events is not
// routed.
func NewServer(sess Session, hw Hardware, bus *event.Bus, queueSize int, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if queueSize <= 0 {
		queueSize = event.DefaultQueueSize
	}
	s := &Server{
		router:    mux.NewRouter(),
		sess:      sess,
		hw:        hw,
		bus:       bus,
		queueSize: queueSize,
		logger:    logger.WithComponent("control"),
		upgrader: websocket.Upgrader{
			// The surface is bound to the kiosk's local interface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/debug/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/debug/presence", s.handlePresence).Methods(http.MethodPost)
	r.HandleFunc("/debug/trigger", s.handleTrigger).Methods(http.MethodPost)
	r.HandleFunc("/debug/app-ready", s.handleAppReady).Methods(http.MethodPost)
	r.HandleFunc("/debug/hardware", s.handleHardwareStatus).Methods(http.MethodGet)
	r.HandleFunc("/debug/hardware", s.handleHardwareRequest).Methods(http.MethodPost)
	r.HandleFunc("/debug/sessions", s.handleSessions).Methods(http.MethodGet)
	if s.bus != nil {
		r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control surface listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("control request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes an optional JSON body into v. An empty body is fine.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.sess.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"phase":   st.Phase,
		"running": st.Running,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Status())
}

type presenceRequest struct {
	Present    bool `json:"present"`
	DistanceMM int  `json:"distance_mm"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid presence payload")
		return
	}
	s.logger.Info("simulated presence", "present", req.Present, "distance_mm", req.DistanceMM)
	s.sess.OnPresence(req.Present, req.DistanceMM)

	st := s.sess.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"present": req.Present,
		"phase":   st.Phase,
		"running": st.Running,
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.sess.ScheduleSession() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"started": false,
			"error":   "session already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

type appReadyRequest struct {
	PlatformID string `json:"platform_id"`
	liveness.Scenario
}

func (s *Server) handleAppReady(w http.ResponseWriter, r *http.Request) {
	var req appReadyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid app-ready payload")
		return
	}
	if !s.sess.Status().Running {
		writeError(w, http.StatusConflict, "no session in progress")
		return
	}

	acknowledged := s.sess.MarkAppReady(req.PlatformID, req.Scenario)
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged": acknowledged,
		"platform_id":  req.PlatformID,
		"scenario": map[string]bool{
			"no_face":       req.NoFace,
			"lost_tracking": req.LostTracking,
			"liveness_fail": req.LivenessFail,
		},
	})
}

func (s *Server) handleHardwareStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hw.Status())
}

type hardwareRequest struct {
	Requester string `json:"requester"`
	Active    bool   `json:"active"`
}

func (s *Server) handleHardwareRequest(w http.ResponseWriter, r *http.Request) {
	var req hardwareRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid hardware payload")
		return
	}
	id, err := hardware.ParseRequester(req.Requester)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Session requesters are owned by the orchestrator.
	if id != hardware.Preview && id != hardware.Debug {
		writeError(w, http.StatusForbidden, "requester "+id.String()+" is not controllable")
		return
	}

	if err := s.hw.Request(r.Context(), id, req.Active); err != nil {
		s.logger.Warn("hardware request failed", "requester", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.hw.Status())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := DefaultSessionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.sess.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("failed to read session history", "error", err)
		writeError(w, http.StatusServiceUnavailable, "session history unavailable")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}
