package session

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/mdai-dev/kiosk/internal/bridge"
	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/history"
	"github.com/mdai-dev/kiosk/internal/liveness"
	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/phase"
)

// Display messages for failures raised by the session itself.
const (
	MsgCameraActivation = "Camera activation failed"
	MsgUploadFailed     = "Failed to upload image"
)

// historyTimeout bounds the history write during cleanup.
const historyTimeout = 2 * time.Second

// run is one scheduled session.
type run struct {
	o      *Orchestrator
	gen    uint64
	sess   *Context
	logger *logging.Logger
}

// execute runs the session and always cleans up.
func (r *run) execute(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := r.steps(ctx)
	kind := errors.Classify(err)

	var message string
	switch kind {
	case errors.KindNone:
		r.logger.Info("session completed")
	case errors.KindCanceled:
		message = cancelReason(ctx)
		r.logger.Info("session cancelled", "reason", message)
	case errors.KindFlow:
		message = errors.UserMessage(err)
		r.fail(ctx, err)
	default:
		message = err.Error()
		r.fail(ctx, err)
	}

	r.cleanup(ctx, kind, message)
}

// steps is the happy path. Every error it returns is a flow error, an
// unexpected error, or a cancellation.
func (r *run) steps(ctx context.Context) error {
	if err := r.pair(ctx); err != nil {
		return err
	}
	if err := r.greet(ctx); err != nil {
		return err
	}
	if err := r.awaitApp(ctx); err != nil {
		return err
	}
	res, err := r.validate(ctx)
	if err != nil {
		return err
	}
	if err := r.process(ctx, res); err != nil {
		return err
	}
	return r.complete(ctx, res)
}

// advance transitions the phase if this session still owns it.
func (r *run) advance(ctx context.Context, p phase.Phase, opts ...AdvanceOption) error {
	o := applyAdvance(opts)
	if o.minDuration > 0 {
		if err := r.o.ctrl.EnsureDuration(ctx, o.minDuration); err != nil {
			return err
		}
	}

	r.o.mu.Lock()
	defer r.o.mu.Unlock()
	if r.o.gen != r.gen {
		return errDetached
	}
	r.o.ctrl.set(p, o.data, o.errMsg)
	r.sess.reached(p)
	return nil
}

func (r *run) pair(ctx context.Context) error {
	cfg := r.o.cfg.Phases

	r.o.hw.SetMode(hardware.ModeActive)
	r.sess.hold(hardware.ActiveSession)
	if err := r.o.hw.Request(ctx, hardware.ActiveSession, true); err != nil {
		// Pre-warm only; validation retries the bring-up.
		r.logger.Warn("camera pre-warm failed", "error", err)
	}

	if err := r.advance(ctx, phase.PairingRequest); err != nil {
		return err
	}
	tok, err := r.o.bridge.IssueToken(ctx)
	if err != nil {
		return err
	}
	r.sess.setToken(tok)
	r.logger.Info("pairing token issued", "expires_in", tok.ExpiresIn.String())

	return r.o.ctrl.EnsureDuration(ctx, cfg.PairingRequest())
}

func (r *run) greet(ctx context.Context) error {
	cfg := r.o.cfg.Phases

	if err := r.advance(ctx, phase.HelloHuman); err != nil {
		return err
	}
	return r.advance(ctx, phase.ScanPrompt,
		WithMinDuration(cfg.HelloHuman()),
		WithData(map[string]any{"message": "Scan the QR code with the app"}),
	)
}

func (r *run) awaitApp(ctx context.Context) error {
	cfg := r.o.cfg.Phases

	r.sess.mu.Lock()
	token := r.sess.token
	r.sess.mu.Unlock()

	qr := r.o.bridge.QRPayload(token.Value)
	r.sess.setMeta("qr_payload", qr.Map())

	handler := func(msg bridge.Message) { r.o.handleMessage(ctx, r.sess, msg) }
	if err := r.o.bridge.Connect(ctx, token.Value, handler); err != nil {
		return err
	}

	if err := r.advance(ctx, phase.QrDisplay,
		WithMinDuration(cfg.ScanPrompt()),
		WithData(map[string]any{
			"token":      token.Value,
			"expires_in": token.ExpiresIn.Seconds(),
			"qr_payload": qr.Map(),
		}),
	); err != nil {
		return err
	}

	timeout := bridge.AppReadyTimeout(token, cfg.AppReadyDefaultTimeout())
	r.logger.Info("waiting for mobile app", "timeout", timeout.String())

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-r.sess.appReady:
		return nil
	case <-t.C:
		return errors.NewFlowError(bridge.MsgAppReadyTimeout,
			errors.NewTimeoutError("app_ready", timeout).WithCause(errors.ErrAppReadyTimeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) validate(ctx context.Context) (*liveness.Result, error) {
	cfg := r.o.cfg.Validation

	r.o.hw.SetMode(hardware.ModeValidation)
	warm := r.o.hw.Active()
	r.sess.hold(hardware.Validation)
	if err := r.o.hw.Request(ctx, hardware.Validation, true); err != nil {
		if errors.IsCanceled(ctx.Err()) {
			return nil, ctx.Err()
		}
		return nil, errors.NewFlowError(MsgCameraActivation, err)
	}
	defer r.release(ctx, hardware.Validation)

	if err := r.advance(ctx, phase.HumanDetect); err != nil {
		return nil, err
	}
	// Presence now belongs to frame selection.
	r.o.trigger.Reset()

	warmup := cfg.WarmupCold()
	if warm {
		warmup = cfg.WarmupWarm()
	}
	if err := sleep(ctx, warmup); err != nil {
		return nil, err
	}

	label := r.sess.platform()
	if label == "" {
		label = "unknown"
	}
	req := liveness.Request{
		Duration:   cfg.Duration(),
		MinPassing: cfg.MinPassingFrames,
		Scenario:   r.sess.currentScenario(),
		Label:      label,
	}
	metrics := func(data map[string]any) {
		r.o.publish(event.NewMetrics(phase.HumanDetect, data))
	}

	res, err := r.o.selector.Collect(ctx, req, metrics)
	if err != nil {
		return nil, err
	}
	r.logger.Info("best frame selected", "score", res.Score, "passing", res.Passing, "total", res.Total)
	return res, nil
}

func (r *run) process(ctx context.Context, res *liveness.Result) error {
	cfg := r.o.cfg.Phases

	if err := r.advance(ctx, phase.Processing, WithData(res.Diagnostics())); err != nil {
		return err
	}

	var jpeg []byte
	err := r.o.pool.Do(ctx, "encode_frame", func() error {
		var encErr error
		jpeg, encErr = res.Best.JPEG()
		return encErr
	})
	if err != nil {
		if errors.IsCanceled(err) {
			return err
		}
		return errors.NewUnexpectedError("encode_frame", err)
	}
	b64 := base64.StdEncoding.EncodeToString(jpeg)
	r.sess.setBestFrame(b64)

	platformID := r.sess.platform()
	if platformID == "" {
		return errors.NewUnexpectedError("upload", errors.ErrPlatformMissing)
	}
	if err := r.o.bridge.Send(ctx, bridge.UploadPayload(platformID, b64)); err != nil {
		if errors.IsCanceled(err) {
			return err
		}
		return errors.NewFlowError(MsgUploadFailed, errors.Join(errors.ErrUploadFailed, err))
	}
	r.logger.Info("frame uploaded", "platform_id", platformID, "bytes", len(jpeg))

	if err := r.awaitAck(ctx, cfg.BackendAckTimeout()); err != nil {
		return err
	}
	return r.o.ctrl.EnsureDuration(ctx, cfg.ProcessingMin())
}

// awaitAck waits for the backend response. A missing acknowledgment is
// logged and tolerated so the kiosk keeps predictable timing.
func (r *run) awaitAck(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg := <-r.sess.ack:
		r.logger.Info("backend acknowledged upload", "status_code", msg.StatusCode, "latency_ms", msg.LatencyMs)
		return nil
	case <-t.C:
		r.logger.Warn("no backend acknowledgment, continuing",
			"error", errors.NewTimeoutError("backend_ack", timeout).WithCause(errors.ErrAckTimeout))
		r.sess.setMeta("ack_timeout", true)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) complete(ctx context.Context, res *liveness.Result) error {
	data := res.Diagnostics()
	data["platform_id"] = r.sess.platform()
	if err := r.advance(ctx, phase.Complete, WithData(data)); err != nil {
		return err
	}
	return sleep(ctx, r.o.cfg.Phases.Complete())
}

// fail shows the error phase for a flow or unexpected error.
func (r *run) fail(ctx context.Context, err error) {
	current := r.o.ctrl.Phase()
	var flow *errors.FlowError
	if errors.As(err, &flow) && flow.Phase == "" {
		flow.WithPhase(current.String())
	}

	if errors.Classify(err) == errors.KindUnexpected {
		r.logger.Error("unexpected session error", "phase", current.String(), "error", err)
	} else {
		r.logger.Warn("session failed", "phase", current.String(), "error", err)
	}

	msg := errors.UserMessage(err)
	if err := r.advance(ctx, phase.Error, WithError(msg)); err != nil {
		return
	}
	if err := sleep(ctx, r.o.cfg.Phases.Error()); err != nil {
		r.logger.Debug("error dwell interrupted", "error", err)
	}
}

// release drops one hardware reference held by this session.
func (r *run) release(ctx context.Context, id hardware.RequesterID) {
	if !r.sess.unhold(id) {
		return
	}
	if err := r.o.hw.Request(context.WithoutCancel(ctx), id, false); err != nil {
		r.logger.Warn("hardware release failed", "requester", id.String(), "error", err)
	}
}

// cleanup runs on every exit. A session detached by ForceIdle only gives
// back its own hardware references; the kiosk state already belongs to
// whoever forced idle.
func (r *run) cleanup(ctx context.Context, kind errors.Kind, message string) {
	ctx = context.WithoutCancel(ctx)
	o := r.o

	for id, n := range r.sess.takeHolds() {
		for range n {
			if err := o.hw.Request(ctx, id, false); err != nil {
				r.logger.Warn("hardware release failed", "requester", id.String(), "error", err)
			}
		}
	}

	o.mu.Lock()
	owner := o.gen == r.gen
	o.mu.Unlock()

	if owner {
		o.trigger.Reset()
		o.bridge.Disconnect()
		o.hw.SetMode(hardware.ModeIdleDetection)
		if o.ctrl.Phase() != phase.Idle {
			if err := r.advance(ctx, phase.Idle); err != nil {
				r.logger.Debug("idle transition skipped", "error", err)
			}
		}
	}

	r.record(ctx, kind, message)

	o.mu.Lock()
	if o.gen == r.gen {
		o.running = false
		o.sess = nil
		o.cancel = nil
		o.done = nil
	}
	o.mu.Unlock()
}

func (r *run) record(ctx context.Context, kind errors.Kind, message string) {
	info := r.sess.Info()
	end := r.o.now()
	entry := history.Entry{
		ID:           r.sess.ID,
		PlatformID:   info.PlatformID,
		PhaseReached: info.PhaseReached.String(),
		Message:      message,
		StartedAt:    r.sess.StartedAt,
		EndedAt:      end,
		DurationMs:   end.Sub(r.sess.StartedAt).Milliseconds(),
	}
	switch kind {
	case errors.KindNone:
		entry.Outcome = history.OutcomeSuccess
	case errors.KindCanceled:
		entry.Outcome = history.OutcomeCanceled
	case errors.KindFlow:
		entry.Outcome = history.OutcomeFlowError
	default:
		entry.Outcome = history.OutcomeUnexpected
	}

	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	if err := r.o.history.Record(ctx, entry); err != nil {
		r.logger.Warn("failed to record session history", "error", err)
	}
}

// cancelReason returns the cause passed to the session's cancel func.
func cancelReason(ctx context.Context) string {
	if cause := context.Cause(ctx); cause != nil {
		return cause.Error()
	}
	return ""
}
