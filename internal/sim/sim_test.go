package sim

import (
	"context"
	"testing"
	"time"

	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/liveness"
	"github.com/mdai-dev/kiosk/internal/worker"
)

func TestCamera_WithArbiter(t *testing.T) {
	pool := worker.New(1, nil)
	defer pool.Close()
	cam := NewCamera(time.Millisecond, nil)
	arb := hardware.NewArbiter(cam, pool, nil)
	ctx := context.Background()

	if err := arb.Request(ctx, hardware.Validation, true); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if !cam.Active() || cam.Activations() != 1 {
		t.Errorf("active=%v activations=%d", cam.Active(), cam.Activations())
	}

	arb.SetMode(hardware.ModeValidation)
	if cam.Mode() != hardware.ModeValidation {
		t.Errorf("mode = %s, want validation", cam.Mode())
	}

	arb.Request(ctx, hardware.Validation, false)
	if cam.Active() {
		t.Error("camera should stop when the last request is released")
	}
}

func TestCamera_ActivateCancelled(t *testing.T) {
	cam := NewCamera(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := cam.Activate(ctx); err == nil {
		t.Error("Activate() should honour cancellation")
	}
	if cam.Active() {
		t.Error("camera should not be active")
	}
}

func TestCollector_Samples(t *testing.T) {
	cfg := DefaultCollectorConfig()
	cfg.FrameInterval = 5 * time.Millisecond
	c := NewCollector(nil, cfg)

	samples, err := c.GatherResults(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 10 {
		t.Fatalf("len = %d, want 10", len(samples))
	}
	passing := 0
	for _, s := range samples {
		if !s.FaceDetected {
			t.Error("FaceRate=1 should always produce a face")
		}
		if s.PassesLiveness {
			passing++
		}
		if s.Frame == nil {
			t.Error("sample should carry a frame")
		}
	}
	if passing == 0 {
		t.Error("expected some passing samples")
	}
	if liveness.Sharpness(samples[0].Frame) <= 0 {
		t.Error("synthetic frame should have measurable texture")
	}
}

func TestCollector_CameraOff(t *testing.T) {
	cam := NewCamera(0, nil)
	c := NewCollector(cam, DefaultCollectorConfig())

	samples, err := c.GatherResults(context.Background(), time.Millisecond)
	if err != nil || len(samples) != 0 {
		t.Errorf("GatherResults() = %d samples, %v; want none", len(samples), err)
	}
}

func TestCollector_FeedsSelector(t *testing.T) {
	cfg := DefaultCollectorConfig()
	cfg.FrameInterval = 2 * time.Millisecond
	sel := liveness.NewSelector(NewCollector(nil, cfg), liveness.Config{Slice: 20 * time.Millisecond}, nil, nil)

	res, err := sel.Collect(context.Background(), liveness.Request{Duration: 60 * time.Millisecond, MinPassing: 5}, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if res.Total != 30 || !res.Best.PassesLiveness {
		t.Errorf("result = %+v", res)
	}

	noFace := liveness.Request{Duration: 20 * time.Millisecond, MinPassing: 1, Scenario: liveness.Scenario{NoFace: true}}
	if _, err := sel.Collect(context.Background(), noFace, nil); err == nil {
		t.Error("no-face scenario should fail")
	}
}

func TestDistance(t *testing.T) {
	d := NewDistance(-1)
	if _, ok := d.Distance(context.Background()); ok {
		t.Error("new provider with negative mm should have no reading")
	}
	d.Set(350)
	if mm, ok := d.Distance(context.Background()); !ok || mm != 350 {
		t.Errorf("Distance() = %d, %v", mm, ok)
	}
	d.Clear()
	if _, ok := d.Distance(context.Background()); ok {
		t.Error("Clear() should drop the reading")
	}
}
