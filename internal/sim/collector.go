package sim

import (
	"context"
	"image"
	"image/color"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/liveness"
)

// DefaultFrameInterval matches a 30 fps pipeline.
const DefaultFrameInterval = 33 * time.Millisecond

// ActiveSource reports whether the camera is running. *Camera implements it.
type ActiveSource interface {
	Active() bool
}

// CollectorConfig shapes the synthetic samples.
type CollectorConfig struct {
	FrameInterval time.Duration
	// PassRate is the fraction of face frames that pass liveness.
	PassRate float64
	// FaceRate is the fraction of frames with a face.
	FaceRate float64
	Width    int
	Height   int
	Seed     uint64
}

// DefaultCollectorConfig produces a healthy run: every frame has a face and
// most pass.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		FrameInterval: DefaultFrameInterval,
		PassRate:      0.85,
		FaceRate:      1,
		Width:         64,
		Height:        48,
		Seed:          1,
	}
}

// Collector is a liveness.Collector producing synthetic frames. When the
// camera is not running it returns no samples, as the real pipeline does.
type Collector struct {
	camera ActiveSource
	cfg    CollectorConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCollector creates a Collector. camera may be nil to always produce
// frames.
func NewCollector(camera ActiveSource, cfg CollectorConfig) *Collector {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 64, 48
	}
	return &Collector{
		camera: camera,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// GatherResults implements liveness.Collector. It takes d to run.
func (c *Collector) GatherResults(ctx context.Context, d time.Duration) ([]liveness.Sample, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if c.camera != nil && !c.camera.Active() {
		return nil, nil
	}

	n := max(1, int(d/c.cfg.FrameInterval))
	now := time.Now()
	samples := make([]liveness.Sample, 0, n)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range n {
		face := c.rng.Float64() < c.cfg.FaceRate
		pass := face && c.rng.Float64() < c.cfg.PassRate
		stability := 0.5 + 0.5*c.rng.Float64()
		samples = append(samples, liveness.Sample{
			FaceDetected:   face,
			PassesLiveness: pass,
			Stable:         pass && stability > 0.8,
			QualityScore:   stability,
			Frame:          c.frame(),
			Timestamp:      now.Add(time.Duration(i) * c.cfg.FrameInterval),
			Diagnostics: map[string]any{
				"depth_ok":    face,
				"screen_ok":   true,
				"movement_ok": pass,
			},
		})
	}
	return samples, nil
}

// frame renders a noisy gradient so the sharpness metric has texture to
// measure. Must be called with mu held.
func (c *Collector) frame() image.Image {
	img := image.NewGray(image.Rect(0, 0, c.cfg.Width, c.cfg.Height))
	for y := 0; y < c.cfg.Height; y++ {
		for x := 0; x < c.cfg.Width; x++ {
			v := (x*255)/c.cfg.Width + c.rng.IntN(48) - 24
			img.SetGray(x, y, color.Gray{Y: uint8(min(255, max(0, v)))})
		}
	}
	return img
}
