package liveness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/worker"
)

// FrameStore persists selected frames. Implementations must not block the
// caller on I/O.
type FrameStore interface {
	SaveBest(label string, best *Result)
	SaveDebug(label string, index int, sample Sample)
}

// NopStore discards everything.
type NopStore struct{}

// SaveBest implements FrameStore.
func (NopStore) SaveBest(string, *Result) {}

// SaveDebug implements FrameStore.
func (NopStore) SaveDebug(string, int, Sample) {}

// DiskStore writes frames and JSON sidecars under a captures directory:
//
//	<dir>/<ts>_<label>_BEST.jpg
//	<dir>/debug/<label>/<ts>_frameNNN.jpg
//
// Writes run on the worker pool and never wait for a free worker: when the
// pool is busy the frame is dropped. Failures are logged and dropped too.
// Labels come from the mobile app, so only [A-Za-z0-9_-] reach a path.
type DiskStore struct {
	dir    string
	pool   *worker.Pool
	logger *logging.Logger
	now    func() time.Time
}

// NewDiskStore creates a store rooted at dir.
func NewDiskStore(dir string, pool *worker.Pool, logger *logging.Logger) *DiskStore {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &DiskStore{
		dir:    dir,
		pool:   pool,
		logger: logger.WithComponent("frame_store"),
		now:    time.Now,
	}
}

// SaveBest implements FrameStore.
func (d *DiskStore) SaveBest(label string, best *Result) {
	if best == nil {
		return
	}
	if label == "" {
		label = fmt.Sprintf("unknown_%d", d.now().Unix())
	}
	ts := d.now()
	base := filepath.Join(d.dir, fmt.Sprintf("%s_%s_BEST", ts.Format("20060102_150405"), pathLabel(label)))
	sample := best.Best

	d.submit("save_best_frame", func() error {
		data, err := sample.JPEG()
		if err != nil {
			return fmt.Errorf("encode best frame: %w", err)
		}
		meta := map[string]any{
			"timestamp":       ts.Format("20060102_150405"),
			"platform_id":     label,
			"capture_time":    ts.Format(time.RFC3339Nano),
			"file_size_bytes": len(data),
			"is_best_frame":   true,
			"stable_alive":    sample.Stable,
			"passes_liveness": sample.PassesLiveness,
			"stability_score": sample.QualityScore,
			"focus":           best.Focus,
			"composite":       best.Score,
		}
		if err := writeFrame(base, data, meta); err != nil {
			return err
		}
		d.logger.Info("saved best frame", "path", base+".jpg")
		return nil
	})
}

// SaveDebug implements FrameStore.
func (d *DiskStore) SaveDebug(label string, index int, sample Sample) {
	if label == "" {
		label = "unknown"
	}
	ts := d.now()
	base := filepath.Join(d.dir, "debug", pathLabel(label),
		fmt.Sprintf("%s_frame%03d", ts.Format("20060102_150405.000"), index))

	d.submit("save_debug_frame", func() error {
		data, err := sample.JPEG()
		if err != nil {
			return fmt.Errorf("encode debug frame: %w", err)
		}
		meta := map[string]any{
			"frame_index":     index,
			"timestamp":       ts.Format(time.RFC3339Nano),
			"face_detected":   sample.FaceDetected,
			"passes_liveness": sample.PassesLiveness,
			"stable_alive":    sample.Stable,
			"stability_score": sample.QualityScore,
		}
		for k, v := range sample.Diagnostics {
			meta[k] = v
		}
		return writeFrame(base, data, meta)
	})
}

func (d *DiskStore) submit(name string, fn func() error) {
	job := func() {
		if err := fn(); err != nil {
			d.logger.Warn("frame persistence failed", "job", name, "error", err)
		}
	}
	if d.pool == nil {
		go job()
		return
	}
	if err := d.pool.TryGo(name, job); err != nil {
		d.logger.Warn("frame persistence dropped", "job", name, "error", err)
	}
}

// pathLabel maps a label to a single safe path element.
func pathLabel(label string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, label)
	if safe == "" {
		return "unknown"
	}
	return safe
}

func writeFrame(base string, data []byte, meta map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return fmt.Errorf("create captures dir: %w", err)
	}
	if len(data) > 0 {
		if err := os.WriteFile(base+".jpg", data, 0644); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := os.WriteFile(base+".json", encoded, 0644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}
