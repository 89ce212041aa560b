package presence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/logging"
)

// MaxValidDistanceMM is the sensor's usable range; larger readings are noise.
const MaxValidDistanceMM = 8000

// DefaultReadingMaxAge is how long a reading stays fresh.
const DefaultReadingMaxAge = time.Second

// Reading is one line of reader output.
type Reading struct {
	DistanceMM  int   `json:"distance_mm"`
	TimestampMs int64 `json:"timestamp_ms"`
}

// ReaderConfig describes how to launch the reader binary.
type ReaderConfig struct {
	Binary     string
	I2CBus     string
	I2CAddress int
	OutputHz   int
	// MaxAge bounds how stale the latest reading may be. Zero uses
	// DefaultReadingMaxAge.
	MaxAge time.Duration
	// RestartDelay is waited before relaunching a reader that exited.
	RestartDelay time.Duration
}

// ReaderProcess supervises the external ToF reader, which prints one JSON
// reading per line on stdout.
type ReaderProcess struct {
	cfg    ReaderConfig
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	latest   int
	latestAt time.Time
	skipped  uint64
}

// NewReaderProcess creates a supervisor for cfg.Binary.
func NewReaderProcess(cfg ReaderConfig, logger *logging.Logger) *ReaderProcess {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultReadingMaxAge
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	return &ReaderProcess{
		cfg:    cfg,
		logger: logger.WithComponent("tof_reader"),
		now:    time.Now,
	}
}

func (r *ReaderProcess) args() []string {
	args := []string{"--bus", r.cfg.I2CBus}
	if r.cfg.I2CAddress > 0 {
		args = append(args, "--address", fmt.Sprintf("0x%02x", r.cfg.I2CAddress))
	}
	if r.cfg.OutputHz > 0 {
		args = append(args, "--hz", strconv.Itoa(r.cfg.OutputHz))
	}
	return args
}

// Run launches the reader and relaunches it whenever it exits, until ctx is
// done.
func (r *ReaderProcess) Run(ctx context.Context) error {
	for {
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("tof reader exited, restarting", "error", err, "delay", r.cfg.RestartDelay.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RestartDelay):
		}
	}
}

func (r *ReaderProcess) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.cfg.Binary, r.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open reader stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start tof reader: %w", err)
	}
	r.logger.Info("tof reader started", "binary", r.cfg.Binary, "pid", cmd.Process.Pid)

	r.Consume(stdout)
	return cmd.Wait()
}

// Consume reads JSON lines from src until EOF, keeping the latest valid
// reading. Malformed lines and out-of-range distances are skipped.
func (r *ReaderProcess) Consume(src io.Reader) {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var reading Reading
		if err := json.Unmarshal(line, &reading); err != nil {
			r.skip()
			continue
		}
		if reading.DistanceMM <= 0 || reading.DistanceMM > MaxValidDistanceMM {
			r.skip()
			continue
		}
		r.mu.Lock()
		r.latest = reading.DistanceMM
		r.latestAt = r.now()
		r.mu.Unlock()
	}
}

func (r *ReaderProcess) skip() {
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
}

// Distance implements DistanceProvider.
func (r *ReaderProcess) Distance(ctx context.Context) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latestAt.IsZero() || r.now().Sub(r.latestAt) > r.cfg.MaxAge {
		return 0, false
	}
	return r.latest, true
}

// Skipped returns how many lines were discarded.
func (r *ReaderProcess) Skipped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}
