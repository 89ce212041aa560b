package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	concpool "github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/mdai-dev/kiosk/internal/bridge"
	"github.com/mdai-dev/kiosk/internal/config"
	"github.com/mdai-dev/kiosk/internal/control"
	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/history"
	"github.com/mdai-dev/kiosk/internal/liveness"
	"github.com/mdai-dev/kiosk/internal/lockfile"
	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/phase"
	"github.com/mdai-dev/kiosk/internal/presence"
	"github.com/mdai-dev/kiosk/internal/session"
	"github.com/mdai-dev/kiosk/internal/sim"
	"github.com/mdai-dev/kiosk/internal/tui/monitor"
	"github.com/mdai-dev/kiosk/internal/watchdog"
	"github.com/mdai-dev/kiosk/internal/worker"
)

// simCameraStartup is how long the simulated pipeline takes to come up.
const simCameraStartup = 300 * time.Millisecond

// framePoolWorkers bounds frame persistence. It has its own pool so camera
// bring-up never waits behind disk writes.
const framePoolWorkers = 2

// monitorQueueSize is larger than an observer's queue: the console shows a
// scrolling log and should not lose state transitions to metrics bursts.
const monitorQueueSize = 64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk daemon",
	Long: `Run the kiosk daemon in the foreground.

The daemon polls the presence sensor and runs one verification session at
a time. The debug control surface and the event stream listen on
controller.host:controller.port.

With --monitor an operator console is drawn on the terminal; logs then go
to logging.dir (or the runtime directory) instead of stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveMonitor    bool
	serveSimulate   bool
	serveRuntimeDir string
)

func init() {
	serveCmd.Flags().BoolVar(&serveMonitor, "monitor", false, "Show the operator console (requires a terminal)")
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "Use the simulated ToF sensor (overrides hardware.simulate)")
	serveCmd.Flags().StringVar(&serveRuntimeDir, "runtime-dir", "", "Directory for the lock file and local history (default is the config directory)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cmd.Flags().Changed("simulate") {
		cfg.Hardware.Simulate = serveSimulate
	}

	runtimeDir := serveRuntimeDir
	if runtimeDir == "" {
		runtimeDir = config.ConfigDir()
	}
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}

	if serveMonitor && !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("--monitor requires a terminal")
	}
	logDir := cfg.Logging.Dir
	if serveMonitor && logDir == "" {
		// The console owns the terminal.
		logDir = filepath.Join(runtimeDir, "logs")
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	addr := listenAddr(cfg)
	lock, err := lockfile.Acquire(runtimeDir, addr, logger)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			if running, ok := lockfile.Running(runtimeDir); ok {
				return fmt.Errorf("%w (pid %d, listening on %s)", err, running.PID, running.Listen)
			}
		}
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, runtimeDir, logger)
	if err != nil {
		return err
	}
	watchLogLevel(logger)

	logger.Info("kioskd starting",
		"addr", addr, "simulate", cfg.Hardware.Simulate, "pid", os.Getpid())
	return d.run(ctx, addr, serveMonitor)
}

func listenAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.Controller.Host, strconv.Itoa(cfg.Controller.Port))
}

// watchLogLevel re-reads logging.level whenever the config file changes.
// Other settings need a restart.
func watchLogLevel(logger *logging.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		level := logging.ParseLevel(viper.GetString("logging.level"))
		if level == logger.Level() {
			return
		}
		logger.SetLevel(level)
		logger.Info("log level changed", "level", level, "file", e.Name)
	})
	viper.WatchConfig()
}

// daemon is the assembled engine.
type daemon struct {
	cfg    *config.Config
	logger *logging.Logger

	pool     *worker.Pool
	frames   *worker.Pool
	bus      *event.Bus
	camera   *sim.Camera
	distance *sim.Distance
	reader   *presence.ReaderProcess
	arbiter  *hardware.Arbiter
	sensor   *presence.Sensor
	proxy    *bridge.Proxy
	history  history.Recorder
	orch     *session.Orchestrator
	watchdog *watchdog.Monitor
	control  *control.Server
}

func newDaemon(ctx context.Context, cfg *config.Config, runtimeDir string, logger *logging.Logger) (*daemon, error) {
	d := &daemon{
		cfg:    cfg,
		logger: logger,
		pool:   worker.New(cfg.Hardware.Workers, logger),
		frames: worker.New(framePoolWorkers, logger),
		bus:    event.NewBus(),
	}

	// No camera driver ships with kioskd; the liveness pipeline is an
	// external collaborator and the simulated one stands in for it.
	d.camera = sim.NewCamera(simCameraStartup, logger)
	d.arbiter = hardware.NewArbiter(d.camera, d.pool, logger)

	collectorCfg := sim.DefaultCollectorConfig()
	collectorCfg.Seed = uint64(time.Now().UnixNano())
	var store liveness.FrameStore = liveness.NopStore{}
	if cfg.Validation.CapturesDir != "" {
		store = liveness.NewDiskStore(cfg.Validation.CapturesDir, d.frames, logger)
	}
	selector := liveness.NewSelector(sim.NewCollector(d.camera, collectorCfg), liveness.Config{
		Slice:        cfg.Validation.Slice(),
		MinFaceRatio: cfg.Validation.MinFaceRatio,
		Scoring: liveness.Scoring{
			FocusNormalization: cfg.Validation.FocusNormalization,
			StabilityWeight:    cfg.Validation.StabilityWeight,
			FocusWeight:        cfg.Validation.FocusWeight,
			StableBonus:        cfg.Validation.StableBonus,
		},
		MetricsInterval: cfg.Events.MetricsInterval(),
		SaveDebugFrames: cfg.Validation.SaveDebugFrames,
	}, store, logger)

	tokens := bridge.NewHTTPTokenService(cfg.Backend.APIURL, cfg.Backend.APIKey, cfg.Backend.HTTPTimeout())
	channel := bridge.NewWSChannel(cfg.Backend.WSURL, logger)
	d.proxy = bridge.NewProxy(tokens, channel, cfg.Backend.APIURL, cfg.Backend.WSURL, bridge.WithLogger(logger))

	rec, err := openHistory(ctx, cfg, runtimeDir, logger)
	if err != nil {
		return nil, err
	}
	d.history = rec

	d.orch = session.New(cfg, session.Deps{
		Hardware: d.arbiter,
		Bridge:   d.proxy,
		Selector: selector,
		History:  d.history,
		Events:   d.bus,
		Pool:     d.pool,
	}, logger)

	var provider presence.DistanceProvider
	if !cfg.Hardware.Simulate && cfg.Presence.ReaderBinary != "" {
		d.reader = presence.NewReaderProcess(presence.ReaderConfig{
			Binary:     cfg.Presence.ReaderBinary,
			I2CBus:     cfg.Presence.I2CBus,
			I2CAddress: cfg.Presence.I2CAddress,
			OutputHz:   cfg.Presence.OutputHz,
		}, logger)
		provider = d.reader
	} else {
		if !cfg.Hardware.Simulate {
			logger.Warn("no presence.reader_binary configured, using simulated distance")
		}
		d.distance = sim.NewDistance(-1)
		provider = d.distance
	}
	d.sensor = presence.NewSensor(presence.SensorConfig{
		ThresholdMM: cfg.Presence.ThresholdMM,
		Debounce:    cfg.Presence.Debounce(),
		IdlePoll:    cfg.Presence.IdlePoll(),
		ActivePoll:  cfg.Presence.ActivePoll(),
	}, provider, d.arbiter, logger)
	d.sensor.OnTrigger(d.orch.OnPresence)

	d.watchdog = watchdog.New(d.orch, d.proxy, d.bus, watchdog.Config{
		Interval:       cfg.Watchdog.Interval(),
		BackendTimeout: cfg.Watchdog.BackendTimeout(),
		SoftActionCap:  cfg.Watchdog.SoftActionCap,
		Limits:         phaseLimits(cfg.Watchdog.Limits()),
	}, logger)

	d.control = control.NewServer(d.orch, d.arbiter, d.bus, cfg.Events.QueueSize, logger)
	return d, nil
}

// openHistory prefers redis when configured and falls back to a local file
// so a redis outage never keeps the kiosk from starting.
func openHistory(ctx context.Context, cfg *config.Config, runtimeDir string, logger *logging.Logger) (history.Recorder, error) {
	if addr := cfg.History.RedisAddr; addr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		client, err := history.DialRedis(dialCtx, addr, cfg.History.RedisDB)
		cancel()
		if err == nil {
			logger.Info("recording sessions to redis", "addr", addr, "key", cfg.History.Key)
			return history.NewRedisRecorder(client, cfg.History.Key, cfg.History.MaxEntries, cfg.History.TTL()), nil
		}
		logger.Warn("redis unavailable, recording sessions locally", "addr", addr, "error", err)
	}

	path := filepath.Join(runtimeDir, "history.json")
	rec, err := history.NewFileRecorder(path, cfg.History.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to open session history: %w", err)
	}
	return rec, nil
}

func phaseLimits(limits map[string]time.Duration) map[phase.Phase]time.Duration {
	out := make(map[phase.Phase]time.Duration, len(limits))
	for name, limit := range limits {
		p, err := phase.Parse(name)
		if err != nil {
			continue
		}
		out[p] = limit
	}
	return out
}

// run starts every loop and blocks until ctx is done, the operator quits
// the console, or a loop fails. Hardware is forced down on the way out.
func (d *daemon) run(ctx context.Context, addr string, withMonitor bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := concpool.New().WithContext(ctx).WithCancelOnError()
	g.Go(loop(d.orch.Run))
	g.Go(loop(d.watchdog.Run))
	g.Go(loop(d.sensor.Run))
	if d.reader != nil {
		g.Go(loop(d.reader.Run))
	}
	g.Go(func(ctx context.Context) error {
		return d.control.ListenAndServe(ctx, addr)
	})
	if withMonitor {
		sub := d.bus.SubscribeAll(monitorQueueSize)
		g.Go(func(ctx context.Context) error {
			defer d.bus.Unsubscribe(sub)
			err := monitor.Run(ctx, sub.C)
			// Quitting the console stops the daemon.
			cancel()
			return err
		})
	}

	err := g.Wait()
	d.shutdown()
	return err
}

// loop adapts a Run method that reports cancellation as an error.
func loop(run func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		err := run(ctx)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	}
}

func (d *daemon) shutdown() {
	d.logger.Info("kioskd shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d.arbiter.ForceShutdown(ctx)
	d.proxy.Disconnect()
	if err := d.history.Close(); err != nil {
		d.logger.Warn("failed to close session history", "error", err)
	}
	d.frames.Close()
	d.pool.Close()
	d.bus.Close()
}
