package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete kioskd configuration. It is loaded once at
// startup and passed by pointer into every component constructor.
type Config struct {
	Backend    BackendConfig    `mapstructure:"backend" yaml:"backend"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Presence   PresenceConfig   `mapstructure:"presence" yaml:"presence"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Phases     PhasesConfig     `mapstructure:"phases" yaml:"phases"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog" yaml:"watchdog"`
	Events     EventsConfig     `mapstructure:"events" yaml:"events"`
	Hardware   HardwareConfig   `mapstructure:"hardware" yaml:"hardware"`
	History    HistoryConfig    `mapstructure:"history" yaml:"history"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// BackendConfig points at the pairing bridge.
type BackendConfig struct {
	// APIURL is the bridge REST base URL used to mint pairing tokens.
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
	// WSURL is the bridge WebSocket base URL. The kiosk connects to
	// {ws_url}/hardware and the app to {ws_url}/app.
	WSURL string `mapstructure:"ws_url" yaml:"ws_url"`
	// APIKey authenticates the kiosk when requesting a token.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// HTTPTimeoutMs bounds each token request.
	HTTPTimeoutMs int `mapstructure:"http_timeout_ms" yaml:"http_timeout_ms"`
}

// ControllerConfig controls the local debug/control HTTP listener.
type ControllerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// PresenceConfig controls the ToF presence sensor and grace countdown.
type PresenceConfig struct {
	// ThresholdMM is the distance under which a person counts as present.
	ThresholdMM int `mapstructure:"threshold_mm" yaml:"threshold_mm"`
	// DebounceMs is the minimum time between two presence state changes.
	DebounceMs int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	// GracePeriodMs is how long presence may be lost mid-session before the
	// session is cancelled.
	GracePeriodMs int `mapstructure:"grace_period_ms" yaml:"grace_period_ms"`
	// IdlePollMs is the sensor poll interval while waiting for a person.
	IdlePollMs int `mapstructure:"idle_poll_ms" yaml:"idle_poll_ms"`
	// ActivePollMs is the sensor poll interval during a session.
	ActivePollMs int `mapstructure:"active_poll_ms" yaml:"active_poll_ms"`
	// ReaderBinary is the external ToF reader. Empty disables the reader
	// process (simulated distance only).
	ReaderBinary string `mapstructure:"reader_binary" yaml:"reader_binary"`
	I2CBus       string `mapstructure:"i2c_bus" yaml:"i2c_bus"`
	I2CAddress   int    `mapstructure:"i2c_address" yaml:"i2c_address"`
	OutputHz     int    `mapstructure:"output_hz" yaml:"output_hz"`
}

// ValidationConfig controls best-frame selection during human detection.
type ValidationConfig struct {
	// DurationMs is the total sampling window.
	DurationMs int `mapstructure:"duration_ms" yaml:"duration_ms"`
	// SliceMs is the size of each batch pulled from the collector.
	SliceMs int `mapstructure:"slice_ms" yaml:"slice_ms"`
	// MinPassingFrames is the number of samples that must pass liveness.
	MinPassingFrames int `mapstructure:"min_passing_frames" yaml:"min_passing_frames"`
	// WarmupColdMs is waited after activating a camera that was off.
	WarmupColdMs int `mapstructure:"warmup_cold_ms" yaml:"warmup_cold_ms"`
	// WarmupWarmMs is waited when the camera was already running.
	WarmupWarmMs int `mapstructure:"warmup_warm_ms" yaml:"warmup_warm_ms"`
	// FocusNormalization divides the raw sharpness before clamping to 1.
	FocusNormalization float64 `mapstructure:"focus_normalization" yaml:"focus_normalization"`
	StabilityWeight    float64 `mapstructure:"stability_weight" yaml:"stability_weight"`
	FocusWeight        float64 `mapstructure:"focus_weight" yaml:"focus_weight"`
	// StableBonus is added to the composite of samples flagged stable.
	StableBonus float64 `mapstructure:"stable_bonus" yaml:"stable_bonus"`
	// MinFaceRatio is the fraction of samples that must contain a face
	// before a run is judged as lost tracking.
	MinFaceRatio float64 `mapstructure:"min_face_ratio" yaml:"min_face_ratio"`
	// SaveDebugFrames persists every sample, not only the best one.
	SaveDebugFrames bool   `mapstructure:"save_debug_frames" yaml:"save_debug_frames"`
	CapturesDir     string `mapstructure:"captures_dir" yaml:"captures_dir"`
}

// PhasesConfig holds UI dwell times and flow timeouts.
type PhasesConfig struct {
	PairingRequestMs int `mapstructure:"pairing_request_ms" yaml:"pairing_request_ms"`
	HelloHumanMs     int `mapstructure:"hello_human_ms" yaml:"hello_human_ms"`
	ScanPromptMs     int `mapstructure:"scan_prompt_ms" yaml:"scan_prompt_ms"`
	CompleteMs       int `mapstructure:"complete_ms" yaml:"complete_ms"`
	ErrorMs          int `mapstructure:"error_ms" yaml:"error_ms"`
	// ProcessingMinMs is the minimum time the processing phase is shown,
	// regardless of how fast the backend acknowledges.
	ProcessingMinMs int `mapstructure:"processing_min_ms" yaml:"processing_min_ms"`
	// BackendAckTimeoutMs bounds the wait for a backend acknowledgment.
	// Expiry is logged, not fatal.
	BackendAckTimeoutMs int `mapstructure:"backend_ack_timeout_ms" yaml:"backend_ack_timeout_ms"`
	// AppReadyDefaultTimeoutMs is used when the token carries no expiry.
	AppReadyDefaultTimeoutMs int `mapstructure:"app_ready_default_timeout_ms" yaml:"app_ready_default_timeout_ms"`
}

// WatchdogConfig controls stuck-phase detection and recovery.
type WatchdogConfig struct {
	IntervalMs int `mapstructure:"interval_ms" yaml:"interval_ms"`
	// BackendTimeoutMs is how long the bridge may be silent before the
	// watchdog tries a reconnect.
	BackendTimeoutMs int `mapstructure:"backend_timeout_ms" yaml:"backend_timeout_ms"`
	// SoftActionCap bounds resyncs per stuck phase.
	SoftActionCap int `mapstructure:"soft_action_cap" yaml:"soft_action_cap"`
	// CancelTimeoutMs is how long a session reset waits for the session
	// goroutine to exit before forcing idle.
	CancelTimeoutMs int `mapstructure:"cancel_timeout_ms" yaml:"cancel_timeout_ms"`
	// LimitsMs maps phase name to its maximum elapsed time.
	LimitsMs map[string]int `mapstructure:"limits_ms" yaml:"limits_ms"`
}

// EventsConfig controls observer delivery.
type EventsConfig struct {
	// QueueSize is the per-observer buffer; the oldest event is dropped when full.
	QueueSize           int `mapstructure:"queue_size" yaml:"queue_size"`
	HeartbeatIntervalMs int `mapstructure:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	// MetricsIntervalMs throttles validation metrics events.
	MetricsIntervalMs int `mapstructure:"metrics_interval_ms" yaml:"metrics_interval_ms"`
}

// HardwareConfig controls the camera arbiter.
type HardwareConfig struct {
	// Workers bounds the pool running blocking hardware and I/O jobs.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Simulate replaces the camera and ToF sensor with in-process fakes.
	Simulate bool `mapstructure:"simulate" yaml:"simulate"`
}

// HistoryConfig controls the session outcome recorder.
type HistoryConfig struct {
	// RedisAddr enables recording when set (host:port).
	RedisAddr  string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisDB    int    `mapstructure:"redis_db" yaml:"redis_db"`
	Key        string `mapstructure:"key" yaml:"key"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries"`
	TTLHours   int    `mapstructure:"ttl_hours" yaml:"ttl_hours"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the log directory. Empty logs to stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size before rotation (default: 2)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 5)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			APIURL:        "http://localhost:8080",
			WSURL:         "ws://localhost:8080/ws",
			HTTPTimeoutMs: 10000,
		},
		Controller: ControllerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Presence: PresenceConfig{
			ThresholdMM:   500,
			DebounceMs:    1500,
			GracePeriodMs: 3000,
			IdlePollMs:    200,
			ActivePollMs:  100,
			I2CBus:        "/dev/i2c-1",
			I2CAddress:    0x29,
			OutputHz:      10,
		},
		Validation: ValidationConfig{
			DurationMs:         3500,
			SliceMs:            500,
			MinPassingFrames:   10,
			WarmupColdMs:       2000,
			WarmupWarmMs:       500,
			FocusNormalization: 800,
			StabilityWeight:    0.7,
			FocusWeight:        0.3,
			StableBonus:        0.05,
			MinFaceRatio:       0.3,
			CapturesDir:        "captures",
		},
		Phases: PhasesConfig{
			PairingRequestMs:         1200,
			HelloHumanMs:             3000,
			ScanPromptMs:             1500,
			CompleteMs:               3000,
			ErrorMs:                  3000,
			ProcessingMinMs:          3000,
			BackendAckTimeoutMs:      3000,
			AppReadyDefaultTimeoutMs: 90000,
		},
		Watchdog: WatchdogConfig{
			IntervalMs:       2000,
			BackendTimeoutMs: 30000,
			SoftActionCap:    2,
			CancelTimeoutMs:  2000,
			LimitsMs:         DefaultPhaseLimits(),
		},
		Events: EventsConfig{
			QueueSize:           4,
			HeartbeatIntervalMs: 30000,
			MetricsIntervalMs:   200,
		},
		Hardware: HardwareConfig{
			Workers: 2,
		},
		History: HistoryConfig{
			Key:        "kioskd:sessions",
			MaxEntries: 200,
			TTLHours:   168,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  2,
			MaxBackups: 5,
		},
	}
}

// DefaultPhaseLimits returns the default watchdog limit per phase in
// milliseconds. Idle has no limit.
func DefaultPhaseLimits() map[string]int {
	return map[string]int{
		"pairing_request": 20000,
		"hello_human":     20000,
		"scan_prompt":     20000,
		"qr_display":      180000,
		"human_detect":    25000,
		"processing":      60000,
		"complete":        15000,
		"error":           15000,
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// HTTPTimeout returns the token request timeout.
func (c *BackendConfig) HTTPTimeout() time.Duration { return ms(c.HTTPTimeoutMs) }

// Debounce returns the presence debounce window.
func (c *PresenceConfig) Debounce() time.Duration { return ms(c.DebounceMs) }

// GracePeriod returns the presence-loss grace countdown.
func (c *PresenceConfig) GracePeriod() time.Duration { return ms(c.GracePeriodMs) }

// IdlePoll returns the idle-mode poll interval.
func (c *PresenceConfig) IdlePoll() time.Duration { return ms(c.IdlePollMs) }

// ActivePoll returns the active-mode poll interval.
func (c *PresenceConfig) ActivePoll() time.Duration { return ms(c.ActivePollMs) }

// Duration returns the sampling window.
func (c *ValidationConfig) Duration() time.Duration { return ms(c.DurationMs) }

// Slice returns the per-batch sampling slice.
func (c *ValidationConfig) Slice() time.Duration { return ms(c.SliceMs) }

// WarmupCold returns the warmup for a camera that was off.
func (c *ValidationConfig) WarmupCold() time.Duration { return ms(c.WarmupColdMs) }

// WarmupWarm returns the warmup for a camera that was already on.
func (c *ValidationConfig) WarmupWarm() time.Duration { return ms(c.WarmupWarmMs) }

// PairingRequest returns the minimum pairing request dwell.
func (c *PhasesConfig) PairingRequest() time.Duration { return ms(c.PairingRequestMs) }

// HelloHuman returns the welcome screen dwell.
func (c *PhasesConfig) HelloHuman() time.Duration { return ms(c.HelloHumanMs) }

// ScanPrompt returns the scan prompt dwell.
func (c *PhasesConfig) ScanPrompt() time.Duration { return ms(c.ScanPromptMs) }

// Complete returns the success screen dwell.
func (c *PhasesConfig) Complete() time.Duration { return ms(c.CompleteMs) }

// Error returns the error screen dwell.
func (c *PhasesConfig) Error() time.Duration { return ms(c.ErrorMs) }

// ProcessingMin returns the minimum processing phase duration.
func (c *PhasesConfig) ProcessingMin() time.Duration { return ms(c.ProcessingMinMs) }

// BackendAckTimeout returns the upload acknowledgment wait.
func (c *PhasesConfig) BackendAckTimeout() time.Duration { return ms(c.BackendAckTimeoutMs) }

// AppReadyDefaultTimeout returns the app-ready wait used without a token expiry.
func (c *PhasesConfig) AppReadyDefaultTimeout() time.Duration {
	return ms(c.AppReadyDefaultTimeoutMs)
}

// Interval returns the watchdog tick interval.
func (c *WatchdogConfig) Interval() time.Duration { return ms(c.IntervalMs) }

// BackendTimeout returns the bridge silence threshold.
func (c *WatchdogConfig) BackendTimeout() time.Duration { return ms(c.BackendTimeoutMs) }

// CancelTimeout returns the bounded wait for a cancelled session to exit.
func (c *WatchdogConfig) CancelTimeout() time.Duration { return ms(c.CancelTimeoutMs) }

// Limits returns the per-phase limits as durations.
func (c *WatchdogConfig) Limits() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.LimitsMs))
	for k, v := range c.LimitsMs {
		out[k] = ms(v)
	}
	return out
}

// HeartbeatInterval returns the heartbeat period.
func (c *EventsConfig) HeartbeatInterval() time.Duration { return ms(c.HeartbeatIntervalMs) }

// MetricsInterval returns the metrics throttle.
func (c *EventsConfig) MetricsInterval() time.Duration { return ms(c.MetricsIntervalMs) }

// TTL returns the retention for recorded sessions.
func (c *HistoryConfig) TTL() time.Duration { return time.Duration(c.TTLHours) * time.Hour }

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Backend defaults
	viper.SetDefault("backend.api_url", defaults.Backend.APIURL)
	viper.SetDefault("backend.ws_url", defaults.Backend.WSURL)
	viper.SetDefault("backend.api_key", defaults.Backend.APIKey)
	viper.SetDefault("backend.http_timeout_ms", defaults.Backend.HTTPTimeoutMs)

	// Controller defaults
	viper.SetDefault("controller.host", defaults.Controller.Host)
	viper.SetDefault("controller.port", defaults.Controller.Port)

	// Presence defaults
	viper.SetDefault("presence.threshold_mm", defaults.Presence.ThresholdMM)
	viper.SetDefault("presence.debounce_ms", defaults.Presence.DebounceMs)
	viper.SetDefault("presence.grace_period_ms", defaults.Presence.GracePeriodMs)
	viper.SetDefault("presence.idle_poll_ms", defaults.Presence.IdlePollMs)
	viper.SetDefault("presence.active_poll_ms", defaults.Presence.ActivePollMs)
	viper.SetDefault("presence.reader_binary", defaults.Presence.ReaderBinary)
	viper.SetDefault("presence.i2c_bus", defaults.Presence.I2CBus)
	viper.SetDefault("presence.i2c_address", defaults.Presence.I2CAddress)
	viper.SetDefault("presence.output_hz", defaults.Presence.OutputHz)

	// Validation defaults
	viper.SetDefault("validation.duration_ms", defaults.Validation.DurationMs)
	viper.SetDefault("validation.slice_ms", defaults.Validation.SliceMs)
	viper.SetDefault("validation.min_passing_frames", defaults.Validation.MinPassingFrames)
	viper.SetDefault("validation.warmup_cold_ms", defaults.Validation.WarmupColdMs)
	viper.SetDefault("validation.warmup_warm_ms", defaults.Validation.WarmupWarmMs)
	viper.SetDefault("validation.focus_normalization", defaults.Validation.FocusNormalization)
	viper.SetDefault("validation.stability_weight", defaults.Validation.StabilityWeight)
	viper.SetDefault("validation.focus_weight", defaults.Validation.FocusWeight)
	viper.SetDefault("validation.stable_bonus", defaults.Validation.StableBonus)
	viper.SetDefault("validation.min_face_ratio", defaults.Validation.MinFaceRatio)
	viper.SetDefault("validation.save_debug_frames", defaults.Validation.SaveDebugFrames)
	viper.SetDefault("validation.captures_dir", defaults.Validation.CapturesDir)

	// Phase defaults
	viper.SetDefault("phases.pairing_request_ms", defaults.Phases.PairingRequestMs)
	viper.SetDefault("phases.hello_human_ms", defaults.Phases.HelloHumanMs)
	viper.SetDefault("phases.scan_prompt_ms", defaults.Phases.ScanPromptMs)
	viper.SetDefault("phases.complete_ms", defaults.Phases.CompleteMs)
	viper.SetDefault("phases.error_ms", defaults.Phases.ErrorMs)
	viper.SetDefault("phases.processing_min_ms", defaults.Phases.ProcessingMinMs)
	viper.SetDefault("phases.backend_ack_timeout_ms", defaults.Phases.BackendAckTimeoutMs)
	viper.SetDefault("phases.app_ready_default_timeout_ms", defaults.Phases.AppReadyDefaultTimeoutMs)

	// Watchdog defaults
	viper.SetDefault("watchdog.interval_ms", defaults.Watchdog.IntervalMs)
	viper.SetDefault("watchdog.backend_timeout_ms", defaults.Watchdog.BackendTimeoutMs)
	viper.SetDefault("watchdog.soft_action_cap", defaults.Watchdog.SoftActionCap)
	viper.SetDefault("watchdog.cancel_timeout_ms", defaults.Watchdog.CancelTimeoutMs)
	for name, limit := range defaults.Watchdog.LimitsMs {
		viper.SetDefault("watchdog.limits_ms."+name, limit)
	}

	// Event defaults
	viper.SetDefault("events.queue_size", defaults.Events.QueueSize)
	viper.SetDefault("events.heartbeat_interval_ms", defaults.Events.HeartbeatIntervalMs)
	viper.SetDefault("events.metrics_interval_ms", defaults.Events.MetricsIntervalMs)

	// Hardware defaults
	viper.SetDefault("hardware.workers", defaults.Hardware.Workers)
	viper.SetDefault("hardware.simulate", defaults.Hardware.Simulate)

	// History defaults
	viper.SetDefault("history.redis_addr", defaults.History.RedisAddr)
	viper.SetDefault("history.redis_db", defaults.History.RedisDB)
	viper.SetDefault("history.key", defaults.History.Key)
	viper.SetDefault("history.max_entries", defaults.History.MaxEntries)
	viper.SetDefault("history.ttl_hours", defaults.History.TTLHours)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kioskd")
	}
	// Fall back to ~/.config/kioskd
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kioskd"
	}
	return filepath.Join(home, ".config", "kioskd")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
