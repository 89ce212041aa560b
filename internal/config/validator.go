package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/mdai-dev/kiosk/internal/phase"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "presence.threshold_mm")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBackend()...)
	errors = append(errors, c.validateController()...)
	errors = append(errors, c.validatePresence()...)
	errors = append(errors, c.validateValidation()...)
	errors = append(errors, c.validatePhases()...)
	errors = append(errors, c.validateWatchdog()...)
	errors = append(errors, c.validateEvents()...)
	errors = append(errors, c.validateHardware()...)
	errors = append(errors, c.validateHistory()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// positive appends an error when v <= 0.
func positive(errs []ValidationError, field string, v int) []ValidationError {
	if v <= 0 {
		errs = append(errs, ValidationError{Field: field, Value: v, Message: "must be positive"})
	}
	return errs
}

// nonNegative appends an error when v < 0.
func nonNegative(errs []ValidationError, field string, v int) []ValidationError {
	if v < 0 {
		errs = append(errs, ValidationError{Field: field, Value: v, Message: "must be non-negative"})
	}
	return errs
}

// unitInterval appends an error when v is outside [0, 1].
func unitInterval(errs []ValidationError, field string, v float64) []ValidationError {
	if v < 0 || v > 1 {
		errs = append(errs, ValidationError{Field: field, Value: v, Message: "must be between 0 and 1"})
	}
	return errs
}

func validateURL(field, raw string, schemes ...string) []ValidationError {
	if raw == "" {
		return []ValidationError{{Field: field, Value: raw, Message: "is required"}}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []ValidationError{{Field: field, Value: raw, Message: "must be an absolute URL"}}
	}
	if !slices.Contains(schemes, u.Scheme) {
		return []ValidationError{{
			Field:   field,
			Value:   raw,
			Message: fmt.Sprintf("scheme must be one of: %s", strings.Join(schemes, ", ")),
		}}
	}
	return nil
}

func (c *Config) validateBackend() []ValidationError {
	var errors []ValidationError
	errors = append(errors, validateURL("backend.api_url", c.Backend.APIURL, "http", "https")...)
	errors = append(errors, validateURL("backend.ws_url", c.Backend.WSURL, "ws", "wss")...)
	errors = positive(errors, "backend.http_timeout_ms", c.Backend.HTTPTimeoutMs)
	return errors
}

func (c *Config) validateController() []ValidationError {
	var errors []ValidationError
	if c.Controller.Port < 1 || c.Controller.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "controller.port",
			Value:   c.Controller.Port,
			Message: "must be between 1 and 65535",
		})
	}
	return errors
}

func (c *Config) validatePresence() []ValidationError {
	var errors []ValidationError
	p := c.Presence

	errors = positive(errors, "presence.threshold_mm", p.ThresholdMM)
	errors = nonNegative(errors, "presence.debounce_ms", p.DebounceMs)
	errors = positive(errors, "presence.grace_period_ms", p.GracePeriodMs)
	errors = positive(errors, "presence.idle_poll_ms", p.IdlePollMs)
	errors = positive(errors, "presence.active_poll_ms", p.ActivePollMs)

	if p.ReaderBinary != "" {
		if p.I2CAddress < 0x03 || p.I2CAddress > 0x77 {
			errors = append(errors, ValidationError{
				Field:   "presence.i2c_address",
				Value:   p.I2CAddress,
				Message: "must be a 7-bit address between 0x03 and 0x77",
			})
		}
		errors = positive(errors, "presence.output_hz", p.OutputHz)
	}

	return errors
}

func (c *Config) validateValidation() []ValidationError {
	var errors []ValidationError
	v := c.Validation

	errors = positive(errors, "validation.duration_ms", v.DurationMs)
	errors = positive(errors, "validation.slice_ms", v.SliceMs)
	if v.SliceMs > v.DurationMs && v.DurationMs > 0 {
		errors = append(errors, ValidationError{
			Field:   "validation.slice_ms",
			Value:   v.SliceMs,
			Message: "must not exceed validation.duration_ms",
		})
	}
	errors = positive(errors, "validation.min_passing_frames", v.MinPassingFrames)
	errors = nonNegative(errors, "validation.warmup_cold_ms", v.WarmupColdMs)
	errors = nonNegative(errors, "validation.warmup_warm_ms", v.WarmupWarmMs)

	if v.FocusNormalization <= 0 {
		errors = append(errors, ValidationError{
			Field:   "validation.focus_normalization",
			Value:   v.FocusNormalization,
			Message: "must be positive",
		})
	}
	errors = unitInterval(errors, "validation.stability_weight", v.StabilityWeight)
	errors = unitInterval(errors, "validation.focus_weight", v.FocusWeight)
	errors = unitInterval(errors, "validation.stable_bonus", v.StableBonus)
	errors = unitInterval(errors, "validation.min_face_ratio", v.MinFaceRatio)

	if v.CapturesDir == "" {
		errors = append(errors, ValidationError{
			Field:   "validation.captures_dir",
			Value:   v.CapturesDir,
			Message: "is required",
		})
	}

	return errors
}

func (c *Config) validatePhases() []ValidationError {
	var errors []ValidationError
	p := c.Phases

	errors = nonNegative(errors, "phases.pairing_request_ms", p.PairingRequestMs)
	errors = nonNegative(errors, "phases.hello_human_ms", p.HelloHumanMs)
	errors = nonNegative(errors, "phases.scan_prompt_ms", p.ScanPromptMs)
	errors = nonNegative(errors, "phases.complete_ms", p.CompleteMs)
	errors = nonNegative(errors, "phases.error_ms", p.ErrorMs)
	errors = nonNegative(errors, "phases.processing_min_ms", p.ProcessingMinMs)
	errors = positive(errors, "phases.backend_ack_timeout_ms", p.BackendAckTimeoutMs)
	errors = positive(errors, "phases.app_ready_default_timeout_ms", p.AppReadyDefaultTimeoutMs)

	return errors
}

func (c *Config) validateWatchdog() []ValidationError {
	var errors []ValidationError
	w := c.Watchdog

	errors = positive(errors, "watchdog.interval_ms", w.IntervalMs)
	errors = positive(errors, "watchdog.backend_timeout_ms", w.BackendTimeoutMs)
	errors = nonNegative(errors, "watchdog.soft_action_cap", w.SoftActionCap)
	errors = positive(errors, "watchdog.cancel_timeout_ms", w.CancelTimeoutMs)

	names := make([]string, 0, len(w.LimitsMs))
	for name := range w.LimitsMs {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		field := "watchdog.limits_ms." + name
		p, err := phase.Parse(name)
		if err != nil {
			errors = append(errors, ValidationError{Field: field, Value: name, Message: "unknown phase"})
			continue
		}
		if p == phase.Idle {
			errors = append(errors, ValidationError{Field: field, Value: name, Message: "idle has no limit"})
			continue
		}
		errors = positive(errors, field, w.LimitsMs[name])
	}

	return errors
}

func (c *Config) validateEvents() []ValidationError {
	var errors []ValidationError
	errors = positive(errors, "events.queue_size", c.Events.QueueSize)
	errors = positive(errors, "events.heartbeat_interval_ms", c.Events.HeartbeatIntervalMs)
	errors = nonNegative(errors, "events.metrics_interval_ms", c.Events.MetricsIntervalMs)
	return errors
}

func (c *Config) validateHardware() []ValidationError {
	var errors []ValidationError
	errors = positive(errors, "hardware.workers", c.Hardware.Workers)
	return errors
}

func (c *Config) validateHistory() []ValidationError {
	var errors []ValidationError
	if c.History.RedisAddr == "" {
		return nil
	}
	if c.History.Key == "" {
		errors = append(errors, ValidationError{Field: "history.key", Value: c.History.Key, Message: "is required"})
	}
	errors = positive(errors, "history.max_entries", c.History.MaxEntries)
	errors = nonNegative(errors, "history.ttl_hours", c.History.TTLHours)
	errors = nonNegative(errors, "history.redis_db", c.History.RedisDB)
	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	errors = positive(errors, "logging.max_size_mb", c.Logging.MaxSizeMB)

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	errors = nonNegative(errors, "logging.max_backups", c.Logging.MaxBackups)

	return errors
}
