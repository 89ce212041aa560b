// Package logging provides structured logging for the kiosk daemon.
//
// Logs are JSON lines produced by log/slog. Every subsystem derives a child
// logger tagged with its component name, and session-scoped code adds the
// session ID and current phase, so a single log file can be filtered per
// session after the fact.
//
// # Levels
//
// The level is held in a shared [slog.LevelVar]. Calling [Logger.SetLevel]
// on any logger in a tree changes the threshold for every child, which lets
// the daemon apply a new level on configuration reload without rebuilding
// its components.
//
// # Rotation
//
// When a log directory is configured the logger writes to kioskd.log through
// a [RotatingWriter]. Rotated files are named kioskd.log.1 (newest) through
// kioskd.log.N and may be gzip-compressed in the background.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(dir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	wd := logger.WithComponent("watchdog")
//	wd.Warn("phase stalled", "phase", "processing", "elapsed_ms", 61000)
package logging
