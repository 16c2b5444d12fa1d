// Package logging provides structured logging for the emunwa backend.
//
// This package wraps a process-wide zap logger with convenience functions
// used throughout the discovery backend, the NWA protocol client and the
// WebSocket dispatcher. The logger lifecycle is independent of the backend:
// initialize it once at startup and every package logs through it.
//
// # Log Levels
//
//   - Debug: protocol traffic (commands, replies, raw bytes)
//   - Info: discovery results, attach decisions, server lifecycle
//   - Warn: rejected emulators, dropped connections, duplicate names
//   - Error: startup failures
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is passed, EMUNWA_LOG_LEVEL is consulted. With neither set
// the logger is a no-op so CLI output stays clean.
//
// # Domain Helpers
//
//	logging.LogDiscovery("settled", zap.Uint64("attempt", gen))
//	logging.LogReply("received", "EMULATOR_INFO", true, fields)
//	logging.LogRawBytes("binary reply", payload)
package logging
