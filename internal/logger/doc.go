// Package logger provides a small leveled logging facade over zap.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each console entry includes a timestamp, level, optional ID (a worker or
// run identifier), and message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Computation started")
//	logger.Info("worker-1", "Processed %d rows", rows)
//	logger.Error("run-01J...", "Failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("worker-1", "Debug message")
//	logger.SetDefault(l)
//
// NewJSON produces one JSON object per entry for machine consumption.
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// # Thread Safety
//
// All logging operations are safe for concurrent use. SetLevel takes effect
// immediately for every goroutine sharing the logger.
package logger
