// Package log provides structured logging for persist components.
//
// The Logger interface wraps log/slog with a Field-based API:
//
//	logger := log.NewLogger(
//	    log.WithLevel(log.DebugLevel),
//	)
//	logger = logger.WithComponent("writer")
//	logger.Info("batch committed", log.F("seqno", 7), log.F("upper", 42))
//
// Components accept a Logger in their Options struct and fall back to
// log.NewNop when none is provided, keeping hot paths free of nil checks.
package log
