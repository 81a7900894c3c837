// Package logger provides the structured logging interface used by the
// exchange client, the CLI and the API server.
//
// It wraps zerolog behind a small interface so components can be handed a
// TestLogger or a no-op logger in tests:
//
//	log, err := logger.New(&cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	log.WithField("component", "session").Info("cookies refreshed")
//	log.InfoWithFields("download completed", map[string]interface{}{
//	    "path": path,
//	    "bytes": n,
//	})
//
// Console output is colourised. When a log file is configured the same
// events are written to both the console and the file.
package logger
