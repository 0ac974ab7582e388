package main

import (
	"log/slog"
	"strings"
)

// debugAdapter adapts a *slog.Logger onto the package's narrow logger
// seam. Most of the transaction engine's diagnostics (retry attempts)
// land at debug level; messages it tags "WARN:" for a lenient CRC,
// function-code, or unit-ID acceptance are routed to warn level instead,
// the same text-prefix convention the example corpus's own
// enhancement-logger.go uses to recover a level from a plain message.
type debugAdapter struct {
	*slog.Logger
}

func (log *debugAdapter) Printf(msg string, args ...any) {
	if strings.HasPrefix(msg, "WARN:") {
		log.Logger.Warn(msg, args...)
		return
	}
	log.Logger.Debug(msg, args...)
}
