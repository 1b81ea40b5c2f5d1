// Package logger wraps log/slog with the small set of attribute helpers and
// the extra TRACE level this codebase's modules use throughout, mirroring
// the teacher repo's own internal logger package (referenced from
// partition/node.go as logger.Error, logger.Data, logger.UnitID,
// logger.LevelTrace).
package logger

import (
	"log/slog"
)

// LevelTrace sits one notch below slog.LevelDebug for the high-volume,
// per-event dispatch logging the event bus emits.
const LevelTrace = slog.Level(-8)

// Error returns the conventional "error" attribute.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Data attaches an arbitrary value for structured inspection, e.g. a
// decoded wire.Message or protocol event.
func Data(v any) slog.Attr { return slog.Any("data", v) }

// SystemID tags a log line with the consensus instance it belongs to.
func SystemID(id string) slog.Attr { return slog.String("system", id) }

// NodeID tags a log line with a peer's process id.
func NodeID(id uint32) slog.Attr { return slog.Uint64("node", uint64(id)) }

// Epoch tags a log line with an epoch timestamp.
func Epoch(ts uint64) slog.Attr { return slog.Uint64("epoch", ts) }

// New builds a slog.Logger from handler h. LevelTrace lines are emitted
// whenever h's own level threshold admits them, same as any other level.
func New(h slog.Handler) *slog.Logger {
	return slog.New(h)
}
