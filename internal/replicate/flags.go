package replicate

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/starford/mira/internal/transport"
)

// Target-wide flags the engine suspends while building. Defaults are what
// every exit path restores.
var defaultFlags = []string{
	"gamerule sendCommandFeedback true",
	"carpet fillUpdates true",
	"tick unfreeze",
}

// suspendFlags silences feedback, freezes time and sets block-update
// propagation for the build. The returned release restores the defaults and
// must be deferred by the caller; it runs even when ctx is already cancelled.
func (e *Engine) suspendFlags(ctx context.Context, useUpdates bool) (release func()) {
	suspend := []string{
		"gamerule sendCommandFeedback false",
		"tick freeze",
		"carpet fillUpdates " + strconv.FormatBool(useUpdates),
	}
	for _, cmd := range suspend {
		if _, err := transport.Exec(ctx, e.conn, cmd); err != nil {
			e.logger.Warn("replicate: suspend flag failed", slog.String("command", cmd), slog.String("error", err.Error()))
		}
	}
	return func() {
		rctx := context.WithoutCancel(ctx)
		for _, cmd := range defaultFlags {
			if _, err := transport.Exec(rctx, e.conn, cmd); err != nil {
				e.logger.Error("replicate: restore flag failed", slog.String("command", cmd), slog.String("error", err.Error()))
			}
		}
	}
}
