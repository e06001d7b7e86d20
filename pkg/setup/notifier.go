package setup

import (
	"context"
	"log/slog"

	"github.com/growattmon/growattmon/pkg/log"
)

// Notifier surfaces setup progress to a human: the throttle countdown while
// setup is deferred, and persistent setup failures.
type Notifier interface {
	Notify(ctx context.Context, message string)
	// Clear removes the countdown once setup proceeds.
	Clear(ctx context.Context)
}

// LogNotifier writes notifications to the log. It is the default when no
// richer surface is wired in.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, message string) {
	log.Ctx(ctx).InfoContext(ctx, "setup notice", slog.String("message", message))
}

func (LogNotifier) Clear(ctx context.Context) {
	log.Ctx(ctx).DebugContext(ctx, "setup notice cleared")
}
