package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/storage"
)

// Cooldown is how long an operation is held off after it last ran. The
// vendor bans accounts that poll aggressively, so this is enforced across
// restarts via the durable store.
const Cooldown = 5 * time.Minute

// saveDelay coalesces bursts of RecordCall into a single store write.
const saveDelay = time.Second

// NotReadyError is returned by Call when the operation is still cooling
// down. Remaining is how long until it may run again.
type NotReadyError struct {
	Op        string
	Remaining time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("operation %s not ready, retry in %s", e.Op, e.Remaining.Round(time.Second))
}

// Throttle enforces a per-operation cooldown backed by a durable store so
// restarts cannot be used to sidestep it. All methods are safe for
// concurrent use.
type Throttle struct {
	store storage.Store
	now   func() time.Time

	mu        sync.Mutex
	loaded    bool
	records   storage.ThrottleRecords
	saveTimer *time.Timer
}

// New returns a throttle backed by the given store. Nothing is read from the
// store until the first query.
func New(store storage.Store) *Throttle {
	return &Throttle{
		store: store,
		now:   time.Now,
	}
}

// load lazily reads persisted state, once. A store failure degrades to an
// empty record set so a broken store never blocks polling entirely.
func (t *Throttle) load(ctx context.Context) {
	if t.loaded {
		return
	}
	t.loaded = true

	records, err := t.store.LoadThrottle(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load throttle state, starting empty", slog.Any("err", err))
		records = storage.ThrottleRecords{Version: storage.RecordVersion, Calls: map[string]string{}}
	}
	if records.Calls == nil {
		records.Calls = map[string]string{}
	}
	t.records = records
}

// ShouldThrottle reports whether op is still cooling down. An unparsable
// persisted timestamp fails open: the call is allowed rather than wedging
// the op forever on a corrupt record.
func (t *Throttle) ShouldThrottle(ctx context.Context, op string) bool {
	return t.remaining(ctx, op) > 0
}

// Remaining returns how long until op may run again, zero if it may run now.
func (t *Throttle) Remaining(ctx context.Context, op string) time.Duration {
	return t.remaining(ctx, op)
}

func (t *Throttle) remaining(ctx context.Context, op string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load(ctx)

	raw, ok := t.records.Calls[op]
	if !ok {
		return 0
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "unparsable throttle timestamp, allowing call",
			slog.String("op", op), slog.String("timestamp", raw))
		return 0
	}

	// compare in whole seconds since the persisted form has second precision;
	// an elapsed time of exactly the cooldown is allowed
	elapsed := t.now().Truncate(time.Second).Sub(last.Truncate(time.Second))
	if elapsed < Cooldown {
		return Cooldown - elapsed
	}
	return 0
}

// RecordCall marks op as having run now. The write to the store is delayed
// briefly so a burst of calls lands as one save; later calls within the
// window update the pending payload without resetting the timer.
func (t *Throttle) RecordCall(ctx context.Context, op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load(ctx)

	t.records.Calls[op] = t.now().UTC().Format(time.RFC3339)

	if t.saveTimer != nil {
		return
	}
	t.saveTimer = time.AfterFunc(saveDelay, func() {
		t.flush(context.WithoutCancel(ctx))
	})
}

func (t *Throttle) flush(ctx context.Context) {
	t.mu.Lock()
	t.saveTimer = nil
	records := storage.ThrottleRecords{
		Version: storage.RecordVersion,
		Calls:   make(map[string]string, len(t.records.Calls)),
	}
	for k, v := range t.records.Calls {
		records.Calls[k] = v
	}
	t.mu.Unlock()

	if err := t.store.SaveThrottle(ctx, records); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save throttle state", slog.Any("err", err))
	}
}

// Call runs fn unless op is cooling down, in which case it returns a
// NotReadyError without invoking fn. The call is recorded before fn runs so
// a failed attempt still counts against the vendor's rate limits.
func (t *Throttle) Call(ctx context.Context, op string, fn func(context.Context) error) error {
	if remaining := t.remaining(ctx, op); remaining > 0 {
		return &NotReadyError{Op: op, Remaining: remaining}
	}
	t.RecordCall(ctx, op)
	return fn(ctx)
}

// Close flushes any pending save. Call on shutdown so the last recorded
// calls are not lost to the coalescing window.
func (t *Throttle) Close(ctx context.Context) {
	t.mu.Lock()
	pending := t.saveTimer != nil
	if pending {
		t.saveTimer.Stop()
	}
	t.mu.Unlock()

	if pending {
		t.flush(ctx)
	}
}
