package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/growattmon/growattmon/pkg/coordinator"
	"github.com/growattmon/growattmon/pkg/growatt"
	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/throttle"
	"github.com/growattmon/growattmon/pkg/types"
)

// opClassicDeviceList is the throttle key for the classic login/device-list
// call. It is the operation name only, shared by every account on the
// classic protocol: the vendor's lockout is per credential class, not per
// plant.
const opClassicDeviceList = "device_list_classic"

// waitChunk is how long the deferred-setup task sleeps between countdown
// updates. Chunked so the wait stays cancellable and the countdown stays
// live.
const waitChunk = 30 * time.Second

// TotalDeviceSerial is the synthetic serial for the plant-level coordinator.
const TotalDeviceSerial = "total"

// Account is the runtime state for one configured account: the client
// handle, the plant-level coordinator, and one coordinator per discovered
// device. It is replaced wholesale, never mutated field by field: once as a
// placeholder while throttled, once with real coordinators when setup
// completes.
type Account struct {
	Credentials types.Credentials
	Classic     *growatt.Classic
	V1          *growatt.OpenV1
	Total       *coordinator.Coordinator
	Devices     map[string]*coordinator.Coordinator

	// Placeholder is set while setup is deferred behind the throttle; no
	// coordinators exist yet.
	Placeholder bool
}

// Coordinators returns the total coordinator followed by the device
// coordinators.
func (a *Account) Coordinators() []*coordinator.Coordinator {
	if a.Total == nil {
		return nil
	}
	out := []*coordinator.Coordinator{a.Total}
	for _, c := range a.Devices {
		out = append(out, c)
	}
	return out
}

// Run starts the periodic refresh loop of every coordinator. It blocks
// until the context is cancelled.
func (a *Account) Run(ctx context.Context) {
	for _, c := range a.Coordinators() {
		go c.Run(ctx)
	}
	<-ctx.Done()
}

// Orchestrator builds accounts: discovers devices, constructs their
// coordinators, and runs the mandatory first refresh for each. Classic
// accounts go through the durable throttle and may come back as a
// placeholder with a deferred task.
type Orchestrator struct {
	throttle *throttle.Throttle
	notifier Notifier

	// overridable in tests so countdown chunking is observable quickly
	waitChunk time.Duration
}

func New(t *throttle.Throttle, n Notifier) *Orchestrator {
	if n == nil {
		n = LogNotifier{}
	}
	return &Orchestrator{
		throttle:  t,
		notifier:  n,
		waitChunk: waitChunk,
	}
}

// Setup builds the account for the given credentials. When the classic
// login/device-list throttle is active, it returns a placeholder account
// plus a Task that completes setup in the background; the caller swaps in
// the Task's result when it finishes. Auth failures surface as
// growatt.ErrInvalidAuth and are never retried silently.
func (o *Orchestrator) Setup(ctx context.Context, creds types.Credentials) (*Account, *Task, error) {
	if err := creds.Validate(); err != nil {
		return nil, nil, err
	}

	if creds.APIVersion == types.APIVersionV1 {
		account, err := o.setupV1(ctx, creds)
		return account, nil, err
	}

	if o.throttle.ShouldThrottle(ctx, opClassicDeviceList) {
		log.Ctx(ctx).InfoContext(ctx, "device list throttled, deferring setup",
			slog.Duration("remaining", o.throttle.Remaining(ctx, opClassicDeviceList)))
		placeholder := &Account{Credentials: creds, Placeholder: true}
		return placeholder, o.deferSetup(ctx, creds), nil
	}

	account, err := o.setupClassic(ctx, creds)
	if err != nil {
		var nre *throttle.NotReadyError
		if errors.As(err, &nre) {
			// lost the race to another account's setup; defer like above
			placeholder := &Account{Credentials: creds, Placeholder: true}
			return placeholder, o.deferSetup(ctx, creds), nil
		}
		return nil, nil, err
	}
	return account, nil, nil
}

func (o *Orchestrator) setupClassic(ctx context.Context, creds types.Credentials) (*Account, error) {
	client := growatt.NewClassic(creds.ServerURL)

	var devices []types.Device
	err := o.throttle.Call(ctx, opClassicDeviceList, func(ctx context.Context) error {
		if err := client.Login(ctx, creds.Username, creds.Password); err != nil {
			return err
		}
		var err error
		devices, err = client.DeviceList(ctx, creds.PlantID)
		return err
	})
	if err != nil {
		if errors.Is(err, growatt.ErrInvalidAuth) {
			return nil, fmt.Errorf("setup of plant %s: %w", creds.PlantID, err)
		}
		return nil, err
	}

	account := &Account{
		Credentials: creds,
		Classic:     client,
		Devices:     make(map[string]*coordinator.Coordinator, len(devices)),
	}

	// Each coordinator owns its own client. Classic sessions are cookie
	// scoped and every refresh re-logs in; coordinators refresh concurrently,
	// so a shared client would cross their sessions.
	total, err := coordinator.NewClassic(growatt.NewClassic(creds.ServerURL),
		creds.Username, creds.Password, creds.PlantID,
		types.Device{Serial: TotalDeviceSerial, Type: types.DeviceTypeTotal})
	if err != nil {
		return nil, err
	}
	account.Total = total

	for _, d := range devices {
		c, err := coordinator.NewClassic(growatt.NewClassic(creds.ServerURL),
			creds.Username, creds.Password, creds.PlantID, d)
		if err != nil {
			return nil, err
		}
		account.Devices[d.Serial] = c
	}

	return account, o.firstRefreshAll(ctx, account)
}

func (o *Orchestrator) setupV1(ctx context.Context, creds types.Credentials) (*Account, error) {
	client := growatt.NewOpenV1(creds.ServerURL, creds.Token)

	devices, err := client.DeviceList(ctx, creds.PlantID)
	if err != nil {
		return nil, fmt.Errorf("v1 device list for plant %s failed: %w", creds.PlantID, err)
	}

	account := &Account{
		Credentials: creds,
		V1:          client,
		Devices:     make(map[string]*coordinator.Coordinator, len(devices)),
	}

	total, err := coordinator.NewOpenV1(client, creds.PlantID,
		types.Device{Serial: TotalDeviceSerial, Type: types.DeviceTypeTotal})
	if err != nil {
		return nil, err
	}
	account.Total = total

	for _, d := range devices {
		c, err := coordinator.NewOpenV1(client, creds.PlantID, d)
		if err != nil {
			return nil, err
		}
		account.Devices[d.Serial] = c
	}

	return account, o.firstRefreshAll(ctx, account)
}

// firstRefreshAll runs the mandatory first refresh per coordinator. Any
// failure is a hard setup failure for the whole account.
func (o *Orchestrator) firstRefreshAll(ctx context.Context, account *Account) error {
	for _, c := range account.Coordinators() {
		if err := c.FirstRefresh(ctx); err != nil {
			o.notifier.Notify(ctx, fmt.Sprintf("Setup of plant %s failed: %v", account.Credentials.PlantID, err))
			return fmt.Errorf("setup of plant %s: %w", account.Credentials.PlantID, err)
		}
	}
	return nil
}

// deferSetup starts the background task that waits out the throttle in
// chunks, surfacing a live countdown, then completes setup. Losing the
// cooldown slot to a concurrent setup or a transient vendor failure sends
// the task back to the countdown; only an auth failure or cancellation
// finishes it with an error. The task is abandoned on shutdown: the throttle
// state is durable, so a restart re-derives the same wait.
func (o *Orchestrator) deferSetup(ctx context.Context, creds types.Credentials) *Task {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)

		for {
			if err := o.waitForSlot(taskCtx, creds.PlantID); err != nil {
				t.err = err
				return
			}

			account, err := o.setupClassic(taskCtx, creds)
			if err == nil {
				o.notifier.Clear(taskCtx)
				t.account = account
				return
			}
			if errors.Is(err, growatt.ErrInvalidAuth) {
				t.err = err
				return
			}
			var nre *throttle.NotReadyError
			if errors.As(err, &nre) {
				// another setup took the slot first; back to counting down
				continue
			}
			// transient failure. The attempt consumed the cooldown slot, so
			// the next countdown is the retry backoff; the extra chunk here
			// keeps a failure that never recorded from looping hot.
			o.notifier.Notify(taskCtx, fmt.Sprintf(
				"Setup of plant %s failed, will retry: %v", creds.PlantID, err))
			select {
			case <-taskCtx.Done():
				t.err = taskCtx.Err()
				return
			case <-time.After(o.waitChunk):
			}
		}
	}()

	return t
}

// waitForSlot blocks until the device-list cooldown has elapsed, surfacing a
// countdown in waitChunk steps.
func (o *Orchestrator) waitForSlot(ctx context.Context, plantID string) error {
	for {
		remaining := o.throttle.Remaining(ctx, opClassicDeviceList)
		if remaining <= 0 {
			return nil
		}
		o.notifier.Notify(ctx, fmt.Sprintf(
			"Waiting %s before contacting the vendor API for plant %s",
			remaining.Round(time.Second), plantID))

		wait := remaining
		if wait > o.waitChunk {
			wait = o.waitChunk
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
