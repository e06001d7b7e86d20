package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/growattmon/growattmon/pkg/growatt"
	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/types"
)

// RefreshInterval is how often each coordinator polls the vendor API.
const RefreshInterval = 5 * time.Minute

// Status is the lifecycle state of a coordinator.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusReady         Status = "ready"
	StatusUnavailable   Status = "unavailable"
	// StatusSetupFailed is terminal: the first refresh failed and the
	// device never became usable.
	StatusSetupFailed Status = "setup_failed"
)

// Coordinator polls one device (or the plant-level total) and holds its
// latest attribute map. The map is replaced wholesale on every successful
// refresh; readers go through Read so reconciliation applies.
type Coordinator struct {
	device  types.Device
	plantID string
	api     types.APIVersion

	classic  *growatt.Classic
	v1       *growatt.OpenV1
	username string
	password string

	// refreshMu serializes refreshes (timer-driven and write-triggered)
	refreshMu sync.Mutex

	mu       sync.Mutex
	status   Status
	data     map[string]any
	previous map[string]any
}

// NewClassic returns a coordinator for a device on the classic protocol.
// The username/password are kept for the re-login every refresh requires.
func NewClassic(client *growatt.Classic, username, password, plantID string, device types.Device) (*Coordinator, error) {
	if _, ok := classicFetchPlans[device.Type]; !ok {
		return nil, fmt.Errorf("device type %s not supported on the classic protocol", device.Type)
	}
	return &Coordinator{
		device:   device,
		plantID:  plantID,
		api:      types.APIVersionClassic,
		classic:  client,
		username: username,
		password: password,
		status:   StatusUninitialized,
		previous: map[string]any{},
	}, nil
}

// NewOpenV1 returns a coordinator for a device on the token protocol. The
// client is shared read-only across an account's coordinators.
func NewOpenV1(client *growatt.OpenV1, plantID string, device types.Device) (*Coordinator, error) {
	if _, ok := v1FetchPlans[device.Type]; !ok {
		return nil, fmt.Errorf("device type %s not supported on the v1 protocol", device.Type)
	}
	return &Coordinator{
		device:   device,
		plantID:  plantID,
		api:      types.APIVersionV1,
		v1:       client,
		status:   StatusUninitialized,
		previous: map[string]any{},
	}, nil
}

func (c *Coordinator) Device() types.Device         { return c.device }
func (c *Coordinator) PlantID() string              { return c.plantID }
func (c *Coordinator) APIVersion() types.APIVersion { return c.api }

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Data returns a copy of the current attribute map. Values here are raw;
// consumers wanting glitch smoothing must use Read.
func (c *Coordinator) Data() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// FirstRefresh must succeed before the device is considered usable. Failure
// is terminal for this coordinator and propagates as a setup failure.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		c.mu.Lock()
		c.status = StatusSetupFailed
		c.mu.Unlock()
		return fmt.Errorf("first refresh of %s failed: %w", c.device.Serial, err)
	}
	return nil
}

// Refresh fetches fresh data for the device. On failure the previous
// attribute map is retained unchanged and the device is marked unavailable
// until a refresh succeeds again.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		c.mu.Lock()
		if c.status != StatusSetupFailed {
			c.status = StatusUnavailable
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Coordinator) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx = log.WithDevice(ctx, c.device.Serial)

	merged := map[string]any{}
	switch c.api {
	case types.APIVersionClassic:
		// the classic protocol requires a fresh session every cycle
		if err := c.classic.Login(ctx, c.username, c.password); err != nil {
			return fmt.Errorf("re-login for %s failed: %w", c.device.Serial, err)
		}
		for _, fetch := range classicFetchPlans[c.device.Type] {
			m, err := fetch(ctx, c.classic, c.plantID, c.device.Serial)
			if err != nil {
				return fmt.Errorf("refresh of %s failed: %w", c.device.Serial, err)
			}
			for k, v := range m {
				merged[k] = v
			}
		}
	case types.APIVersionV1:
		for _, fetch := range v1FetchPlans[c.device.Type] {
			m, err := fetch(ctx, c.v1, c.plantID, c.device.Serial)
			if err != nil {
				return fmt.Errorf("refresh of %s failed: %w", c.device.Serial, err)
			}
			for k, v := range m {
				merged[k] = v
			}
		}
	default:
		return fmt.Errorf("unknown api version %q", c.api)
	}

	deriveTotalPV(merged)

	c.mu.Lock()
	c.data = merged
	c.status = StatusReady
	c.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "refreshed device",
		slog.String("type", string(c.device.Type)), slog.Int("attributes", len(merged)))
	return nil
}

// deriveTotalPV fills in epvToday from the per-string epv{n}Today values
// when the API did not supply a total itself. Unparsable strings count as
// zero; a server-supplied total is never overwritten.
func deriveTotalPV(data map[string]any) {
	if _, ok := data["epvToday"]; ok {
		return
	}
	var sum float64
	var present bool
	for _, key := range []string{"epv1Today", "epv2Today", "epv3Today", "epv4Today"} {
		v, ok := data[key]
		if !ok {
			continue
		}
		present = true
		if f, ok := asFloat(v); ok {
			sum += f
		}
	}
	if present {
		data["epvToday"] = sum
	}
}

// Run refreshes the device on a fixed interval until the context is
// cancelled. Each coordinator runs its own timer; there is no ordering
// between coordinators. Refresh errors are logged, not fatal.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "periodic refresh failed",
					slog.String("device", c.device.Serial), slog.Any("err", err))
			}
		}
	}
}
