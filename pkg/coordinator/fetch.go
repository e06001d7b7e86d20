package coordinator

import (
	"context"

	"github.com/growattmon/growattmon/pkg/growatt"
	"github.com/growattmon/growattmon/pkg/types"
)

type classicFetch func(ctx context.Context, c *growatt.Classic, plantID, serial string) (map[string]any, error)

type v1Fetch func(ctx context.Context, v *growatt.OpenV1, plantID, serial string) (map[string]any, error)

// classicFetchPlans maps each device type to the calls one classic refresh
// makes, in order. Later calls' keys win on merge conflicts. The table is
// closed: a type without an entry is rejected at construction.
var classicFetchPlans = map[types.DeviceType][]classicFetch{
	types.DeviceTypeTotal: {
		func(ctx context.Context, c *growatt.Classic, plantID, _ string) (map[string]any, error) {
			return c.PlantInfo(ctx, plantID)
		},
		func(ctx context.Context, c *growatt.Classic, plantID, _ string) (map[string]any, error) {
			return c.DashboardData(ctx, plantID)
		},
	},
	types.DeviceTypeInverter: {
		func(ctx context.Context, c *growatt.Classic, _, serial string) (map[string]any, error) {
			return c.InverterDetail(ctx, serial)
		},
	},
	types.DeviceTypeTLX: {
		func(ctx context.Context, c *growatt.Classic, _, serial string) (map[string]any, error) {
			return c.TlxDetail(ctx, serial)
		},
	},
	types.DeviceTypeStorage: {
		func(ctx context.Context, c *growatt.Classic, _, serial string) (map[string]any, error) {
			return c.StorageDetail(ctx, serial)
		},
		func(ctx context.Context, c *growatt.Classic, plantID, serial string) (map[string]any, error) {
			return c.StorageEnergyOverview(ctx, plantID, serial)
		},
	},
	types.DeviceTypeMix: {
		func(ctx context.Context, c *growatt.Classic, _, serial string) (map[string]any, error) {
			return c.MixInfo(ctx, serial)
		},
		func(ctx context.Context, c *growatt.Classic, plantID, serial string) (map[string]any, error) {
			return c.MixTotals(ctx, serial, plantID)
		},
		func(ctx context.Context, c *growatt.Classic, plantID, serial string) (map[string]any, error) {
			return c.MixSystemStatus(ctx, serial, plantID)
		},
		func(ctx context.Context, c *growatt.Classic, plantID, serial string) (map[string]any, error) {
			return c.MixDetail(ctx, serial, plantID)
		},
	},
}

// v1FetchPlans is the token-protocol counterpart. The v1 API covers fewer
// device families.
var v1FetchPlans = map[types.DeviceType][]v1Fetch{
	types.DeviceTypeTotal: {
		func(ctx context.Context, v *growatt.OpenV1, plantID, _ string) (map[string]any, error) {
			return v.PlantEnergyOverview(ctx, plantID)
		},
	},
	types.DeviceTypeMin: {
		func(ctx context.Context, v *growatt.OpenV1, _, serial string) (map[string]any, error) {
			return v.MinDetail(ctx, serial)
		},
		func(ctx context.Context, v *growatt.OpenV1, _, serial string) (map[string]any, error) {
			return v.MinSettings(ctx, serial)
		},
		func(ctx context.Context, v *growatt.OpenV1, _, serial string) (map[string]any, error) {
			return v.MinEnergy(ctx, serial)
		},
	},
	types.DeviceTypeMix: {
		func(ctx context.Context, v *growatt.OpenV1, _, serial string) (map[string]any, error) {
			return v.DeviceDetails(ctx, serial, growatt.FamilyMixSPH)
		},
		func(ctx context.Context, v *growatt.OpenV1, _, serial string) (map[string]any, error) {
			return v.DeviceEnergy(ctx, serial, growatt.FamilyMixSPH)
		},
	},
}
