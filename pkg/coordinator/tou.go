package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/growattmon/growattmon/pkg/growatt"
	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/types"
)

// UpdateTimeSegment writes one time-of-use segment to a min/tlx device.
// Exactly one remote write is issued; on success a single out-of-band
// refresh runs so the new settings are visible without waiting for the
// timer. On failure the attribute map is untouched and no refresh happens.
func (c *Coordinator) UpdateTimeSegment(ctx context.Context, seg types.TimeSegment) error {
	if c.api != types.APIVersionV1 {
		return &growatt.ParameterError{Field: "device", Msg: "time segments are only writable on the v1 protocol"}
	}
	if c.device.Type != types.DeviceTypeMin && c.device.Type != types.DeviceTypeTLX {
		return &growatt.ParameterError{Field: "device", Msg: fmt.Sprintf("device type %s has no time segments", c.device.Type)}
	}
	if seg.BattMode == nil {
		return &growatt.ParameterError{Field: "batt_mode", Msg: "battery mode is required"}
	}
	start, err := types.ParseHHMM(seg.StartTime)
	if err != nil {
		return &growatt.ParameterError{Field: "start_time", Msg: err.Error()}
	}
	end, err := types.ParseHHMM(seg.EndTime)
	if err != nil {
		return &growatt.ParameterError{Field: "end_time", Msg: err.Error()}
	}

	if err := c.v1.WriteTimeSegment(ctx, c.device.Serial, seg.SegmentID, *seg.BattMode, start, end, seg.Enabled); err != nil {
		return fmt.Errorf("time segment write to %s failed: %w", c.device.Serial, err)
	}
	c.refreshAfterWrite(ctx)
	return nil
}

// ReadTimeSegments parses the 9 time-of-use segments out of the current
// attribute map. The vendor reports unset segments with literal "null"
// strings and the occasional garbage value; those degrade to zero times, a
// nil mode, and disabled, never an error.
func (c *Coordinator) ReadTimeSegments(ctx context.Context) ([]types.TimeSegment, error) {
	if c.api != types.APIVersionV1 {
		return nil, &growatt.ParameterError{Field: "device", Msg: "time segments are only readable on the v1 protocol"}
	}
	data := c.Data()

	segments := make([]types.TimeSegment, 0, 9)
	for i := 1; i <= 9; i++ {
		seg := types.TimeSegment{
			SegmentID: i,
			StartTime: parseSegmentTime(data[fmt.Sprintf("forcedTimeStart%d", i)]),
			EndTime:   parseSegmentTime(data[fmt.Sprintf("forcedTimeStop%d", i)]),
			Enabled:   parseSegmentBool(data[fmt.Sprintf("forcedStopSwitch%d", i)]),
		}
		if mode, ok := parseSegmentMode(data[fmt.Sprintf("time%dMode", i)]); ok {
			seg.BattMode = &mode
			seg.ModeName = mode.String()
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// refreshAfterWrite runs the post-write refresh. The write already
// succeeded, so a refresh failure only delays visibility until the next
// timer tick and is logged rather than surfaced.
func (c *Coordinator) refreshAfterWrite(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "refresh after write failed",
			slog.String("device", c.device.Serial), slog.Any("err", err))
	}
}

func parseSegmentTime(v any) string {
	s, ok := v.(string)
	if !ok {
		return "00:00"
	}
	t, err := types.ParseHHMM(s)
	if err != nil {
		return "00:00"
	}
	return t.String()
}

func parseSegmentMode(v any) (types.BattMode, bool) {
	switch n := v.(type) {
	case float64:
		if n >= 0 && n <= 2 {
			return types.BattMode(int(n)), true
		}
	case string:
		if m, err := types.ParseBattMode(n); err == nil {
			return m, true
		}
	}
	return 0, false
}

func parseSegmentBool(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case float64:
		return n == 1
	case string:
		return n == "1" || n == "true"
	}
	return false
}

// acChargeParamID and acDischargeParamID are the vendor's named parameter
// blocks for the mix (SPH) grid charge/discharge schedules.
const (
	acChargeParamID    = "mix_ac_charge_time_period"
	acDischargeParamID = "mix_ac_discharge_time_period"
)

// UpdateACChargeTimes writes the whole grid-charge block to a mix device.
// The vendor has no partial update, so every field is encoded every time.
func (c *Coordinator) UpdateACChargeTimes(ctx context.Context, s types.ACChargeSettings) error {
	if err := c.checkMixWrite(); err != nil {
		return err
	}
	if err := checkPercent("charge_power", s.ChargePower); err != nil {
		return err
	}
	if err := checkPercent("charge_stop_soc", s.ChargeStopSOC); err != nil {
		return err
	}

	values := []string{
		strconv.Itoa(s.ChargePower),
		strconv.Itoa(s.ChargeStopSOC),
		boolParam(s.MainsEnabled),
	}
	values, err := appendPeriods(values, s.Periods)
	if err != nil {
		return err
	}

	if err := c.v1.WriteParameter(ctx, c.device.Serial, acChargeParamID, values); err != nil {
		return fmt.Errorf("ac charge write to %s failed: %w", c.device.Serial, err)
	}
	c.refreshAfterWrite(ctx)
	return nil
}

// UpdateACDischargeTimes writes the whole discharge block to a mix device.
func (c *Coordinator) UpdateACDischargeTimes(ctx context.Context, s types.ACDischargeSettings) error {
	if err := c.checkMixWrite(); err != nil {
		return err
	}
	if err := checkPercent("discharge_power", s.DischargePower); err != nil {
		return err
	}
	if err := checkPercent("discharge_stop_soc", s.DischargeStopSOC); err != nil {
		return err
	}

	values := []string{
		strconv.Itoa(s.DischargePower),
		strconv.Itoa(s.DischargeStopSOC),
	}
	values, err := appendPeriods(values, s.Periods)
	if err != nil {
		return err
	}

	if err := c.v1.WriteParameter(ctx, c.device.Serial, acDischargeParamID, values); err != nil {
		return fmt.Errorf("ac discharge write to %s failed: %w", c.device.Serial, err)
	}
	c.refreshAfterWrite(ctx)
	return nil
}

// ReadACChargeTimes parses the grid-charge block out of the current
// attribute map, with the same garbage tolerance as the segment reads.
func (c *Coordinator) ReadACChargeTimes(ctx context.Context) (types.ACChargeSettings, error) {
	if err := c.checkMixWrite(); err != nil {
		return types.ACChargeSettings{}, err
	}
	data := c.Data()

	s := types.ACChargeSettings{
		ChargePower:   parseSegmentInt(data["chargePowerCommand"]),
		ChargeStopSOC: parseSegmentInt(data["wchargeSOCLowLimit2"]),
		MainsEnabled:  parseSegmentBool(data["acChargeEnable"]),
	}
	for i := 1; i <= 3; i++ {
		s.Periods = append(s.Periods, types.TimePeriod{
			StartTime: parseSegmentTime(data[fmt.Sprintf("forcedChargeTimeStart%d", i)]),
			EndTime:   parseSegmentTime(data[fmt.Sprintf("forcedChargeTimeStop%d", i)]),
			Enabled:   parseSegmentBool(data[fmt.Sprintf("forcedChargeStopSwitch%d", i)]),
		})
	}
	return s, nil
}

// ReadACDischargeTimes parses the discharge block.
func (c *Coordinator) ReadACDischargeTimes(ctx context.Context) (types.ACDischargeSettings, error) {
	if err := c.checkMixWrite(); err != nil {
		return types.ACDischargeSettings{}, err
	}
	data := c.Data()

	s := types.ACDischargeSettings{
		DischargePower:   parseSegmentInt(data["disChargePowerCommand"]),
		DischargeStopSOC: parseSegmentInt(data["wdisChargeSOCLowLimit2"]),
	}
	for i := 1; i <= 3; i++ {
		s.Periods = append(s.Periods, types.TimePeriod{
			StartTime: parseSegmentTime(data[fmt.Sprintf("forcedDischargeTimeStart%d", i)]),
			EndTime:   parseSegmentTime(data[fmt.Sprintf("forcedDischargeTimeStop%d", i)]),
			Enabled:   parseSegmentBool(data[fmt.Sprintf("forcedDischargeStopSwitch%d", i)]),
		})
	}
	return s, nil
}

func (c *Coordinator) checkMixWrite() error {
	if c.api != types.APIVersionV1 {
		return &growatt.ParameterError{Field: "device", Msg: "ac charge settings require the v1 protocol"}
	}
	if c.device.Type != types.DeviceTypeMix {
		return &growatt.ParameterError{Field: "device", Msg: fmt.Sprintf("device type %s has no ac charge settings", c.device.Type)}
	}
	return nil
}

func checkPercent(field string, v int) error {
	if v < 0 || v > 100 {
		return &growatt.ParameterError{Field: field, Msg: fmt.Sprintf("must be between 0 and 100, got %d", v)}
	}
	return nil
}

// appendPeriods encodes exactly 3 schedule periods as the vendor's
// start-hour/start-minute/end-hour/end-minute/enabled quintets.
func appendPeriods(values []string, periods []types.TimePeriod) ([]string, error) {
	if len(periods) != 3 {
		return nil, &growatt.ParameterError{Field: "periods", Msg: fmt.Sprintf("exactly 3 periods required, got %d", len(periods))}
	}
	for i, p := range periods {
		start, err := types.ParseHHMM(p.StartTime)
		if err != nil {
			return nil, &growatt.ParameterError{Field: fmt.Sprintf("periods[%d].start_time", i), Msg: err.Error()}
		}
		end, err := types.ParseHHMM(p.EndTime)
		if err != nil {
			return nil, &growatt.ParameterError{Field: fmt.Sprintf("periods[%d].end_time", i), Msg: err.Error()}
		}
		values = append(values,
			strconv.Itoa(start.Hour), strconv.Itoa(start.Minute),
			strconv.Itoa(end.Hour), strconv.Itoa(end.Minute),
			boolParam(p.Enabled))
	}
	return values, nil
}

func parseSegmentInt(v any) int {
	if f, ok := asFloat(v); ok {
		return int(f)
	}
	return 0
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
