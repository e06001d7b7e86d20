package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/growattmon/growattmon/pkg/growatt"
	"github.com/growattmon/growattmon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFake serves a v1 device plus the tlxSet write endpoint, counting
// refresh fetches and capturing write forms.
type writeFake struct {
	deviceType types.DeviceType
	settings   map[string]interface{}

	fetches   atomic.Int64
	writes    atomic.Int64
	writeForm atomic.Pointer[url.Values]
	failWrite atomic.Bool
}

func (f *writeFake) handler() http.HandlerFunc {
	ok := func(w http.ResponseWriter, data interface{}) {
		json.NewEncoder(w).Encode(map[string]interface{}{"error_code": 0, "error_msg": "", "data": data})
	}
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tlxSet":
			_ = r.ParseForm()
			form := r.PostForm
			f.writeForm.Store(&form)
			f.writes.Add(1)
			if f.failWrite.Load() {
				json.NewEncoder(w).Encode(map[string]interface{}{"error_code": 1, "error_msg": "X"})
				return
			}
			ok(w, nil)
		case "/v1/device/tlx/tlx_data_info", "/v1/device/mix/mix_data_info":
			f.fetches.Add(1)
			ok(w, map[string]interface{}{})
		case "/v1/device/tlx/tlx_set_info":
			f.fetches.Add(1)
			ok(w, f.settings)
		case "/v1/device/tlx/tlx_last_data", "/v1/device/mix/mix_last_data":
			f.fetches.Add(1)
			ok(w, map[string]interface{}{"pac": 100.0})
		default:
			http.Error(w, "not found: "+r.URL.Path, 404)
		}
	}
}

func newWriteCoordinator(t *testing.T, fake *writeFake) *Coordinator {
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	client := growatt.NewOpenV1(ts.URL, "token")
	c, err := NewOpenV1(client, "12345", types.Device{Serial: "DEV1", Type: fake.deviceType})
	require.NoError(t, err)
	require.NoError(t, c.FirstRefresh(context.Background()))
	return c
}

func TestUpdateTimeSegment(t *testing.T) {
	t.Run("WriteThenOneRefresh", func(t *testing.T) {
		fake := &writeFake{deviceType: types.DeviceTypeMin, settings: map[string]interface{}{}}
		c := newWriteCoordinator(t, fake)
		fetchesBefore := fake.fetches.Load()

		mode := types.BattModeBatteryFirst
		err := c.UpdateTimeSegment(context.Background(), types.TimeSegment{
			SegmentID: 1,
			BattMode:  &mode,
			StartTime: "09:00",
			EndTime:   "11:00",
			Enabled:   true,
		})
		require.NoError(t, err)

		assert.Equal(t, int64(1), fake.writes.Load(), "exactly one remote write")
		form := *fake.writeForm.Load()
		assert.Equal(t, "time_segment1", form.Get("type"))
		assert.Equal(t, "1", form.Get("param1"), "battery-first mode")
		assert.Equal(t, "9", form.Get("param2"))
		assert.Equal(t, "0", form.Get("param3"))
		assert.Equal(t, "11", form.Get("param4"))
		assert.Equal(t, "0", form.Get("param5"))
		assert.Equal(t, "1", form.Get("param6"))

		// a min refresh is 3 fetch calls; exactly one refresh followed
		assert.Equal(t, fetchesBefore+3, fake.fetches.Load(), "exactly one refresh after a successful write")
	})

	t.Run("FailureNoRefreshNoStateChange", func(t *testing.T) {
		fake := &writeFake{deviceType: types.DeviceTypeMin, settings: map[string]interface{}{}}
		c := newWriteCoordinator(t, fake)
		before := c.Data()
		fetchesBefore := fake.fetches.Load()
		fake.failWrite.Store(true)

		mode := types.BattModeLoadFirst
		err := c.UpdateTimeSegment(context.Background(), types.TimeSegment{
			SegmentID: 2, BattMode: &mode, StartTime: "00:00", EndTime: "01:00",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "X", "remote message must be carried in the error")

		assert.Equal(t, fetchesBefore, fake.fetches.Load(), "no refresh after a failed write")
		assert.Equal(t, before, c.Data(), "attribute map unchanged after a failed write")
		assert.Equal(t, StatusReady, c.Status())
	})

	t.Run("Validation", func(t *testing.T) {
		fake := &writeFake{deviceType: types.DeviceTypeMin, settings: map[string]interface{}{}}
		c := newWriteCoordinator(t, fake)
		mode := types.BattModeLoadFirst

		var perr *growatt.ParameterError

		err := c.UpdateTimeSegment(context.Background(), types.TimeSegment{SegmentID: 1, BattMode: &mode, StartTime: "25:00", EndTime: "01:00"})
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "start_time", perr.Field)

		err = c.UpdateTimeSegment(context.Background(), types.TimeSegment{SegmentID: 1, StartTime: "01:00", EndTime: "02:00"})
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "batt_mode", perr.Field)

		assert.Zero(t, fake.writes.Load(), "validation failures never reach the vendor")
	})
}

func TestReadTimeSegments(t *testing.T) {
	fake := &writeFake{deviceType: types.DeviceTypeMin, settings: map[string]interface{}{
		"forcedTimeStart1":  "01:30",
		"forcedTimeStop1":   "06:00",
		"time1Mode":         1.0,
		"forcedStopSwitch1": 1.0,
		// segment 2: the vendor's literal "null" strings and garbage
		"forcedTimeStart2":  "null",
		"forcedTimeStop2":   "garbage",
		"time2Mode":         "null",
		"forcedStopSwitch2": "null",
	}}
	c := newWriteCoordinator(t, fake)

	segments, err := c.ReadTimeSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, segments, 9)

	seg1 := segments[0]
	assert.Equal(t, 1, seg1.SegmentID)
	require.NotNil(t, seg1.BattMode)
	assert.Equal(t, types.BattModeBatteryFirst, *seg1.BattMode)
	assert.Equal(t, "Battery First", seg1.ModeName)
	assert.Equal(t, "01:30", seg1.StartTime)
	assert.Equal(t, "06:00", seg1.EndTime)
	assert.True(t, seg1.Enabled)

	seg2 := segments[1]
	assert.Equal(t, "00:00", seg2.StartTime, "unparsable time degrades to 00:00")
	assert.Equal(t, "00:00", seg2.EndTime)
	assert.Nil(t, seg2.BattMode, "unparsable mode degrades to nil")
	assert.False(t, seg2.Enabled)

	// absent segments degrade the same way
	seg9 := segments[8]
	assert.Equal(t, "00:00", seg9.StartTime)
	assert.Nil(t, seg9.BattMode)
	assert.False(t, seg9.Enabled)
}

func TestUpdateACChargeTimes(t *testing.T) {
	periods := []types.TimePeriod{
		{StartTime: "01:00", EndTime: "05:00", Enabled: true},
		{StartTime: "00:00", EndTime: "00:00"},
		{StartTime: "00:00", EndTime: "00:00"},
	}

	t.Run("Encoding", func(t *testing.T) {
		fake := &writeFake{deviceType: types.DeviceTypeMix}
		c := newWriteCoordinator(t, fake)

		err := c.UpdateACChargeTimes(context.Background(), types.ACChargeSettings{
			ChargePower:   95,
			ChargeStopSOC: 80,
			MainsEnabled:  true,
			Periods:       periods,
		})
		require.NoError(t, err)

		form := *fake.writeForm.Load()
		assert.Equal(t, "mix_ac_charge_time_period", form.Get("type"))
		assert.Equal(t, "DEV1", form.Get("tlx_sn"), "set endpoint takes tlx_sn for mix devices too")
		assert.Equal(t, "95", form.Get("param1"))
		assert.Equal(t, "80", form.Get("param2"))
		assert.Equal(t, "1", form.Get("param3"))
		// period 1 quintet
		assert.Equal(t, "1", form.Get("param4"))
		assert.Equal(t, "0", form.Get("param5"))
		assert.Equal(t, "5", form.Get("param6"))
		assert.Equal(t, "0", form.Get("param7"))
		assert.Equal(t, "1", form.Get("param8"))
		// period 3 ends at param18; param19 is padding
		assert.Equal(t, "0", form.Get("param18"))
		assert.Equal(t, "", form.Get("param19"))
	})

	t.Run("Validation", func(t *testing.T) {
		fake := &writeFake{deviceType: types.DeviceTypeMix}
		c := newWriteCoordinator(t, fake)

		var perr *growatt.ParameterError
		err := c.UpdateACChargeTimes(context.Background(), types.ACChargeSettings{
			ChargePower: 120, ChargeStopSOC: 80, Periods: periods,
		})
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "charge_power", perr.Field)

		err = c.UpdateACChargeTimes(context.Background(), types.ACChargeSettings{
			ChargePower: 50, ChargeStopSOC: 80, Periods: periods[:1],
		})
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "periods", perr.Field)
	})

	t.Run("WrongDeviceType", func(t *testing.T) {
		fake := &writeFake{deviceType: types.DeviceTypeMin, settings: map[string]interface{}{}}
		c := newWriteCoordinator(t, fake)

		var perr *growatt.ParameterError
		err := c.UpdateACChargeTimes(context.Background(), types.ACChargeSettings{Periods: periods})
		require.ErrorAs(t, err, &perr)
	})
}

func TestUpdateACDischargeTimes(t *testing.T) {
	fake := &writeFake{deviceType: types.DeviceTypeMix}
	c := newWriteCoordinator(t, fake)

	err := c.UpdateACDischargeTimes(context.Background(), types.ACDischargeSettings{
		DischargePower:   100,
		DischargeStopSOC: 10,
		Periods: []types.TimePeriod{
			{StartTime: "18:00", EndTime: "22:00", Enabled: true},
			{StartTime: "00:00", EndTime: "00:00"},
			{StartTime: "00:00", EndTime: "00:00"},
		},
	})
	require.NoError(t, err)

	form := *fake.writeForm.Load()
	assert.Equal(t, "mix_ac_discharge_time_period", form.Get("type"))
	assert.Equal(t, "100", form.Get("param1"))
	assert.Equal(t, "10", form.Get("param2"))
	assert.Equal(t, "18", form.Get("param3"), "discharge block has no mains flag")
}

func TestReadACChargeTimes(t *testing.T) {
	fake := &writeFake{deviceType: types.DeviceTypeMix}
	c := newWriteCoordinator(t, fake)

	// the mix settings arrive through the data map
	c.mu.Lock()
	c.data = map[string]any{
		"chargePowerCommand":      95.0,
		"wchargeSOCLowLimit2":     80.0,
		"acChargeEnable":          1.0,
		"forcedChargeTimeStart1":  "01:00",
		"forcedChargeTimeStop1":   "05:00",
		"forcedChargeStopSwitch1": 1.0,
		"forcedChargeTimeStart2":  "null",
	}
	c.mu.Unlock()

	s, err := c.ReadACChargeTimes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 95, s.ChargePower)
	assert.Equal(t, 80, s.ChargeStopSOC)
	assert.True(t, s.MainsEnabled)
	require.Len(t, s.Periods, 3)
	assert.Equal(t, "01:00", s.Periods[0].StartTime)
	assert.True(t, s.Periods[0].Enabled)
	assert.Equal(t, "00:00", s.Periods[1].StartTime)
	assert.False(t, s.Periods[2].Enabled)
}
