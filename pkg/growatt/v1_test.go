package growatt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/growattmon/growattmon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v1OK(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"error_code": 0,
		"error_msg":  "",
		"data":       data,
	}
}

func TestV1DeviceList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/device/list" {
			assert.Equal(t, "secret-token", r.Header.Get("token"))
			assert.Equal(t, "12345", r.URL.Query().Get("plant_id"))
			json.NewEncoder(w).Encode(v1OK(map[string]interface{}{
				"devices": []map[string]interface{}{
					{"device_sn": "MIN1", "type": 7},
					{"device_sn": "MIX1", "type": 5},
					{"device_sn": "SPA1", "type": 6},
				},
			}))
			return
		}
		http.Error(w, "not found: "+r.URL.Path, 404)
	}))
	defer ts.Close()

	v := &OpenV1{client: ts.Client(), baseURL: ts.URL, token: "secret-token"}
	devices, err := v.DeviceList(context.Background(), "12345")
	require.NoError(t, err)

	require.Len(t, devices, 2, "type 6 has no v1 mapping and should be skipped")
	assert.Equal(t, types.Device{Serial: "MIN1", Type: types.DeviceTypeMin}, devices[0])
	assert.Equal(t, types.Device{Serial: "MIX1", Type: types.DeviceTypeMix}, devices[1])
}

func TestV1ErrorEnvelope(t *testing.T) {
	t.Run("WithMessage", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error_code": 10011,
				"error_msg":  "permission denied",
			})
		}))
		defer ts.Close()

		v := &OpenV1{client: ts.Client(), baseURL: ts.URL, token: "t"}
		_, err := v.PlantEnergyOverview(context.Background(), "12345")
		require.Error(t, err)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 10011, apiErr.Code)
		assert.Equal(t, "permission denied", apiErr.Msg)
	})

	t.Run("WithoutMessage", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"error_code": 1})
		}))
		defer ts.Close()

		v := &OpenV1{client: ts.Client(), baseURL: ts.URL, token: "t"}
		_, err := v.MinDetail(context.Background(), "MIN1")
		require.Error(t, err)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "Unknown error", apiErr.Msg)
	})
}

func TestV1MinEnergy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/device/tlx/tlx_last_data" {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "MIN1", r.Form.Get("tlx_sn"))
			json.NewEncoder(w).Encode(v1OK(map[string]interface{}{
				"epvToday": 7.5,
				"pac":      1500.0,
			}))
			return
		}
		http.Error(w, "not found: "+r.URL.Path, 404)
	}))
	defer ts.Close()

	v := &OpenV1{client: ts.Client(), baseURL: ts.URL, token: "t"}
	attrs, err := v.MinEnergy(context.Background(), "MIN1")
	require.NoError(t, err)
	assert.Equal(t, 7.5, attrs["epvToday"])
	assert.Equal(t, 1500.0, attrs["pac"])
}

func TestV1WriteTimeSegment(t *testing.T) {
	t.Run("AllParamsSent", func(t *testing.T) {
		var gotForm map[string][]string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/tlxSet", r.URL.Path)
			require.NoError(t, r.ParseForm())
			gotForm = r.PostForm
			json.NewEncoder(w).Encode(v1OK(nil))
		}))
		defer ts.Close()

		v := &OpenV1{client: ts.Client(), baseURL: ts.URL, token: "t"}
		mode := types.BattModeBatteryFirst
		err := v.WriteTimeSegment(context.Background(), "MIN1", 3, mode,
			types.HHMM{Hour: 1, Minute: 30}, types.HHMM{Hour: 6, Minute: 0}, true)
		require.NoError(t, err)

		assert.Equal(t, "MIN1", gotForm["tlx_sn"][0])
		assert.Equal(t, "time_segment3", gotForm["type"][0])
		assert.Equal(t, "1", gotForm["param1"][0], "battery mode")
		assert.Equal(t, "1", gotForm["param2"][0], "start hour")
		assert.Equal(t, "30", gotForm["param3"][0], "start minute")
		assert.Equal(t, "6", gotForm["param4"][0], "end hour")
		assert.Equal(t, "0", gotForm["param5"][0], "end minute")
		assert.Equal(t, "1", gotForm["param6"][0], "enabled")
		// the rest must be present but empty
		for i := 7; i <= 19; i++ {
			key := fmt.Sprintf("param%d", i)
			vals, ok := gotForm[key]
			require.True(t, ok, "missing %s", key)
			assert.Equal(t, "", vals[0], key)
		}
	})

	t.Run("SegmentOutOfRange", func(t *testing.T) {
		v := &OpenV1{baseURL: "http://unused", token: "t"}
		err := v.WriteTimeSegment(context.Background(), "MIN1", 10, types.BattModeLoadFirst,
			types.HHMM{}, types.HHMM{}, false)
		var perr *ParameterError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "segment_id", perr.Field)
	})

	t.Run("Disabled", func(t *testing.T) {
		var gotForm map[string][]string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotForm = r.PostForm
			json.NewEncoder(w).Encode(v1OK(nil))
		}))
		defer ts.Close()

		v := &OpenV1{client: ts.Client(), baseURL: ts.URL, token: "t"}
		err := v.WriteTimeSegment(context.Background(), "MIN1", 1, types.BattModeLoadFirst,
			types.HHMM{}, types.HHMM{}, false)
		require.NoError(t, err)
		assert.Equal(t, "0", gotForm["param6"][0])
	})
}

func TestV1WriteParameter(t *testing.T) {
	var gotForm map[string][]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		json.NewEncoder(w).Encode(v1OK(nil))
	}))
	defer ts.Close()

	v := &OpenV1{client: ts.Client(), baseURL: ts.URL, token: "t"}
	err := v.WriteParameter(context.Background(), "MIX1", "pv_grid_voltage_high", []string{"270"})
	require.NoError(t, err)
	assert.Equal(t, "pv_grid_voltage_high", gotForm["type"][0])
	assert.Equal(t, "270", gotForm["param1"][0])
	assert.Equal(t, "", gotForm["param2"][0])
}
