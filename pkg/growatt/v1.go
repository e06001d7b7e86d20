package growatt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/growattmon/growattmon/pkg/common"
	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/types"
)

// Family selects the endpoint group of the Open API V1. Only two device
// families are covered by the token protocol.
type Family string

const (
	FamilyMinTLX Family = "tlx"
	FamilyMixSPH Family = "mix"
)

// v1DeviceTypes maps the numeric type in the v1 device list to a device
// type. Unlisted types are not supported by the token protocol.
var v1DeviceTypes = map[int]types.DeviceType{
	5: types.DeviceTypeMix,
	7: types.DeviceTypeMin,
}

// OpenV1 implements the token-authenticated Growatt Open API V1. Unlike the
// classic client there is no login step: the token rides in a header on
// every request.
type OpenV1 struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewOpenV1 returns a v1 client for the given server. An empty serverURL
// selects the international endpoint.
func NewOpenV1(serverURL, token string) *OpenV1 {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return &OpenV1{
		client:  common.HTTPClient(time.Minute),
		baseURL: serverURL,
		token:   token,
	}
}

// DeviceList returns the supported devices of a plant. Devices of types the
// v1 protocol does not cover are logged and skipped.
func (v *OpenV1) DeviceList(ctx context.Context, plantID string) ([]types.Device, error) {
	params := url.Values{}
	params.Set("plant_id", plantID)

	req, err := v.newGetRequest(ctx, "v1/device/list", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		Devices []struct {
			DeviceSN string `json:"device_sn"`
			Type     int    `json:"type"`
		} `json:"devices"`
	}
	if err := v.doRequest(req, "device list", &res); err != nil {
		return nil, err
	}

	devices := make([]types.Device, 0, len(res.Devices))
	for _, d := range res.Devices {
		t, ok := v1DeviceTypes[d.Type]
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "device not supported by v1 api, skipping",
				slog.String("serial", d.DeviceSN), slog.Int("type", d.Type))
			continue
		}
		devices = append(devices, types.Device{Serial: d.DeviceSN, Type: t})
	}
	return devices, nil
}

// PlantEnergyOverview returns plant-level energy data. The v1 plant API is
// narrower than the classic one: no money values and no nominal power.
func (v *OpenV1) PlantEnergyOverview(ctx context.Context, plantID string) (map[string]any, error) {
	params := url.Values{}
	params.Set("plant_id", plantID)

	req, err := v.newGetRequest(ctx, "v1/plant/data", params)
	if err != nil {
		return nil, err
	}
	return v.doMapRequest(req, "plant energy overview")
}

// MinDetail returns the basic info attributes for a min/tlx device.
func (v *OpenV1) MinDetail(ctx context.Context, serial string) (map[string]any, error) {
	return v.deviceInfo(ctx, FamilyMinTLX, "tlx_data_info", serial, "min detail")
}

// MinSettings returns the settings attributes for a min/tlx device,
// including the forcedTimeStart/Stop fields the time-segment reads parse.
func (v *OpenV1) MinSettings(ctx context.Context, serial string) (map[string]any, error) {
	return v.deviceInfo(ctx, FamilyMinTLX, "tlx_set_info", serial, "min settings")
}

// MinEnergy returns the last-data energy attributes for a min/tlx device.
func (v *OpenV1) MinEnergy(ctx context.Context, serial string) (map[string]any, error) {
	return v.deviceLastData(ctx, FamilyMinTLX, serial, "min energy")
}

// DeviceDetails returns the basic info attributes for a device of the given
// family.
func (v *OpenV1) DeviceDetails(ctx context.Context, serial string, family Family) (map[string]any, error) {
	page := "mix_data_info"
	if family == FamilyMinTLX {
		page = "tlx_data_info"
	}
	return v.deviceInfo(ctx, family, page, serial, fmt.Sprintf("%s details", family))
}

// DeviceEnergy returns the last-data energy attributes for a device of the
// given family.
func (v *OpenV1) DeviceEnergy(ctx context.Context, serial string, family Family) (map[string]any, error) {
	return v.deviceLastData(ctx, family, serial, fmt.Sprintf("%s energy", family))
}

func (v *OpenV1) deviceInfo(ctx context.Context, family Family, page, serial, op string) (map[string]any, error) {
	params := url.Values{}
	params.Set("device_sn", serial)

	req, err := v.newGetRequest(ctx, fmt.Sprintf("v1/device/%s/%s", family, page), params)
	if err != nil {
		return nil, err
	}
	return v.doMapRequest(req, op)
}

func (v *OpenV1) deviceLastData(ctx context.Context, family Family, serial, op string) (map[string]any, error) {
	data := url.Values{}
	data.Set(fmt.Sprintf("%s_sn", family), serial)

	req, err := v.newPostFormRequest(ctx, fmt.Sprintf("v1/device/%s/%s_last_data", family, family), data)
	if err != nil {
		return nil, err
	}
	return v.doMapRequest(req, op)
}

// WriteTimeSegment writes one time-of-use segment. The write endpoint
// requires all 19 params present on every call even though a segment only
// uses the first six.
func (v *OpenV1) WriteTimeSegment(ctx context.Context, serial string, segmentID int, battMode types.BattMode, start, end types.HHMM, enabled bool) error {
	if segmentID < 1 || segmentID > 9 {
		return &ParameterError{Field: "segment_id", Msg: fmt.Sprintf("must be between 1 and 9, got %d", segmentID)}
	}
	if battMode < types.BattModeLoadFirst || battMode > types.BattModeGridFirst {
		return &ParameterError{Field: "batt_mode", Msg: fmt.Sprintf("must be between 0 and 2, got %d", battMode)}
	}

	params := make([]string, 6)
	params[0] = strconv.Itoa(int(battMode))
	params[1] = strconv.Itoa(start.Hour)
	params[2] = strconv.Itoa(start.Minute)
	params[3] = strconv.Itoa(end.Hour)
	params[4] = strconv.Itoa(end.Minute)
	params[5] = "0"
	if enabled {
		params[5] = "1"
	}

	op := fmt.Sprintf("writing time segment %d", segmentID)
	return v.writeSet(ctx, serial, fmt.Sprintf("time_segment%d", segmentID), params, op)
}

// WriteParameter writes a named parameter block, filling the given values
// into param1..paramN and padding the rest of the 19 slots empty.
func (v *OpenV1) WriteParameter(ctx context.Context, serial, paramID string, values []string) error {
	if len(values) > 19 {
		return &ParameterError{Field: paramID, Msg: fmt.Sprintf("at most 19 values, got %d", len(values))}
	}
	return v.writeSet(ctx, serial, paramID, values, fmt.Sprintf("writing parameter %s", paramID))
}

func (v *OpenV1) writeSet(ctx context.Context, serial, setType string, values []string, op string) error {
	data := url.Values{}
	// the set endpoint takes the serial as tlx_sn for every family, mix
	// parameter blocks included
	data.Set("tlx_sn", serial)
	data.Set("type", setType)
	// every one of the 19 params must be present, empty or not
	for i := 1; i <= 19; i++ {
		val := ""
		if i <= len(values) {
			val = values[i-1]
		}
		data.Set(fmt.Sprintf("param%d", i), val)
	}

	req, err := v.newPostFormRequest(ctx, "v1/tlxSet", data)
	if err != nil {
		return err
	}
	return v.doRequest(req, op, nil)
}

func (v *OpenV1) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(v.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("token", v.token)
	return req, nil
}

func (v *OpenV1) newPostFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	u, err := url.Parse(v.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	body := strings.NewReader(data.Encode())
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("token", v.token)
	return req, nil
}

type v1Response struct {
	ErrorCode int             `json:"error_code"`
	ErrorMsg  string          `json:"error_msg"`
	Data      json.RawMessage `json:"data"`
}

// doRequest executes a v1 call and decodes the data field into dest. A
// non-zero error_code becomes an APIError carrying the vendor's code and
// message verbatim.
func (v *OpenV1) doRequest(req *http.Request, op string, dest any) error {
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed: status %d", op, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	var vr v1Response
	if err := json.Unmarshal(body, &vr); err != nil {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode growatt v1 response",
			slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("%s failed: %w", op, err)
	}

	if vr.ErrorCode != 0 {
		msg := vr.ErrorMsg
		if msg == "" {
			msg = "Unknown error"
		}
		return &APIError{Op: op, Code: vr.ErrorCode, Msg: msg}
	}

	if dest != nil && len(vr.Data) > 0 {
		if err := json.Unmarshal(vr.Data, dest); err != nil {
			return fmt.Errorf("%s failed to decode data: %w", op, err)
		}
	}
	return nil
}

func (v *OpenV1) doMapRequest(req *http.Request, op string) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := v.doRequest(req, op, &raw); err != nil {
		return nil, err
	}
	return flatten(raw), nil
}
