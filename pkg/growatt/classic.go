package growatt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/growattmon/growattmon/pkg/common"
	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/types"
)

// DefaultServerURL is the vendor's international endpoint. Regional servers
// exist but share the same API surface.
const DefaultServerURL = "https://openapi.growatt.com/"

const classicLoginPath = "newTwoLoginAPI.do"

// Classic implements the legacy username/password Growatt API. It covers the
// widest set of device families but requires a fresh login before every
// polling cycle, which is why all login/device-list traffic goes through the
// durable throttle.
type Classic struct {
	client  *http.Client
	baseURL string
	userID  string
}

// NewClassic returns a classic-protocol client for the given server. An
// empty serverURL selects the international endpoint.
func NewClassic(serverURL string) *Classic {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	client := common.HTTPClient(time.Minute)
	// classic auth is cookie-based: every call after Login rides on the
	// session cookie the login response sets
	client.Jar, _ = cookiejar.New(nil)
	return &Classic{
		client:  client,
		baseURL: serverURL,
	}
}

// hashPassword implements the vendor's odd md5 variant: hex digest with
// every '0' at an even index replaced by 'c'.
func hashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	h := []byte(hex.EncodeToString(sum[:]))
	for i := 0; i < len(h); i += 2 {
		if h[i] == '0' {
			h[i] = 'c'
		}
	}
	return string(h)
}

// Login authenticates against the classic API and remembers the session
// cookie plus user ID for the fetch calls that need it. An invalid-
// credentials response is returned as ErrInvalidAuth; any other failed login
// is a plain error.
func (c *Classic) Login(ctx context.Context, username, password string) error {
	if username == "" {
		return errors.New("missing username")
	}
	if password == "" {
		return errors.New("missing password")
	}

	data := url.Values{}
	data.Set("userName", username)
	data.Set("password", hashPassword(password))

	req, err := c.newPostFormRequest(ctx, classicLoginPath, data)
	if err != nil {
		return err
	}

	var res classicLoginResponse
	if err := c.doRequest(req, &res); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if !res.Back.Success {
		log.Ctx(ctx).DebugContext(ctx, "growatt classic login rejected", slog.String("msg", res.Back.Msg))
		if res.Back.Msg == loginInvalidAuthCode {
			return ErrInvalidAuth
		}
		if res.Back.Msg == "" {
			return errors.New("login failed: unknown error")
		}
		return fmt.Errorf("login failed: %s", res.Back.Msg)
	}

	c.userID = res.Back.User.ID.String()
	log.Ctx(ctx).DebugContext(ctx, "growatt classic login success", slog.String("userID", c.userID))
	return nil
}

// DeviceList returns the devices of a plant. The classic API has no
// standalone device-list endpoint; the list rides along on the plant info
// response.
func (c *Classic) DeviceList(ctx context.Context, plantID string) ([]types.Device, error) {
	var res classicPlantInfoResponse
	if err := c.plantInfo(ctx, plantID, &res); err != nil {
		return nil, err
	}

	devices := make([]types.Device, 0, len(res.DeviceList))
	for _, d := range res.DeviceList {
		t := types.DeviceType(d.DeviceType)
		if !t.Valid() || t == types.DeviceTypeTotal {
			log.Ctx(ctx).WarnContext(ctx, "skipping device with unsupported type",
				slog.String("serial", d.DeviceSN), slog.String("type", d.DeviceType))
			continue
		}
		devices = append(devices, types.Device{Serial: d.DeviceSN, Type: t})
	}
	return devices, nil
}

// PlantInfo returns the plant-level totals as a flat attribute map. The
// vendor reports money as "12.3/EUR" in one field; it is split here so the
// value and currency are separately addressable.
func (c *Classic) PlantInfo(ctx context.Context, plantID string) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := c.plantInfo(ctx, plantID, &raw); err != nil {
		return nil, err
	}
	delete(raw, "deviceList")

	attrs := flatten(raw)
	if money, ok := attrs["plantMoneyText"].(string); ok {
		if amount, currency, found := strings.Cut(money, "/"); found {
			attrs["plantMoneyText"] = amount
			attrs["currency"] = currency
		}
	}
	return attrs, nil
}

func (c *Classic) plantInfo(ctx context.Context, plantID string, dest any) error {
	params := url.Values{}
	params.Set("op", "getAllDeviceListTwo")
	params.Set("plantId", plantID)
	params.Set("pageNum", "1")
	params.Set("pageSize", "1")

	req, err := c.newGetRequest(ctx, "newTwoPlantAPI.do", params)
	if err != nil {
		return err
	}
	if err := c.doRequest(req, dest); err != nil {
		return fmt.Errorf("plant info for %s failed: %w", plantID, err)
	}
	return nil
}

// InverterDetail returns the detail attributes for a string inverter.
func (c *Classic) InverterDetail(ctx context.Context, serial string) (map[string]any, error) {
	params := url.Values{}
	params.Set("op", "getInverterDetailData")
	params.Set("inverterId", serial)

	req, err := c.newGetRequest(ctx, "newInverterAPI.do", params)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := c.doRequest(req, &raw); err != nil {
		return nil, fmt.Errorf("inverter detail for %s failed: %w", serial, err)
	}
	return flatten(raw), nil
}

// TlxDetail returns the detail attributes for a TLX inverter. The payload
// nests everything under "data".
func (c *Classic) TlxDetail(ctx context.Context, serial string) (map[string]any, error) {
	params := url.Values{}
	params.Set("op", "getTlxDetailData")
	params.Set("id", serial)

	req, err := c.newGetRequest(ctx, "newTlxApi.do", params)
	if err != nil {
		return nil, err
	}
	var res struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := c.doRequest(req, &res); err != nil {
		return nil, fmt.Errorf("tlx detail for %s failed: %w", serial, err)
	}
	if res.Data == nil {
		return nil, fmt.Errorf("tlx detail for %s: response missing data", serial)
	}
	return flatten(res.Data), nil
}

// StorageDetail returns the configuration attributes of a storage device.
func (c *Classic) StorageDetail(ctx context.Context, serial string) (map[string]any, error) {
	params := url.Values{}
	params.Set("op", "getStorageInfo_sacolar")
	params.Set("storageId", serial)

	req, err := c.newGetRequest(ctx, "newStorageAPI.do", params)
	if err != nil {
		return nil, err
	}
	var res struct {
		StorageDetailBean map[string]json.RawMessage `json:"storageDetailBean"`
	}
	if err := c.doRequest(req, &res); err != nil {
		return nil, fmt.Errorf("storage detail for %s failed: %w", serial, err)
	}
	if res.StorageDetailBean == nil {
		return nil, fmt.Errorf("storage detail for %s: response missing storageDetailBean", serial)
	}
	return flatten(res.StorageDetailBean), nil
}

// StorageEnergyOverview returns the live energy attributes of a storage
// device.
func (c *Classic) StorageEnergyOverview(ctx context.Context, plantID, serial string) (map[string]any, error) {
	params := url.Values{}
	params.Set("op", "getStorageEnergy_sacolar")
	params.Set("plantId", plantID)
	params.Set("storageSn", serial)

	req, err := c.newGetRequest(ctx, "newStorageAPI.do", params)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := c.doRequest(req, &raw); err != nil {
		return nil, fmt.Errorf("storage energy overview for %s failed: %w", serial, err)
	}
	return flatten(raw), nil
}

// MixInfo returns static info for a mix (SPH) device.
func (c *Classic) MixInfo(ctx context.Context, serial string) (map[string]any, error) {
	return c.mixCall(ctx, "getMixInfo", url.Values{"mixId": {serial}}, serial)
}

// MixTotals returns the energy totals for a mix device.
func (c *Classic) MixTotals(ctx context.Context, serial, plantID string) (map[string]any, error) {
	return c.mixCall(ctx, "getEnergyOverview", url.Values{"mixSn": {serial}, "plantId": {plantID}}, serial)
}

// MixSystemStatus returns the live flow status for a mix device.
func (c *Classic) MixSystemStatus(ctx context.Context, serial, plantID string) (map[string]any, error) {
	return c.mixCall(ctx, "getSystemStatus_KW", url.Values{"mixSn": {serial}, "plantId": {plantID}}, serial)
}

// MixDetail returns the per-interval chart data for a mix device, nested
// under "chartData" keyed by HH:MM.
func (c *Classic) MixDetail(ctx context.Context, serial, plantID string) (map[string]any, error) {
	params := url.Values{}
	params.Set("mixSn", serial)
	params.Set("plantId", plantID)
	params.Set("date", time.Now().Format("2006-01-02"))
	return c.mixCall(ctx, "getEnergyProdAndCons_KW", params, serial)
}

func (c *Classic) mixCall(ctx context.Context, op string, params url.Values, serial string) (map[string]any, error) {
	params.Set("op", op)
	req, err := c.newGetRequest(ctx, "newMixApi.do", params)
	if err != nil {
		return nil, err
	}
	var res struct {
		Obj map[string]json.RawMessage `json:"obj"`
	}
	if err := c.doRequest(req, &res); err != nil {
		return nil, fmt.Errorf("%s for %s failed: %w", op, serial, err)
	}
	if res.Obj == nil {
		return nil, fmt.Errorf("%s for %s: response missing obj", op, serial)
	}
	return flatten(res.Obj), nil
}

// DashboardData returns account-level dashboard values for a plant. The mix
// fetch plan uses it for the combined grid-import figure.
func (c *Classic) DashboardData(ctx context.Context, plantID string) (map[string]any, error) {
	params := url.Values{}
	params.Set("action", "getUserCenterEnertyData") // vendor's own misspelling
	params.Set("plantId", plantID)
	params.Set("language", "1")

	req, err := c.newPostFormRequest(ctx, "newPlantAPI.do", params)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := c.doRequest(req, &raw); err != nil {
		return nil, fmt.Errorf("dashboard data for %s failed: %w", plantID, err)
	}
	return flatten(raw), nil
}

func (c *Classic) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

func (c *Classic) newPostFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
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
	return req, nil
}

func (c *Classic) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode growatt classic response",
			slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// flatten decodes a map of raw JSON values into scalars. Nested objects and
// arrays are kept as decoded values so the fetch plans can still reach into
// structures like mix chartData.
func flatten(raw map[string]json.RawMessage) map[string]any {
	attrs := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			// leave undecodable values out rather than failing the fetch
			continue
		}
		attrs[k] = val
	}
	return attrs
}

// Internal Structs

// jsonID tolerates the vendor returning IDs as either numbers or strings.
type jsonID string

func (j *jsonID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*j = jsonID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*j = jsonID(n.String())
	return nil
}

func (j jsonID) String() string { return string(j) }

type classicLoginResponse struct {
	Back struct {
		Success bool   `json:"success"`
		Msg     string `json:"msg"`
		User    struct {
			ID jsonID `json:"id"`
		} `json:"user"`
	} `json:"back"`
}

type classicPlantInfoResponse struct {
	DeviceList []struct {
		DeviceSN   string `json:"deviceSn"`
		DeviceType string `json:"deviceType"`
	} `json:"deviceList"`
}
