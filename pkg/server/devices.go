package server

import (
	"encoding/json"
	"net/http"

	"github.com/growattmon/growattmon/pkg/coordinator"
	"github.com/growattmon/growattmon/pkg/setup"
	"github.com/growattmon/growattmon/pkg/types"
)

// sensorDef binds one API-facing sensor name to its attribute keys and
// reconciliation flags. Daily counters get a small drop threshold since the
// vendor API jitters them slightly downward between calls; lifetime
// counters never legitimately reset.
type sensorDef struct {
	Name   string
	KeySet coordinator.KeySet
}

var sensorDefs = []sensorDef{
	{Name: "today_energy", KeySet: coordinator.KeySet{Keys: []string{"todayEnergy", "today_energy", "eToday", "etoday"}, DropThreshold: 0.3}},
	{Name: "total_energy", KeySet: coordinator.KeySet{Keys: []string{"totalEnergy", "total_energy", "eTotal", "etotal"}, NeverResets: true}},
	{Name: "pv_energy_today", KeySet: coordinator.KeySet{Keys: []string{"epvToday"}, DropThreshold: 0.3}},
	{Name: "pv_energy_total", KeySet: coordinator.KeySet{Keys: []string{"epvTotal"}, NeverResets: true}},
	{Name: "output_power", KeySet: coordinator.Key("pac")},
	{Name: "pv_power", KeySet: coordinator.Key("ppv")},
	{Name: "battery_soc", KeySet: coordinator.KeySet{Keys: []string{"capacity", "soc", "bmsSoc"}}},
	{Name: "battery_charge_power", KeySet: coordinator.KeySet{Keys: []string{"chargePower", "pCharge"}}},
	{Name: "battery_discharge_power", KeySet: coordinator.KeySet{Keys: []string{"disChargePower", "pDischarge"}}},
	{Name: "grid_voltage", KeySet: coordinator.KeySet{Keys: []string{"vacr", "vAc1", "vGrid"}}},
	{Name: "local_load_power", KeySet: coordinator.KeySet{Keys: []string{"pLocalLoad", "plocaLoadR"}}},
	{Name: "export_power", KeySet: coordinator.KeySet{Keys: []string{"pactogrid", "pacToGridTotal"}}},
	{Name: "import_power", KeySet: coordinator.KeySet{Keys: []string{"pactouser", "pacToUserTotal"}}},
	{Name: "money_today", KeySet: coordinator.Key("plantMoneyText")},
	{Name: "currency", KeySet: coordinator.Key("currency")},
}

type deviceSummary struct {
	Serial  string             `json:"serial"`
	Type    types.DeviceType   `json:"type"`
	PlantID string             `json:"plantID"`
	Status  coordinator.Status `json:"status"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	account := s.account()
	if account == nil {
		writeJSONError(w, "no account configured", http.StatusServiceUnavailable)
		return
	}

	res := struct {
		Pending bool            `json:"pending"`
		Devices []deviceSummary `json:"devices"`
	}{
		Pending: account.Placeholder,
		Devices: []deviceSummary{},
	}
	for _, c := range account.Coordinators() {
		res.Devices = append(res.Devices, deviceSummary{
			Serial:  c.Device().Serial,
			Type:    c.Device().Type,
			PlantID: c.PlantID(),
			Status:  c.Status(),
		})
	}
	writeJSON(w, res)
}

func (s *Server) handleDeviceData(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}

	sensors := map[string]any{}
	for _, def := range sensorDefs {
		if v, ok := c.Read(def.KeySet); ok {
			sensors[def.Name] = v
		}
	}

	writeJSON(w, struct {
		Serial  string             `json:"serial"`
		Type    types.DeviceType   `json:"type"`
		Status  coordinator.Status `json:"status"`
		Sensors map[string]any     `json:"sensors"`
	}{
		Serial:  c.Device().Serial,
		Type:    c.Device().Type,
		Status:  c.Status(),
		Sensors: sensors,
	})
}

func (s *Server) handleGetTimeSegments(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	segments, err := c.ReadTimeSegments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, segments)
}

func (s *Server) handleUpdateTimeSegment(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	var seg types.TimeSegment
	if err := json.NewDecoder(r.Body).Decode(&seg); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.UpdateTimeSegment(r.Context(), seg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (s *Server) handleGetACCharge(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	settings, err := c.ReadACChargeTimes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, settings)
}

func (s *Server) handleUpdateACCharge(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	var settings types.ACChargeSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.UpdateACChargeTimes(r.Context(), settings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (s *Server) handleGetACDischarge(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	settings, err := c.ReadACDischargeTimes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, settings)
}

func (s *Server) handleUpdateACDischarge(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinatorFor(w, r)
	if !ok {
		return
	}
	var settings types.ACDischargeSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.UpdateACDischargeTimes(r.Context(), settings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// coordinatorFor resolves the {sn} path value against the current account.
// It writes the error response itself when resolution fails.
func (s *Server) coordinatorFor(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, bool) {
	account := s.account()
	if account == nil {
		writeJSONError(w, "no account configured", http.StatusServiceUnavailable)
		return nil, false
	}
	if account.Placeholder {
		writeJSONError(w, "account setup deferred by rate throttle, try again later", http.StatusServiceUnavailable)
		return nil, false
	}

	sn := r.PathValue("sn")
	if sn == setup.TotalDeviceSerial {
		return account.Total, true
	}
	c, ok := account.Devices[sn]
	if !ok {
		writeJSONError(w, "unknown device: "+sn, http.StatusNotFound)
		return nil, false
	}
	return c, true
}
