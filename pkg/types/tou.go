package types

import (
	"fmt"
	"strconv"
	"strings"
)

// BattMode is the battery priority for a time-of-use segment.
type BattMode int

const (
	BattModeLoadFirst    BattMode = 0
	BattModeBatteryFirst BattMode = 1
	BattModeGridFirst    BattMode = 2
)

// String returns the vendor's display name for the mode.
func (m BattMode) String() string {
	switch m {
	case BattModeLoadFirst:
		return "Load First"
	case BattModeBatteryFirst:
		return "Battery First"
	case BattModeGridFirst:
		return "Grid First"
	}
	return "Unknown"
}

// ParseBattMode accepts both the named form ("battery-first") and the raw
// numeric form ("1").
func ParseBattMode(s string) (BattMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "load-first", "load_first", "0":
		return BattModeLoadFirst, nil
	case "battery-first", "battery_first", "1":
		return BattModeBatteryFirst, nil
	case "grid-first", "grid_first", "2":
		return BattModeGridFirst, nil
	}
	return 0, fmt.Errorf("unknown battery mode: %q", s)
}

// HHMM is a wall-clock time of day without seconds, as the vendor API
// transmits it.
type HHMM struct {
	Hour   int
	Minute int
}

// ParseHHMM parses "HH:MM" or "HH:MM:SS" (UI time selectors send seconds,
// the API does not want them).
func ParseHHMM(s string) (HHMM, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return HHMM{}, fmt.Errorf("time %q must be in HH:MM format", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return HHMM{}, fmt.Errorf("time %q has an invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return HHMM{}, fmt.Errorf("time %q has an invalid minute", s)
	}
	return HHMM{Hour: h, Minute: m}, nil
}

func (t HHMM) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// TimeSegment is one of the 9 numbered time-of-use windows on a min/tlx
// device.
type TimeSegment struct {
	SegmentID int       `json:"segmentID"`
	BattMode  *BattMode `json:"battMode"` // nil when the device reports no mode
	ModeName  string    `json:"modeName"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Enabled   bool      `json:"enabled"`
}

// TimePeriod is one charge or discharge window on a mix (SPH) device.
type TimePeriod struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Enabled   bool   `json:"enabled"`
}

// ACChargeSettings is the grid-charge block on a mix device. The vendor
// requires the whole block in every write, so reads return every field.
type ACChargeSettings struct {
	ChargePower   int          `json:"chargePower"`
	ChargeStopSOC int          `json:"chargeStopSOC"`
	MainsEnabled  bool         `json:"mainsEnabled"`
	Periods       []TimePeriod `json:"periods"`
}

// ACDischargeSettings is the discharge block on a mix device.
type ACDischargeSettings struct {
	DischargePower   int          `json:"dischargePower"`
	DischargeStopSOC int          `json:"dischargeStopSOC"`
	Periods          []TimePeriod `json:"periods"`
}
