package types

import "fmt"

// DeviceType identifies the family of a Growatt device. The set is closed:
// fetch and write behavior is registered per type, so an unknown type is a
// configuration error, not a fallthrough.
type DeviceType string

const (
	// DeviceTypeTotal is the per-plant pseudo-device that aggregates the
	// whole site (energy today/lifetime, current power).
	DeviceTypeTotal    DeviceType = "total"
	DeviceTypeInverter DeviceType = "inverter"
	DeviceTypeTLX      DeviceType = "tlx"
	DeviceTypeMin      DeviceType = "min"
	DeviceTypeStorage  DeviceType = "storage"
	DeviceTypeMix      DeviceType = "mix"
)

// Valid reports whether t is one of the known device types.
func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTypeTotal, DeviceTypeInverter, DeviceTypeTLX, DeviceTypeMin, DeviceTypeStorage, DeviceTypeMix:
		return true
	}
	return false
}

// APIVersion selects which vendor protocol a device is polled through.
type APIVersion string

const (
	// APIVersionClassic is the legacy username/password API. It requires a
	// re-login before every refresh and is subject to the durable throttle.
	APIVersionClassic APIVersion = "classic"
	// APIVersionV1 is the token-authenticated Open API. No re-login is
	// needed and only the min and mix families are covered.
	APIVersionV1 APIVersion = "v1"
)

// Device is one entry from a plant's device list.
type Device struct {
	Serial string     `json:"serial"`
	Type   DeviceType `json:"type"`
}

// Credentials holds the account configuration for one plant. Exactly one of
// (Username, Password) or Token is set depending on APIVersion.
type Credentials struct {
	APIVersion APIVersion `json:"apiVersion"`
	PlantID    string     `json:"plantID"`
	Username   string     `json:"username,omitempty"`
	Password   string     `json:"password,omitempty"`
	Token      string     `json:"token,omitempty"`
	ServerURL  string     `json:"serverURL,omitempty"`
}

// Validate checks that the credentials are complete for their API version.
func (c Credentials) Validate() error {
	if c.PlantID == "" {
		return fmt.Errorf("missing plantID")
	}
	switch c.APIVersion {
	case APIVersionClassic:
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("classic API requires username and password")
		}
	case APIVersionV1:
		if c.Token == "" {
			return fmt.Errorf("v1 API requires a token")
		}
	default:
		return fmt.Errorf("unknown API version: %q", c.APIVersion)
	}
	return nil
}
