package models

import (
	"time"
)

// DeviceType identifies the hardware family of an alarm unit.
type DeviceType string

const (
	DeviceTypeAlarm DeviceType = "alarm"
	DeviceTypeNav8  DeviceType = "nav8"
	DeviceTypeNav12 DeviceType = "nav12"
)

// Feature is a capability bit advertised by the upstream per device.
type Feature uint32

const (
	FeatureActiveSecurity Feature = 1 << iota
	FeatureAutoCheck
	FeatureAutoStart
	FeatureBeeper
	FeatureBluetooth
	FeatureExtChannel
	FeatureNetwork
	FeatureCustomPhones
	FeatureEvents
	FeatureExtendedProperties
	FeatureBlockHeater
	FeatureKeepAlive
	FeatureLightToggle
	FeatureNotifications
	FeatureSchedule
	FeatureSensors
	FeatureTracking
	FeatureTrunkTrigger
	FeatureNav
)

// featureKeys maps upstream feature map keys to capability bits.
var featureKeys = map[string]Feature{
	"active_security": FeatureActiveSecurity,
	"auto_check":      FeatureAutoCheck,
	"autostart":       FeatureAutoStart,
	"beep":            FeatureBeeper,
	"bluetooth":       FeatureBluetooth,
	"channel":         FeatureExtChannel,
	"connection":      FeatureNetwork,
	"custom_phones":   FeatureCustomPhones,
	"events":          FeatureEvents,
	"extend_props":    FeatureExtendedProperties,
	"heater":          FeatureBlockHeater,
	"keep_alive":      FeatureKeepAlive,
	"light":           FeatureLightToggle,
	"notification":    FeatureNotifications,
	"schedule":        FeatureSchedule,
	"sensors":         FeatureSensors,
	"tracking":        FeatureTracking,
	"trunk":           FeatureTrunkTrigger,
	"nav":             FeatureNav,
}

// FeaturesFromMap converts the upstream per-device feature map into a bitmask.
// Presence of a key grants the capability regardless of its value, which is
// how the upstream reports them.
func FeaturesFromMap(m map[string]interface{}) Feature {
	var f Feature
	for key, bit := range featureKeys {
		if _, ok := m[key]; ok {
			f |= bit
		}
	}
	return f
}

// Has reports whether all bits in want are present.
func (f Feature) Has(want Feature) bool {
	return f&want == want
}

// DeviceInfo holds the identity attributes of one alarm unit. It is replaced
// wholesale on snapshot and never merged field-by-field.
type DeviceInfo struct {
	DeviceID        int64      `json:"id"`
	Name            string     `json:"name"`
	Model           string     `json:"model"`
	FirmwareVersion string     `json:"firmware"`
	VoiceVersion    string     `json:"voice_version"`
	Color           string     `json:"color"`
	Type            DeviceType `json:"type"`
	CarType         int        `json:"car_type"`
	PhotoID         string     `json:"photo"`
	Phone           string     `json:"phone"`
	PhoneOther      string     `json:"phone1"`
	Features        Feature    `json:"features"`
}

// CarTypeName maps the numeric car_type attribute to a label.
func (d DeviceInfo) CarTypeName() string {
	switch d.CarType {
	case 1:
		return "truck"
	case 2:
		return "moto"
	default:
		return "car"
	}
}

// PhotoURL returns the avatar path for the device photo, if any.
func (d DeviceInfo) PhotoURL() string {
	if d.PhotoID == "" {
		return ""
	}
	return "/images/avatars/" + d.PhotoID + ".jpg"
}

// AccountStatus is the user-visible health of one account.
type AccountStatus string

const (
	StatusOK          AccountStatus = "ok"
	StatusDegraded    AccountStatus = "degraded"
	StatusAuthFailure AccountStatus = "auth_failure"
	StatusClosed      AccountStatus = "closed"
)

// StatusChange is published whenever an account transitions between states.
type StatusChange struct {
	Account string        `json:"account"`
	Status  AccountStatus `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	At      time.Time     `json:"at"`
}
