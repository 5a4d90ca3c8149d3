package codec

import (
	"encoding/json"
	"fmt"

	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// Updates is a decoded HTTP /api/updates snapshot: per-device state deltas
// reconciled from the stats and time blocks, plus the event feed entries.
type Updates struct {
	Timestamp int64
	States    map[int64]*StateDelta
	Events    []*models.Event
}

// httpStatsFields adjusts the common table for HTTP snapshots, where "online"
// is a boolean flag rather than a timestamp.
var httpStatsFields = mergeSpecs(commonFields, map[string]fieldSpec{
	"online": {name: "is_online", kind: kindBool},
})

// DecodeUpdates decodes the HTTP snapshot response.
func DecodeUpdates(body []byte) (*Updates, error) {
	var payload struct {
		TS    json.Number                `json:"ts"`
		Stats map[string]json.RawMessage `json:"stats"`
		Time  map[string]struct {
			Onlined *int64 `json:"onlined"`
			Online  *int64 `json:"online"`
			Command *int64 `json:"command"`
			Setting *int64 `json:"setting"`
		} `json:"time"`
		Lenta []struct {
			Obj json.RawMessage `json:"obj"`
		} `json:"lenta"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	updates := &Updates{States: make(map[int64]*StateDelta)}
	if ts, err := payload.TS.Int64(); err == nil {
		updates.Timestamp = ts
	}

	for key, raw := range payload.Stats {
		deviceID, ok := deviceIDFromKey(key)
		if !ok {
			continue
		}
		data, err := rawObject(raw)
		if err != nil {
			continue
		}
		delta := decodeStateDelta(deviceID, data, httpStatsFields)
		// CAN telemetry arrives nested on the HTTP surface.
		if canRaw, ok := data["can"]; ok {
			delete(delta.Raw, "can")
			if canData, err := rawObject(canRaw); err == nil {
				canDelta := decodeStateDelta(deviceID, canData, canFields)
				for name, v := range canDelta.Values {
					delta.Values[name] = v
				}
			}
		}
		updates.States[deviceID] = delta
	}

	for key, t := range payload.Time {
		deviceID, ok := deviceIDFromKey(key)
		if !ok {
			continue
		}
		delta, ok := updates.States[deviceID]
		if !ok {
			delta = &StateDelta{
				DeviceID: deviceID,
				Values:   make(map[string]interface{}),
				Raw:      make(map[string]json.RawMessage),
			}
			updates.States[deviceID] = delta
		}
		if t.Onlined != nil {
			delta.Values["online_timestamp"] = *t.Onlined
		}
		if t.Online != nil {
			delta.Values["online_timestamp_utc"] = *t.Online
		}
		if t.Command != nil {
			delta.Values["command_timestamp_utc"] = *t.Command
		}
		if t.Setting != nil {
			delta.Values["settings_timestamp_utc"] = *t.Setting
		}
	}

	for _, entry := range payload.Lenta {
		if entry.Obj == nil {
			continue
		}
		data, err := rawObject(entry.Obj)
		if err != nil {
			continue
		}
		deviceID, err := parseDeviceID(data)
		if err != nil {
			continue
		}
		updates.Events = append(updates.Events, decodeEvent(deviceID, data))
	}

	return updates, nil
}

// DecodeEventFeed decodes the /api/lenta response into events.
func DecodeEventFeed(body []byte) ([]*models.Event, error) {
	var payload struct {
		Lenta []struct {
			Obj json.RawMessage `json:"obj"`
		} `json:"lenta"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	events := make([]*models.Event, 0, len(payload.Lenta))
	for _, entry := range payload.Lenta {
		if entry.Obj == nil {
			continue
		}
		data, err := rawObject(entry.Obj)
		if err != nil {
			continue
		}
		deviceID, err := parseDeviceID(data)
		if err != nil {
			continue
		}
		events = append(events, decodeEvent(deviceID, data))
	}
	return events, nil
}

// DecodeDeviceList decodes the /api/devices response into identity records.
func DecodeDeviceList(body []byte) ([]models.DeviceInfo, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: device list is not an array", ErrMalformedFrame)
	}

	devices := make([]models.DeviceInfo, 0, len(entries))
	for _, data := range entries {
		deviceID, err := parseDeviceID(data)
		if err != nil {
			continue
		}
		info := models.DeviceInfo{DeviceID: deviceID}
		stringField(data, "name", &info.Name)
		stringField(data, "model", &info.Model)
		stringField(data, "firmware", &info.FirmwareVersion)
		stringField(data, "voice_version", &info.VoiceVersion)
		stringField(data, "color", &info.Color)
		stringField(data, "photo", &info.PhotoID)
		stringField(data, "phone", &info.Phone)
		stringField(data, "phone1", &info.PhoneOther)
		var typ string
		stringField(data, "type", &typ)
		info.Type = models.DeviceType(typ)
		if v, ok := intField(data, "car_type"); ok {
			info.CarType = v
		}
		if raw, ok := data["features"]; ok {
			var features map[string]interface{}
			if err := json.Unmarshal(raw, &features); err == nil {
				info.Features = models.FeaturesFromMap(features)
			}
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// ParseCommandResponse validates the POST /api/devices/command response. The
// upstream reports acceptance as action_result["<device_id>"] == "sent", with
// an account-level status as fallback.
func ParseCommandResponse(body []byte, deviceID int64) error {
	var payload struct {
		Status       string            `json:"status"`
		ActionResult map[string]string `json:"action_result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if result, ok := payload.ActionResult[fmt.Sprintf("%d", deviceID)]; ok {
		if result == "sent" {
			return nil
		}
		return fmt.Errorf("command not sent: %s", result)
	}
	if payload.Status == "success" {
		return nil
	}
	if payload.Status == "" {
		return fmt.Errorf("%w: response carries no status", ErrMalformedFrame)
	}
	return fmt.Errorf("command rejected by upstream: %s", payload.Status)
}

func deviceIDFromKey(key string) (int64, bool) {
	var id int64
	if _, err := fmt.Sscanf(key, "%d", &id); err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func stringField(data map[string]json.RawMessage, key string, dst *string) {
	raw, ok := data[key]
	if !ok || isNull(raw) {
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*dst = s
	}
}
