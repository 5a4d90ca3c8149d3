package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// FrameKind is the "type" discriminator of one WebSocket frame.
type FrameKind string

const (
	KindInitialState   FrameKind = "initial-state"
	KindState          FrameKind = "state"
	KindPoint          FrameKind = "point"
	KindEvent          FrameKind = "event"
	KindCommand        FrameKind = "command"
	KindUpdateSettings FrameKind = "update-settings"
)

// Codec errors are protocol errors: the stream logs and skips the frame, it
// never tears the connection down over them.
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Frame is one decoded WebSocket message.
type Frame struct {
	Kind     FrameKind
	DeviceID int64

	// State is set for initial-state and state frames, and for point frames
	// (carrying the positional fields the point asserts).
	State *StateDelta

	Event   *models.Event
	Point   *models.TrackingPoint
	Command *CommandReply
}

// CommandReply is the asynchronous acknowledgement of a submitted command.
// Result == 0 means the unit accepted the command; any other value is a
// failure with Reply conveying detail.
type CommandReply struct {
	DeviceID  int64
	CommandID int
	Result    int
	Reply     int
}

// StateDelta is a field-sparse device update. Values maps canonical field
// names to typed values; an entry holding nil is an explicit clear. Keys the
// codec does not recognise are preserved verbatim in Raw so a re-encoded
// frame reproduces the original semantic map.
type StateDelta struct {
	DeviceID int64
	Values   map[string]interface{}
	Raw      map[string]json.RawMessage
}

// Has reports whether the delta carries the canonical field.
func (d *StateDelta) Has(name string) bool {
	_, ok := d.Values[name]
	return ok
}

// Int64 returns the named field as int64 when present and set.
func (d *StateDelta) Int64(name string) (int64, bool) {
	v, ok := d.Values[name].(int64)
	return v, ok
}

type fieldKind int

const (
	kindFloat fieldKind = iota
	kindInt
	kindInt64
	kindBool
	kindUint64
	kindUint32
	kindBalance
	kindTanks
)

type fieldSpec struct {
	name  string
	kind  fieldKind
	scale float64 // divisor applied on decode, multiplied back on encode
}

// commonFields are the wire keys shared by WebSocket state frames, point
// frames and HTTP snapshot stats.
var commonFields = map[string]fieldSpec{
	"active_sim":  {name: "active_sim", kind: kindInt},
	"balance":     {name: "balance", kind: kindBalance},
	"balance1":    {name: "balance_other", kind: kindBalance},
	"bit_state_1": {name: "bit_state", kind: kindUint64},
	"brelok":      {name: "key_number", kind: kindInt},
	"cabin_temp":  {name: "interior_temperature", kind: kindFloat},
	"engine_rpm":  {name: "engine_rpm", kind: kindInt},
	"engine_temp": {name: "engine_temperature", kind: kindFloat},
	"evaq":        {name: "is_evacuating", kind: kindBool},
	"fuel":        {name: "fuel", kind: kindFloat},
	"gsm_level":   {name: "gsm_level", kind: kindInt},
	"metka":       {name: "tag_number", kind: kindInt},
	"mileage":     {name: "mileage", kind: kindFloat},
	"mileage_CAN": {name: "can_mileage", kind: kindFloat},
	"move":        {name: "is_moving", kind: kindBool},
	"out_temp":    {name: "exterior_temperature", kind: kindFloat},
	"relay":       {name: "relay", kind: kindInt},
	"rot":         {name: "rotation", kind: kindFloat},
	"speed":       {name: "speed", kind: kindFloat},
	"voltage":     {name: "voltage", kind: kindFloat},
	"x":           {name: "latitude", kind: kindFloat},
	"y":           {name: "longitude", kind: kindFloat},
}

// wsOnlyFields appear on WebSocket state frames.
var wsOnlyFields = map[string]fieldSpec{
	"online_mode":   {name: "is_online", kind: kindBool},
	"lock_x":        {name: "lock_latitude", kind: kindFloat, scale: 1e6},
	"lock_y":        {name: "lock_longitude", kind: kindFloat, scale: 1e6},
	"state":         {name: "state_timestamp", kind: kindInt64},
	"state_utc":     {name: "state_timestamp_utc", kind: kindInt64},
	"online":        {name: "online_timestamp", kind: kindInt64},
	"online_utc":    {name: "online_timestamp_utc", kind: kindInt64},
	"setting_utc":   {name: "settings_timestamp_utc", kind: kindInt64},
	"command_utc":   {name: "command_timestamp_utc", kind: kindInt64},
	"track_remains": {name: "tracking_remaining", kind: kindFloat},
	"tanks":         {name: "fuel_tanks", kind: kindTanks},
	"can_bit_state": {name: "can_bit_state", kind: kindUint32},
}

// canFields arrive inline on WebSocket frames and nested under "can" on HTTP
// snapshots. Boolean CAN keys are intentionally absent: those states are
// asserted by the can_bit_state word, which is replaced atomically (never
// reconstructed from individual flags).
var canFields = map[string]fieldSpec{
	"CAN_TMPS_forvard_left":      {name: "can_tpms_front_left", kind: kindFloat},
	"CAN_TMPS_forvard_right":     {name: "can_tpms_front_right", kind: kindFloat},
	"CAN_TMPS_back_left":         {name: "can_tpms_back_left", kind: kindFloat},
	"CAN_TMPS_back_right":        {name: "can_tpms_back_right", kind: kindFloat},
	"CAN_TMPS_reserve":           {name: "can_tpms_reserve", kind: kindFloat},
	"CAN_average_speed":          {name: "can_average_speed", kind: kindFloat},
	"CAN_consumption":            {name: "can_consumption", kind: kindFloat},
	"CAN_days_to_maintenance":    {name: "can_days_to_maintenance", kind: kindInt},
	"CAN_mileage_by_battery":     {name: "can_mileage_by_battery", kind: kindFloat},
	"CAN_mileage_to_empty":       {name: "can_mileage_to_empty", kind: kindFloat},
	"CAN_mileage_to_maintenance": {name: "can_mileage_to_maintenance", kind: kindFloat},
	"SOC":                        {name: "ev_state_of_charge", kind: kindFloat},
	"SOH":                        {name: "ev_state_of_health", kind: kindFloat},
	"battery_temperature":        {name: "battery_temperature", kind: kindInt},
}

// wsStateFields is the full key table for WebSocket state decoding.
var wsStateFields = mergeSpecs(commonFields, wsOnlyFields, canFields)

// wireKeys is the inverse mapping used on encode.
var wireKeys = func() map[string]struct {
	key  string
	spec fieldSpec
} {
	out := make(map[string]struct {
		key  string
		spec fieldSpec
	}, len(wsStateFields))
	for key, spec := range wsStateFields {
		out[spec.name] = struct {
			key  string
			spec fieldSpec
		}{key, spec}
	}
	return out
}()

func mergeSpecs(maps ...map[string]fieldSpec) map[string]fieldSpec {
	out := make(map[string]fieldSpec)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// DecodeFrame decodes one WebSocket message into a typed frame.
func DecodeFrame(msg []byte) (*Frame, error) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if envelope.Type == "" || envelope.Data == nil {
		return nil, fmt.Errorf("%w: missing type or data", ErrMalformedFrame)
	}

	data, err := rawObject(envelope.Data)
	if err != nil {
		return nil, err
	}
	deviceID, err := parseDeviceID(data)
	if err != nil {
		return nil, err
	}

	frame := &Frame{Kind: FrameKind(envelope.Type), DeviceID: deviceID}
	switch frame.Kind {
	case KindInitialState, KindState:
		frame.State = decodeStateDelta(deviceID, data, wsStateFields)
	case KindPoint:
		frame.Point, frame.State = decodePoint(deviceID, data)
	case KindEvent:
		frame.Event = decodeEvent(deviceID, data)
	case KindCommand:
		frame.Command, err = decodeCommandReply(deviceID, data)
		if err != nil {
			return nil, err
		}
	case KindUpdateSettings:
		// Opaque settings-changed notification, surfaced as an event.
		frame.Event = &models.Event{
			DeviceID:     deviceID,
			PrimaryCode:  8,
			EventType:    "settings_changed",
			TitlePrimary: "Settings changed",
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, envelope.Type)
	}
	return frame, nil
}

// decodeStateDelta maps recognised wire keys into canonical values and keeps
// everything else in the raw sidecar.
func decodeStateDelta(deviceID int64, data map[string]json.RawMessage, fields map[string]fieldSpec) *StateDelta {
	d := &StateDelta{
		DeviceID: deviceID,
		Values:   make(map[string]interface{}),
		Raw:      make(map[string]json.RawMessage),
	}
	for key, raw := range data {
		if key == "id" || key == "dev_id" {
			continue
		}
		spec, ok := fields[key]
		if !ok {
			d.Raw[key] = raw
			continue
		}
		if isNull(raw) {
			d.Values[spec.name] = nil
			continue
		}
		v, ok := convertValue(raw, spec)
		if !ok {
			// Unconvertible payloads stay raw rather than clobbering state.
			d.Raw[key] = raw
			continue
		}
		d.Values[spec.name] = v
	}
	return d
}

func decodePoint(deviceID int64, data map[string]json.RawMessage) (*models.TrackingPoint, *StateDelta) {
	point := &models.TrackingPoint{DeviceID: deviceID}
	if v, ok := floatField(data, "x"); ok {
		point.Latitude = v
	}
	if v, ok := floatField(data, "y"); ok {
		point.Longitude = v
	}
	if v, ok := floatField(data, "speed"); ok {
		point.Speed = &v
	}
	if v, ok := floatField(data, "max_speed"); ok {
		point.MaxSpeed = &v
	}
	if v, ok := floatField(data, "fuel"); ok {
		point.Fuel = &v
	}
	if v, ok := floatField(data, "length"); ok {
		point.Length = &v
	}
	if v, ok := intField(data, "track_id"); ok {
		id := int64(v)
		point.TrackID = &id
	}
	if v, ok := intField(data, "dtime"); ok {
		point.Timestamp = int64(v)
	}

	// A point asserts the positional subset of device state as of its own
	// timestamp; the model applies it only when it is newer.
	delta := decodeStateDelta(deviceID, data, commonFields)
	if point.Timestamp != 0 {
		delta.Values["state_timestamp"] = point.Timestamp
	}
	return point, delta
}

func decodeEvent(deviceID int64, data map[string]json.RawMessage) *models.Event {
	ev := &models.Event{DeviceID: deviceID}
	if v, ok := intField(data, "id"); ok {
		ev.ID = int64(v)
	}
	if v, ok := intField(data, "eventid1"); ok {
		ev.PrimaryCode = v
	}
	if v, ok := intField(data, "eventid2"); ok {
		ev.SecondCode = v
	}
	if v, ok := intField(data, "dtime"); ok {
		ev.Timestamp = int64(v)
	} else if v, ok := intField(data, "time"); ok {
		ev.Timestamp = int64(v)
	}
	if v, ok := intField(data, "dtime_rec"); ok {
		ev.RecordedAt = int64(v)
	}
	if v, ok := floatField(data, "x"); ok {
		ev.Latitude = &v
	}
	if v, ok := floatField(data, "y"); ok {
		ev.Longitude = &v
	}
	if v, ok := uintField(data, "bit_state_1"); ok {
		ev.BitState = &v
	}
	if v, ok := floatField(data, "fuel"); ok {
		ev.Fuel = &v
	}
	if v, ok := intField(data, "gsm_level"); ok {
		ev.GSMLevel = &v
	}
	if v, ok := floatField(data, "out_temp"); ok {
		ev.ExteriorTemperature = &v
	}
	if v, ok := floatField(data, "engine_temp"); ok {
		ev.EngineTemperature = &v
	}
	if v, ok := floatField(data, "cabin_temp"); ok {
		ev.CabinTemperature = &v
	}
	if v, ok := floatField(data, "voltage"); ok {
		ev.Voltage = &v
	}
	if v, ok := intField(data, "engine_rpm"); ok {
		ev.EngineRPM = &v
	}
	ev.EventType, ev.TitlePrimary, ev.TitleSecondary = Codify(ev.PrimaryCode, ev.SecondCode)
	return ev
}

func decodeCommandReply(deviceID int64, data map[string]json.RawMessage) (*CommandReply, error) {
	reply := &CommandReply{DeviceID: deviceID}
	v, ok := intField(data, "command")
	if !ok {
		return nil, fmt.Errorf("%w: command reply without command id", ErrMalformedFrame)
	}
	reply.CommandID = v
	if v, ok := intField(data, "result"); ok {
		reply.Result = v
	}
	if v, ok := intField(data, "reply"); ok {
		reply.Reply = v
	}
	return reply, nil
}

// EncodeFrame re-encodes a decoded frame into the wire representation. Known
// fields map back to their wire keys, raw sidecar entries pass through
// verbatim, so the semantic map round-trips.
func EncodeFrame(f *Frame) ([]byte, error) {
	data := make(map[string]json.RawMessage)
	data["dev_id"] = jsonNumber(f.DeviceID)

	switch f.Kind {
	case KindInitialState, KindState:
		if err := encodeStateInto(f.State, data); err != nil {
			return nil, err
		}
	case KindCommand:
		data["command"] = jsonNumber(int64(f.Command.CommandID))
		data["result"] = jsonNumber(int64(f.Command.Result))
		data["reply"] = jsonNumber(int64(f.Command.Reply))
	case KindPoint:
		encodePointInto(f.Point, data)
	case KindEvent:
		encodeEventInto(f.Event, data)
	case KindUpdateSettings:
		// Opaque; only the device id is semantic.
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Kind)
	}

	return json.Marshal(struct {
		Type string                     `json:"type"`
		Data map[string]json.RawMessage `json:"data"`
	}{string(f.Kind), data})
}

func encodeStateInto(d *StateDelta, data map[string]json.RawMessage) error {
	if d == nil {
		return nil
	}
	for name, value := range d.Values {
		entry, ok := wireKeys[name]
		if !ok {
			return fmt.Errorf("%w: no wire key for field %q", ErrMalformedFrame, name)
		}
		if value == nil {
			data[entry.key] = json.RawMessage("null")
			continue
		}
		v := value
		if entry.spec.scale != 0 {
			if f, ok := value.(float64); ok {
				v = f * entry.spec.scale
			}
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", name, err)
		}
		data[entry.key] = raw
	}
	for key, raw := range d.Raw {
		data[key] = raw
	}
	return nil
}

func encodePointInto(p *models.TrackingPoint, data map[string]json.RawMessage) {
	if p == nil {
		return
	}
	data["x"] = jsonFloat(p.Latitude)
	data["y"] = jsonFloat(p.Longitude)
	data["dtime"] = jsonNumber(p.Timestamp)
	if p.TrackID != nil {
		data["track_id"] = jsonNumber(*p.TrackID)
	}
	if p.Speed != nil {
		data["speed"] = jsonFloat(*p.Speed)
	}
	if p.MaxSpeed != nil {
		data["max_speed"] = jsonFloat(*p.MaxSpeed)
	}
	if p.Fuel != nil {
		data["fuel"] = jsonFloat(*p.Fuel)
	}
	if p.Length != nil {
		data["length"] = jsonFloat(*p.Length)
	}
}

func encodeEventInto(ev *models.Event, data map[string]json.RawMessage) {
	if ev == nil {
		return
	}
	data["eventid1"] = jsonNumber(int64(ev.PrimaryCode))
	data["eventid2"] = jsonNumber(int64(ev.SecondCode))
	data["dtime"] = jsonNumber(ev.Timestamp)
	if ev.ID != 0 {
		data["id"] = jsonNumber(ev.ID)
	}
	if ev.RecordedAt != 0 {
		data["dtime_rec"] = jsonNumber(ev.RecordedAt)
	}
	if ev.Latitude != nil {
		data["x"] = jsonFloat(*ev.Latitude)
	}
	if ev.Longitude != nil {
		data["y"] = jsonFloat(*ev.Longitude)
	}
	if ev.BitState != nil {
		data["bit_state_1"] = json.RawMessage(strconv.FormatUint(*ev.BitState, 10))
	}
	if ev.Fuel != nil {
		data["fuel"] = jsonFloat(*ev.Fuel)
	}
	if ev.GSMLevel != nil {
		data["gsm_level"] = jsonNumber(int64(*ev.GSMLevel))
	}
	if ev.ExteriorTemperature != nil {
		data["out_temp"] = jsonFloat(*ev.ExteriorTemperature)
	}
	if ev.EngineTemperature != nil {
		data["engine_temp"] = jsonFloat(*ev.EngineTemperature)
	}
	if ev.CabinTemperature != nil {
		data["cabin_temp"] = jsonFloat(*ev.CabinTemperature)
	}
	if ev.Voltage != nil {
		data["voltage"] = jsonFloat(*ev.Voltage)
	}
	if ev.EngineRPM != nil {
		data["engine_rpm"] = jsonNumber(int64(*ev.EngineRPM))
	}
}

// Conversion helpers. The upstream is loose with types (numbers arrive as
// strings on some firmware revisions), so conversions accept both.

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func convertValue(raw json.RawMessage, spec fieldSpec) (interface{}, bool) {
	switch spec.kind {
	case kindFloat:
		f, ok := asFloat(raw)
		if !ok {
			return nil, false
		}
		if spec.scale != 0 {
			f /= spec.scale
		}
		return f, true
	case kindInt:
		f, ok := asFloat(raw)
		if !ok {
			return nil, false
		}
		return int(f), true
	case kindInt64:
		f, ok := asFloat(raw)
		if !ok {
			return nil, false
		}
		return int64(f), true
	case kindBool:
		return asBool(raw)
	case kindUint64:
		return asUint64(raw)
	case kindUint32:
		u, ok := asUint64(raw)
		if !ok {
			return nil, false
		}
		return uint32(u), true
	case kindBalance:
		var b models.Balance
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, false
		}
		return b, true
	case kindTanks:
		var tanks []models.FuelTank
		if err := json.Unmarshal(raw, &tanks); err != nil {
			return nil, false
		}
		return tanks, true
	}
	return nil, false
}

func asFloat(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func asBool(raw json.RawMessage) (interface{}, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	if f, ok := asFloat(raw); ok {
		return f != 0, true
	}
	return nil, false
}

func asUint64(raw json.RawMessage) (uint64, bool) {
	var u uint64
	if err := json.Unmarshal(raw, &u); err == nil {
		return u, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func rawObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: data is not an object", ErrMalformedFrame)
	}
	return data, nil
}

// parseDeviceID resolves the device identifier, which arrives as dev_id on
// stream frames and id on some HTTP responses, as a number or a string.
func parseDeviceID(data map[string]json.RawMessage) (int64, error) {
	for _, key := range []string{"dev_id", "id"} {
		raw, ok := data[key]
		if !ok {
			continue
		}
		if f, ok := asFloat(raw); ok && f != 0 {
			return int64(f), nil
		}
	}
	return 0, fmt.Errorf("%w: missing device id", ErrMalformedFrame)
}

func floatField(data map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := data[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	return asFloat(raw)
}

func intField(data map[string]json.RawMessage, key string) (int, bool) {
	f, ok := floatField(data, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func uintField(data map[string]json.RawMessage, key string) (uint64, bool) {
	raw, ok := data[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	return asUint64(raw)
}

func jsonNumber(n int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(n, 10))
}

func jsonFloat(f float64) json.RawMessage {
	return json.RawMessage(strconv.FormatFloat(f, 'g', -1, 64))
}
