package codec

// primaryEvent describes one entry of the primary event code table.
type primaryEvent struct {
	Name  string
	Title string
}

// primaryEvents maps the upstream eventid1 values to stable symbolic names.
// The table is partly undocumented upstream; codes outside it decode as
// "unknown" with the raw pair preserved in the payload.
var primaryEvents = map[int]primaryEvent{
	1:   {"locking_enabled", "Locking enabled"},
	2:   {"locking_disabled", "Locking disabled"},
	3:   {"alert", "Alert"},
	4:   {"engine_started", "Engine started"},
	5:   {"engine_stopped", "Engine stopped"},
	6:   {"engine_locked", "Engine locked"},
	7:   {"service_mode_enabled", "Service mode enabled"},
	8:   {"settings_changed", "Settings changed"},
	9:   {"refuel", "Refuel"},
	10:  {"collision", "Collision"},
	11:  {"gsm_connection", "GSM connection"},
	12:  {"emergency_call", "Emergency call"},
	13:  {"failed_start_attempt", "Failed start attempt"},
	14:  {"tracking_enabled", "Tracking enabled"},
	15:  {"tracking_disabled", "Tracking disabled"},
	16:  {"system_power_loss", "System power loss"},
	17:  {"secure_trunk_open", "Secure trunk open"},
	18:  {"factory_testing", "Factory testing"},
	19:  {"power_dip", "Power dip"},
	20:  {"check_received", "Check received"},
	29:  {"system_login", "System login"},
	32:  {"active_security_enabled", "Active security enabled"},
	33:  {"active_security_disabled", "Active security disabled"},
	34:  {"active_security_alert", "Active security alert"},
	35:  {"block_heater_enabled", "Block heater enabled"},
	36:  {"block_heater_disabled", "Block heater disabled"},
	37:  {"rough_road_conditions", "Rough road conditions"},
	38:  {"driving", "Driving"},
	40:  {"engine_running_prolongation", "Engine running prolongation"},
	41:  {"service_mode_disabled", "Service mode disabled"},
	42:  {"gsm_channel_enabled", "GSM channel enabled"},
	43:  {"gsm_channel_disabled", "GSM channel disabled"},
	48:  {"nav11_status", "NAV-11 status"},
	166: {"dtc_read_request", "DTC read request"},
	167: {"dtc_read_error", "DTC read error"},
	168: {"dtc_read_active", "DTC read active"},
	169: {"dtc_erase_request", "DTC erase request"},
	170: {"dtc_erase_active", "DTC erase active"},
	176: {"system_message", "System message"},
	177: {"eco_mode_enabled", "Eco mode enabled"},
	178: {"eco_mode_disabled", "Eco mode disabled"},
	179: {"tire_pressure_low", "Tire pressure low"},
	220: {"bluetooth_status", "Bluetooth status"},
	230: {"tag_requirement_enabled", "Tag requirement enabled"},
	231: {"tag_requirement_disabled", "Tag requirement disabled"},
	232: {"tag_polling_enabled", "Tag polling enabled"},
	233: {"tag_polling_disabled", "Tag polling disabled"},
	250: {"point", "Point"},
}

const primaryAlert = 3

// alertDetails refines alert events (primary code 3) by their secondary code.
var alertDetails = map[int]primaryEvent{
	1:  {"battery", "Battery"},
	2:  {"ext_sensor_warning_zone", "External sensor, warning zone"},
	3:  {"ext_sensor_main_zone", "External sensor, main zone"},
	4:  {"crack_sensor_warning_zone", "Crack sensor, warning zone"},
	5:  {"crack_sensor_main_zone", "Crack sensor, main zone"},
	6:  {"brake_pedal_pressed", "Brake pedal pressed"},
	7:  {"handbrake_engaged", "Handbrake engaged"},
	8:  {"incline_detected", "Incline detected"},
	9:  {"movement_detected", "Movement detected"},
	10: {"engine_ignition", "Engine ignition"},
}

// EventTypeUnknown is emitted for code pairs absent from the tables.
const EventTypeUnknown = "unknown"

// Codify resolves an (eventid1, eventid2) pair into a stable event type name
// and human-readable titles. The raw codes stay in the event payload so the
// presentation layer can still act on unmapped pairs.
func Codify(primary, secondary int) (eventType, titlePrimary, titleSecondary string) {
	p, ok := primaryEvents[primary]
	if !ok {
		return EventTypeUnknown, "", ""
	}
	eventType = p.Name
	titlePrimary = p.Title
	if primary == primaryAlert {
		if a, ok := alertDetails[secondary]; ok {
			eventType = p.Name + "_" + a.Name
			titleSecondary = a.Title
		}
	}
	return eventType, titlePrimary, titleSecondary
}
