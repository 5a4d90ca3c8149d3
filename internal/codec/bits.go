package codec

// BitFlag names one bit position inside a device state word.
type BitFlag struct {
	Bit  uint
	Name string
}

// BitMap describes a whole state word, low bit first.
type BitMap []BitFlag

// ExpandBits expands a state word into a named boolean map. Every name in the
// map is present in the result so consumers see explicit false values for
// cleared bits.
func ExpandBits(word uint64, m BitMap) map[string]bool {
	out := make(map[string]bool, len(m))
	for _, f := range m {
		out[f.Name] = word&(1<<f.Bit) != 0
	}
	return out
}

// StateBits mirrors the vendor codification of the 64-bit bit_state word.
var StateBits = BitMap{
	{0, "locked"},
	{1, "alarm"},
	{2, "engine_running"},
	{3, "ignition"},
	{4, "autostart_active"},
	{5, "hands_free_locking"},
	{6, "hands_free_unlocking"},
	{7, "gsm_active"},
	{8, "gps_active"},
	{9, "tracking_enabled"},
	{10, "engine_locked"},
	{11, "ext_sensor_alert_zone"},
	{12, "ext_sensor_main_zone"},
	{13, "sensor_alert_zone"},
	{14, "sensor_main_zone"},
	{15, "autostart_enabled"},
	{16, "incoming_sms_enabled"},
	{17, "incoming_calls_enabled"},
	{18, "exterior_lights_active"},
	{19, "siren_warnings_enabled"},
	{20, "siren_sound_enabled"},
	{21, "door_front_left_open"},
	{22, "door_front_right_open"},
	{23, "door_back_left_open"},
	{24, "door_back_right_open"},
	{25, "trunk_open"},
	{26, "hood_open"},
	{27, "handbrake_engaged"},
	{28, "brakes_engaged"},
	{29, "block_heater_active"},
	{30, "active_security_enabled"},
	{31, "block_heater_enabled"},
	{33, "evacuation_mode_active"},
	{34, "service_mode_active"},
	{35, "stay_home_active"},
	{60, "security_tags_ignored"},
	{61, "security_tags_enforced"},
}

// CANBits mirrors the codification of the 32-bit can_bit_state word.
var CANBits = BitMap{
	{0, "can_low_liquid"},
	{1, "can_seat_taken"},
	{2, "can_need_pads_exchange"},
	{3, "can_glass_driver_open"},
	{4, "can_glass_passenger_open"},
	{5, "can_glass_back_left_open"},
	{6, "can_glass_back_right_open"},
	{7, "can_belt_driver"},
	{8, "can_belt_passenger"},
	{9, "can_belt_back_left"},
	{10, "can_belt_back_right"},
	{11, "can_belt_back_center"},
	{12, "can_tpms_front_left_warn"},
	{13, "can_tpms_front_right_warn"},
	{14, "can_tpms_back_left_warn"},
	{15, "can_tpms_back_right_warn"},
	{16, "ev_charging_connected"},
	{17, "ev_charging_slow"},
	{18, "ev_charging_fast"},
	{19, "ev_status_ready"},
}
