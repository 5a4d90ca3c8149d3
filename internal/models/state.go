package models

// Balance is an account balance reported for one of the device SIM cards.
type Balance struct {
	Value    float64 `json:"value"`
	Currency string  `json:"cur"`
}

// FuelTank is one tank reading from the upstream "tanks" array.
type FuelTank struct {
	ID    int     `json:"id"`
	Value float64 `json:"val"`
}

// CurrentState is the merged telemetry view of one device. Every field except
// the identifier is independently nullable: a nil pointer means the upstream
// has never reported the value (or has explicitly cleared it).
//
// BitState and CANBitState are whole words. They are replaced atomically on
// update, never OR-merged, because set bits are positive assertions about the
// vehicle.
type CurrentState struct {
	DeviceID int64 `json:"device_id"`

	IsOnline *bool `json:"is_online,omitempty"`

	// Position and motion
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
	Rotation      *float64 `json:"rotation,omitempty"`
	IsMoving      *bool    `json:"is_moving,omitempty"`
	IsEvacuating  *bool    `json:"is_evacuating,omitempty"`
	LockLatitude  *float64 `json:"lock_latitude,omitempty"`
	LockLongitude *float64 `json:"lock_longitude,omitempty"`

	// Engine and electrics
	EngineRPM           *int     `json:"engine_rpm,omitempty"`
	EngineTemperature   *float64 `json:"engine_temperature,omitempty"`
	InteriorTemperature *float64 `json:"interior_temperature,omitempty"`
	ExteriorTemperature *float64 `json:"exterior_temperature,omitempty"`
	Fuel                *float64 `json:"fuel,omitempty"`
	Voltage             *float64 `json:"voltage,omitempty"`
	Mileage             *float64 `json:"mileage,omitempty"`
	CANMileage          *float64 `json:"can_mileage,omitempty"`

	// Connectivity
	GSMLevel          *int     `json:"gsm_level,omitempty"`
	ActiveSim         *int     `json:"active_sim,omitempty"`
	Balance           *Balance `json:"balance,omitempty"`
	BalanceOther      *Balance `json:"balance_other,omitempty"`
	TrackingRemaining *float64 `json:"tracking_remaining,omitempty"`

	// Accessories
	TagNumber *int `json:"tag_number,omitempty"`
	KeyNumber *int `json:"key_number,omitempty"`
	Relay     *int `json:"relay,omitempty"`

	// Bit words
	BitState    *uint64 `json:"bit_state,omitempty"`
	CANBitState *uint32 `json:"can_bit_state,omitempty"`

	// CAN telemetry
	CANTpmsFrontLeft        *float64 `json:"can_tpms_front_left,omitempty"`
	CANTpmsFrontRight       *float64 `json:"can_tpms_front_right,omitempty"`
	CANTpmsBackLeft         *float64 `json:"can_tpms_back_left,omitempty"`
	CANTpmsBackRight        *float64 `json:"can_tpms_back_right,omitempty"`
	CANTpmsReserve          *float64 `json:"can_tpms_reserve,omitempty"`
	CANAverageSpeed         *float64 `json:"can_average_speed,omitempty"`
	CANConsumption          *float64 `json:"can_consumption,omitempty"`
	CANDaysToMaintenance    *int     `json:"can_days_to_maintenance,omitempty"`
	CANMileageByBattery     *float64 `json:"can_mileage_by_battery,omitempty"`
	CANMileageToEmpty       *float64 `json:"can_mileage_to_empty,omitempty"`
	CANMileageToMaintenance *float64 `json:"can_mileage_to_maintenance,omitempty"`

	// EV telemetry
	EVStateOfCharge    *float64 `json:"ev_state_of_charge,omitempty"`
	EVStateOfHealth    *float64 `json:"ev_state_of_health,omitempty"`
	BatteryTemperature *int     `json:"battery_temperature,omitempty"`

	FuelTanks []FuelTank `json:"fuel_tanks,omitempty"`

	// Timestamps (unix seconds). OnlineTimestamp is monotonic non-decreasing;
	// frames carrying an older value are dropped before the merge.
	StateTimestamp       *int64 `json:"state_timestamp,omitempty"`
	StateTimestampUTC    *int64 `json:"state_timestamp_utc,omitempty"`
	OnlineTimestamp      *int64 `json:"online_timestamp,omitempty"`
	OnlineTimestampUTC   *int64 `json:"online_timestamp_utc,omitempty"`
	SettingsTimestampUTC *int64 `json:"settings_timestamp_utc,omitempty"`
	CommandTimestampUTC  *int64 `json:"command_timestamp_utc,omitempty"`
}

var compassSides = [...]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Direction renders the rotation field as a 16-wind compass name.
func (s *CurrentState) Direction() string {
	var deg float64
	if s.Rotation != nil {
		deg = *s.Rotation
	}
	idx := int(deg/(360.0/float64(len(compassSides)))+0.5) % len(compassSides)
	if idx < 0 {
		idx += len(compassSides)
	}
	return compassSides[idx]
}

// Online reports whether the device can be deemed online.
func (s *CurrentState) Online() bool {
	return s.IsOnline != nil && *s.IsOnline
}
