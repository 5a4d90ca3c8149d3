package device

import (
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// applyValue merges one canonical field into the state and reports whether
// the visible value changed. A nil value is an explicit clear. Values always
// install fresh pointers so previously returned snapshots stay immutable.
func applyValue(s *models.CurrentState, name string, value interface{}) bool {
	switch name {
	case "is_online":
		return mergeBool(&s.IsOnline, value)
	case "latitude":
		return mergeFloat(&s.Latitude, value)
	case "longitude":
		return mergeFloat(&s.Longitude, value)
	case "speed":
		return mergeFloat(&s.Speed, value)
	case "rotation":
		return mergeFloat(&s.Rotation, value)
	case "is_moving":
		return mergeBool(&s.IsMoving, value)
	case "is_evacuating":
		return mergeBool(&s.IsEvacuating, value)
	case "lock_latitude":
		return mergeFloat(&s.LockLatitude, value)
	case "lock_longitude":
		return mergeFloat(&s.LockLongitude, value)
	case "engine_rpm":
		return mergeInt(&s.EngineRPM, value)
	case "engine_temperature":
		return mergeFloat(&s.EngineTemperature, value)
	case "interior_temperature":
		return mergeFloat(&s.InteriorTemperature, value)
	case "exterior_temperature":
		return mergeFloat(&s.ExteriorTemperature, value)
	case "fuel":
		return mergeFloat(&s.Fuel, value)
	case "voltage":
		return mergeFloat(&s.Voltage, value)
	case "mileage":
		return mergeFloat(&s.Mileage, value)
	case "can_mileage":
		return mergeFloat(&s.CANMileage, value)
	case "gsm_level":
		return mergeInt(&s.GSMLevel, value)
	case "active_sim":
		return mergeInt(&s.ActiveSim, value)
	case "balance":
		return mergeBalance(&s.Balance, value)
	case "balance_other":
		return mergeBalance(&s.BalanceOther, value)
	case "tracking_remaining":
		return mergeFloat(&s.TrackingRemaining, value)
	case "tag_number":
		return mergeInt(&s.TagNumber, value)
	case "key_number":
		return mergeInt(&s.KeyNumber, value)
	case "relay":
		return mergeInt(&s.Relay, value)
	case "bit_state":
		return mergeUint64(&s.BitState, value)
	case "can_bit_state":
		return mergeUint32(&s.CANBitState, value)
	case "can_tpms_front_left":
		return mergeFloat(&s.CANTpmsFrontLeft, value)
	case "can_tpms_front_right":
		return mergeFloat(&s.CANTpmsFrontRight, value)
	case "can_tpms_back_left":
		return mergeFloat(&s.CANTpmsBackLeft, value)
	case "can_tpms_back_right":
		return mergeFloat(&s.CANTpmsBackRight, value)
	case "can_tpms_reserve":
		return mergeFloat(&s.CANTpmsReserve, value)
	case "can_average_speed":
		return mergeFloat(&s.CANAverageSpeed, value)
	case "can_consumption":
		return mergeFloat(&s.CANConsumption, value)
	case "can_days_to_maintenance":
		return mergeInt(&s.CANDaysToMaintenance, value)
	case "can_mileage_by_battery":
		return mergeFloat(&s.CANMileageByBattery, value)
	case "can_mileage_to_empty":
		return mergeFloat(&s.CANMileageToEmpty, value)
	case "can_mileage_to_maintenance":
		return mergeFloat(&s.CANMileageToMaintenance, value)
	case "ev_state_of_charge":
		return mergeFloat(&s.EVStateOfCharge, value)
	case "ev_state_of_health":
		return mergeFloat(&s.EVStateOfHealth, value)
	case "battery_temperature":
		return mergeInt(&s.BatteryTemperature, value)
	case "fuel_tanks":
		return mergeTanks(&s.FuelTanks, value)
	case "state_timestamp":
		return mergeInt64(&s.StateTimestamp, value)
	case "state_timestamp_utc":
		return mergeInt64(&s.StateTimestampUTC, value)
	case "online_timestamp":
		return mergeInt64(&s.OnlineTimestamp, value)
	case "online_timestamp_utc":
		return mergeInt64(&s.OnlineTimestampUTC, value)
	case "settings_timestamp_utc":
		return mergeInt64(&s.SettingsTimestampUTC, value)
	case "command_timestamp_utc":
		return mergeInt64(&s.CommandTimestampUTC, value)
	}
	return false
}

func mergeFloat(dst **float64, value interface{}) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	v, ok := value.(float64)
	if !ok {
		return false
	}
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func mergeInt(dst **int, value interface{}) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	v, ok := value.(int)
	if !ok {
		return false
	}
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func mergeInt64(dst **int64, value interface{}) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	v, ok := value.(int64)
	if !ok {
		return false
	}
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func mergeBool(dst **bool, value interface{}) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	v, ok := value.(bool)
	if !ok {
		return false
	}
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func mergeUint64(dst **uint64, value interface{}) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	v, ok := value.(uint64)
	if !ok {
		return false
	}
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func mergeUint32(dst **uint32, value interface{}) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	v, ok := value.(uint32)
	if !ok {
		return false
	}
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func mergeBalance(dst **models.Balance, value interface{}) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	v, ok := value.(models.Balance)
	if !ok {
		return false
	}
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func mergeTanks(dst *[]models.FuelTank, value interface{}) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	v, ok := value.([]models.FuelTank)
	if !ok {
		return false
	}
	if tanksEqual(*dst, v) {
		return false
	}
	out := make([]models.FuelTank, len(v))
	copy(out, v)
	*dst = out
	return true
}

func tanksEqual(a, b []models.FuelTank) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
