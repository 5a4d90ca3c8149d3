package models

import "strconv"

// CommandID identifies a remote service executable on a device. The numeric
// value is authoritative on the wire; the symbolic alias is a convenience.
type CommandID int

const (
	// Locking mechanism
	CommandLock   CommandID = 1
	CommandUnlock CommandID = 2

	// Engine toggles
	CommandStartEngine CommandID = 4
	CommandStopEngine  CommandID = 8

	// Connection toggle. Reply codes for these are not well defined upstream
	// and are surfaced verbatim.
	CommandDisableConnection CommandID = 15
	CommandEnableConnection  CommandID = 240

	// Tracking toggle
	CommandEnableTracking  CommandID = 16
	CommandDisableTracking CommandID = 32

	// Active security toggle
	CommandEnableActiveSecurity  CommandID = 17
	CommandDisableActiveSecurity CommandID = 18

	// Coolant heater toggle
	CommandTurnOnCoolantHeater  CommandID = 21
	CommandTurnOffCoolantHeater CommandID = 22

	// Various triggers
	CommandTriggerHorn  CommandID = 23
	CommandTriggerLight CommandID = 24
	CommandTriggerTrunk CommandID = 35

	// External (timer) channel toggle
	CommandTurnOnExtChannel  CommandID = 33
	CommandTurnOffExtChannel CommandID = 34

	// Service mode toggle
	CommandEnableServiceMode  CommandID = 40
	CommandDisableServiceMode CommandID = 41

	// Status output toggle
	CommandEnableStatusOutput  CommandID = 48
	CommandDisableStatusOutput CommandID = 49

	// Additional commands
	CommandAdditional1 CommandID = 100
	CommandAdditional2 CommandID = 128

	// Reply semantics for check are not well defined upstream.
	CommandCheck CommandID = 255

	// Diagnostic trouble codes
	CommandEraseDTC CommandID = 57856
	CommandReadDTC  CommandID = 57857

	// NAV12-specific variants
	CommandNav12TurnOffBlockHeater  CommandID = 57353
	CommandNav12TurnOnBlockHeater   CommandID = 57354
	CommandNav12DisableStatusOutput CommandID = 57371
	CommandNav12EnableStatusOutput  CommandID = 57372
	CommandNav12DisableServiceMode  CommandID = 57374
	CommandNav12EnableServiceMode   CommandID = 57375
	CommandNav12ResetErrors         CommandID = 57408
)

// commandNames is the canonical alias table.
var commandNames = map[CommandID]string{
	CommandLock:                     "lock",
	CommandUnlock:                   "unlock",
	CommandStartEngine:              "start_engine",
	CommandStopEngine:               "stop_engine",
	CommandDisableConnection:        "disable_connection",
	CommandEnableConnection:         "enable_connection",
	CommandEnableTracking:           "enable_tracking",
	CommandDisableTracking:          "disable_tracking",
	CommandEnableActiveSecurity:     "enable_active_security",
	CommandDisableActiveSecurity:    "disable_active_security",
	CommandTurnOnCoolantHeater:      "turn_on_coolant_heater",
	CommandTurnOffCoolantHeater:     "turn_off_coolant_heater",
	CommandTriggerHorn:              "trigger_horn",
	CommandTriggerLight:             "trigger_light",
	CommandTriggerTrunk:             "trigger_trunk",
	CommandTurnOnExtChannel:         "turn_on_ext_channel",
	CommandTurnOffExtChannel:        "turn_off_ext_channel",
	CommandEnableServiceMode:        "enable_service_mode",
	CommandDisableServiceMode:       "disable_service_mode",
	CommandEnableStatusOutput:       "enable_status_output",
	CommandDisableStatusOutput:      "disable_status_output",
	CommandAdditional1:              "additional_command_1",
	CommandAdditional2:              "additional_command_2",
	CommandCheck:                    "check",
	CommandEraseDTC:                 "erase_dtc",
	CommandReadDTC:                  "read_dtc",
	CommandNav12TurnOffBlockHeater:  "nav12_turn_off_block_heater",
	CommandNav12TurnOnBlockHeater:   "nav12_turn_on_block_heater",
	CommandNav12DisableStatusOutput: "nav12_disable_status_output",
	CommandNav12EnableStatusOutput:  "nav12_enable_status_output",
	CommandNav12DisableServiceMode:  "nav12_disable_service_mode",
	CommandNav12EnableServiceMode:   "nav12_enable_service_mode",
	CommandNav12ResetErrors:         "nav12_reset_errors",
}

var commandAliases = func() map[string]CommandID {
	m := make(map[string]CommandID, len(commandNames))
	for id, name := range commandNames {
		m[name] = id
	}
	return m
}()

// String returns the symbolic alias, or the decimal id for unnamed commands.
func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

// ParseCommandID resolves a numeric id or symbolic alias. Unknown numeric ids
// are accepted as-is since the numeric value is authoritative.
func ParseCommandID(s string) (CommandID, bool) {
	if id, ok := commandAliases[s]; ok {
		return id, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return CommandID(n), true
}
