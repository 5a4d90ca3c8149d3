package bus

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// NATS subjects for the downstream topics.
const (
	SubjectEvent        = "pandora.cas.event"
	SubjectCommand      = "pandora.cas.command"
	SubjectStatusPrefix = "pandora.cas.status."
)

// EventPayload is the pandora_cas_event topic payload.
type EventPayload struct {
	Account             string   `json:"account,omitempty"`
	DeviceID            int64    `json:"device_id"`
	EventIDPrimary      int      `json:"event_id_primary"`
	EventIDSecondary    int      `json:"event_id_secondary"`
	TitlePrimary        string   `json:"title_primary,omitempty"`
	TitleSecondary      string   `json:"title_secondary,omitempty"`
	EventType           string   `json:"event_type"`
	Timestamp           int64    `json:"timestamp,omitempty"`
	Latitude            *float64 `json:"latitude,omitempty"`
	Longitude           *float64 `json:"longitude,omitempty"`
	GSMLevel            *int     `json:"gsm_level,omitempty"`
	Fuel                *float64 `json:"fuel,omitempty"`
	ExteriorTemperature *float64 `json:"exterior_temperature,omitempty"`
	EngineTemperature   *float64 `json:"engine_temperature,omitempty"`
}

// EventPayloadFrom builds the topic payload from a domain event.
func EventPayloadFrom(account string, ev *models.Event) EventPayload {
	return EventPayload{
		Account:             account,
		DeviceID:            ev.DeviceID,
		EventIDPrimary:      ev.PrimaryCode,
		EventIDSecondary:    ev.SecondCode,
		TitlePrimary:        ev.TitlePrimary,
		TitleSecondary:      ev.TitleSecondary,
		EventType:           ev.EventType,
		Timestamp:           ev.Timestamp,
		Latitude:            ev.Latitude,
		Longitude:           ev.Longitude,
		GSMLevel:            ev.GSMLevel,
		Fuel:                ev.Fuel,
		ExteriorTemperature: ev.ExteriorTemperature,
		EngineTemperature:   ev.EngineTemperature,
	}
}

// Publisher is the downstream surface the session layer publishes to.
type Publisher interface {
	PublishEvent(ev EventPayload)
	PublishCommand(ev models.CommandEvent)
	PublishStatus(change models.StatusChange)
}

// Dispatcher fans payloads out to in-process subscribers and, when a NATS
// connection is configured, mirrors them onto the bus subjects. In-process
// delivery is synchronous: subscribers must not block.
type Dispatcher struct {
	nc *nats.Conn

	mu          sync.RWMutex
	eventSubs   []func(EventPayload)
	commandSubs []func(models.CommandEvent)
	statusSubs  []func(models.StatusChange)
}

// New creates a dispatcher. nc may be nil for in-process-only operation.
func New(nc *nats.Conn) *Dispatcher {
	return &Dispatcher{nc: nc}
}

// OnEvent registers an in-process subscriber for domain events.
func (d *Dispatcher) OnEvent(fn func(EventPayload)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventSubs = append(d.eventSubs, fn)
}

// OnCommand registers an in-process subscriber for command terminations.
func (d *Dispatcher) OnCommand(fn func(models.CommandEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commandSubs = append(d.commandSubs, fn)
}

// OnStatus registers an in-process subscriber for account status changes.
func (d *Dispatcher) OnStatus(fn func(models.StatusChange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusSubs = append(d.statusSubs, fn)
}

// PublishEvent publishes on the pandora_cas_event topic.
func (d *Dispatcher) PublishEvent(ev EventPayload) {
	d.mu.RLock()
	subs := d.eventSubs
	d.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
	d.publishNATS(SubjectEvent, ev)
}

// PublishCommand publishes on the pandora_cas_command topic.
func (d *Dispatcher) PublishCommand(ev models.CommandEvent) {
	d.mu.RLock()
	subs := d.commandSubs
	d.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
	d.publishNATS(SubjectCommand, ev)
}

// PublishStatus publishes an account status transition.
func (d *Dispatcher) PublishStatus(change models.StatusChange) {
	d.mu.RLock()
	subs := d.statusSubs
	d.mu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}
	d.publishNATS(SubjectStatusPrefix+change.Account, change)
}

func (d *Dispatcher) publishNATS(subject string, payload interface{}) {
	if d.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal bus payload")
		return
	}
	if err := d.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish to NATS")
	}
}
