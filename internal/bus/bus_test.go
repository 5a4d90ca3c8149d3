package bus

import (
	"testing"

	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

func TestDispatcherFanout(t *testing.T) {
	d := New(nil)

	var events []EventPayload
	var commands []models.CommandEvent
	var statuses []models.StatusChange

	d.OnEvent(func(ev EventPayload) { events = append(events, ev) })
	d.OnEvent(func(ev EventPayload) { events = append(events, ev) })
	d.OnCommand(func(ev models.CommandEvent) { commands = append(commands, ev) })
	d.OnStatus(func(ev models.StatusChange) { statuses = append(statuses, ev) })

	d.PublishEvent(EventPayload{DeviceID: 1, EventType: "alert"})
	d.PublishCommand(models.CommandEvent{DeviceID: 1, CommandID: 4, Result: models.CommandOK})
	d.PublishStatus(models.StatusChange{Account: "a", Status: models.StatusOK})

	if len(events) != 2 {
		t.Fatalf("event deliveries = %d, want every subscriber called", len(events))
	}
	if len(commands) != 1 || commands[0].CommandID != 4 {
		t.Fatalf("commands = %+v", commands)
	}
	if len(statuses) != 1 || statuses[0].Account != "a" {
		t.Fatalf("statuses = %+v", statuses)
	}
}

func TestEventPayloadFrom(t *testing.T) {
	lat, fuel := 55.7, 40.0
	gsm := 3
	ev := &models.Event{
		DeviceID:       1234,
		PrimaryCode:    3,
		SecondCode:     9,
		EventType:      "alert_movement_detected",
		TitlePrimary:   "Alert",
		TitleSecondary: "Movement detected",
		Timestamp:      1700000000,
		Latitude:       &lat,
		Fuel:           &fuel,
		GSMLevel:       &gsm,
	}

	p := EventPayloadFrom("main", ev)
	if p.Account != "main" || p.DeviceID != 1234 {
		t.Fatalf("payload = %+v", p)
	}
	if p.EventIDPrimary != 3 || p.EventIDSecondary != 9 {
		t.Fatalf("codes = (%d, %d)", p.EventIDPrimary, p.EventIDSecondary)
	}
	if p.EventType != "alert_movement_detected" {
		t.Fatalf("event type = %q", p.EventType)
	}
	if p.Latitude == nil || *p.Latitude != 55.7 {
		t.Fatalf("latitude = %v", p.Latitude)
	}
	if p.GSMLevel == nil || *p.GSMLevel != 3 {
		t.Fatalf("gsm = %v", p.GSMLevel)
	}
}
