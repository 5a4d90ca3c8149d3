package account

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pandora-cas/pandora-cloud-client/internal/bus"
	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/config"
	"github.com/pandora-cas/pandora-cloud-client/internal/device"
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// fakeUpstream emulates the cloud service: cookie login, device discovery,
// snapshot polls, command submission and the frame stream.
type fakeUpstream struct {
	srv *httptest.Server

	mu          sync.Mutex
	conns       []*websocket.Conn
	connCount   atomic.Int32
	logins      atomic.Int32
	commands    atomic.Int32
	updatesBody atomic.Value
	initialMsg  atomic.Value
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.updatesBody.Store(`{"ts": 100, "stats": {"1234": {"online": 1, "bit_state_1": 1, "engine_rpm": 0, "fuel": 50, "speed": 0}}}`)
	f.initialMsg.Store(`{"type":"initial-state","data":{"dev_id":1234,"online_mode":1,"fuel":50}}`)

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "cookie"})
		w.Write([]byte(`{"user_id": 1, "session_id": "abc"}`))
	})
	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 1234, "name": "Car", "model": "DXL", "firmware": "2.0", "type": "alarm", "features": {"autostart": 1}}]`))
	})
	mux.HandleFunc("/api/updates", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(f.updatesBody.Load().(string)))
	})
	mux.HandleFunc("/api/devices/command", func(w http.ResponseWriter, r *http.Request) {
		f.commands.Add(1)
		w.Write([]byte(`{"status":"success","action_result":{"1234":"sent"}}`))
	})
	mux.HandleFunc("/api/v4/updates/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		f.connCount.Add(1)

		conn.WriteMessage(websocket.TextMessage, []byte(f.initialMsg.Load().(string)))

		// Reading services client pings; exit on close.
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// push writes a frame to the most recent stream connection.
func (f *fakeUpstream) push(t *testing.T, msg string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		t.Fatal("no stream connection to push on")
	}
	conn := f.conns[len(f.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("push: %v", err)
	}
}

// dropConns force-closes every open stream connection.
func (f *fakeUpstream) dropConns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		conn.Close()
	}
	f.conns = nil
}

func (f *fakeUpstream) waitConns(t *testing.T, n int32) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for f.connCount.Load() < n {
		select {
		case <-deadline:
			t.Fatalf("stream connections = %d, want %d", f.connCount.Load(), n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func startTestAccount(t *testing.T, f *fakeUpstream) (*Account, *bus.Dispatcher) {
	t.Helper()

	dispatcher := bus.New(nil)
	cfg := config.AccountConfig{
		Name:            "test",
		Username:        "user",
		Password:        "pass",
		UserAgent:       "test-agent",
		BaseURL:         f.srv.URL,
		PollingInterval: time.Minute,
		CommandTimeout:  2 * time.Second,
	}

	a, err := New(cfg, dispatcher, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(a.Close)
	return a, dispatcher
}

func waitUpdate(t *testing.T, updates <-chan device.Update, match func(device.Update) bool) device.Update {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("expected update never arrived")
		}
	}
}

func TestStartHappyPath(t *testing.T) {
	f := newFakeUpstream(t)
	a, _ := startTestAccount(t, f)

	m, ok := a.Device(1234)
	if !ok {
		t.Fatal("device 1234 not discovered")
	}
	if m.Info().Name != "Car" || m.Info().Model != "DXL" {
		t.Fatalf("identity = %+v", m.Info())
	}

	view := m.Snapshot()
	if view.BitState == nil {
		t.Fatal("bit_state missing after first snapshot")
	}
	flags := codec.ExpandBits(*view.BitState, codec.StateBits)
	if !flags["locked"] {
		t.Error("device should read as armed")
	}
	if flags["engine_running"] {
		t.Error("engine should read as stopped")
	}
	if view.EngineRPM == nil || *view.EngineRPM != 0 {
		t.Errorf("engine rpm = %v", view.EngineRPM)
	}

	if status, _ := a.Status(); status != models.StatusOK {
		t.Fatalf("status = %v", status)
	}
}

func TestStreamDeltaMergesIntoView(t *testing.T) {
	f := newFakeUpstream(t)
	a, _ := startTestAccount(t, f)
	f.waitConns(t, 1)

	m, _ := a.Device(1234)
	updates := make(chan device.Update, 32)
	sub := m.Subscribe(func(u device.Update) { updates <- u })
	defer sub.Cancel()

	f.push(t, `{"type":"state","data":{"dev_id":1234,"speed":42}}`)

	u := waitUpdate(t, updates, func(u device.Update) bool {
		for _, name := range u.Changed {
			if name == "speed" {
				return true
			}
		}
		return false
	})
	if u.View.Speed == nil || *u.View.Speed != 42 {
		t.Fatalf("speed = %v", u.View.Speed)
	}
	if u.View.Fuel == nil || *u.View.Fuel != 50 {
		t.Fatalf("delta clobbered fuel: %v", u.View.Fuel)
	}
}

func TestCommandRoundTripThroughAccount(t *testing.T) {
	f := newFakeUpstream(t)
	a, dispatcher := startTestAccount(t, f)
	f.waitConns(t, 1)

	var events []models.CommandEvent
	var mu sync.Mutex
	dispatcher.OnCommand(func(ev models.CommandEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	future, err := a.SubmitCommand(context.Background(), 1234, models.CommandStartEngine, true)
	if err != nil {
		t.Fatalf("SubmitCommand: %v", err)
	}

	f.push(t, `{"type":"command","data":{"dev_id":1234,"command":4,"result":0,"reply":0}}`)

	result, err := future.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != models.CommandOK {
		t.Fatalf("result = %v", result.Kind)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("command event never published")
		case <-time.After(10 * time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if events[0].Result != models.CommandOK || events[0].CommandID != 4 {
		t.Fatalf("command event = %+v", events[0])
	}
}

func TestReconnectResync(t *testing.T) {
	f := newFakeUpstream(t)
	a, _ := startTestAccount(t, f)
	f.waitConns(t, 1)

	m, _ := a.Device(1234)
	updates := make(chan device.Update, 32)
	sub := m.Subscribe(func(u device.Update) { updates <- u })
	defer sub.Cancel()

	// The next connection delivers a fresh snapshot with new fuel.
	f.initialMsg.Store(`{"type":"initial-state","data":{"dev_id":1234,"online_mode":1,"fuel":55}}`)
	f.dropConns()
	f.waitConns(t, 2)

	u := waitUpdate(t, updates, func(u device.Update) bool {
		for _, name := range u.Changed {
			if name == "fuel" {
				return true
			}
		}
		return false
	})
	if u.View.Fuel == nil || *u.View.Fuel != 55 {
		t.Fatalf("fuel after resync = %v", u.View.Fuel)
	}
}

func TestStreamEventsReachBus(t *testing.T) {
	f := newFakeUpstream(t)
	_, dispatcher := startTestAccount(t, f)
	f.waitConns(t, 1)

	got := make(chan bus.EventPayload, 8)
	dispatcher.OnEvent(func(ev bus.EventPayload) { got <- ev })

	f.push(t, `{"type":"event","data":{"dev_id":1234,"eventid1":4,"eventid2":0,"dtime":1700000000,"x":55.7,"y":37.6}}`)

	select {
	case ev := <-got:
		if ev.EventType != "engine_started" || ev.DeviceID != 1234 {
			t.Fatalf("event = %+v", ev)
		}
		if ev.Latitude == nil || *ev.Latitude != 55.7 {
			t.Fatalf("event latitude = %v", ev.Latitude)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never reached the bus")
	}
}

func TestCloseDrainsCleanly(t *testing.T) {
	f := newFakeUpstream(t)
	a, _ := startTestAccount(t, f)
	f.waitConns(t, 1)

	m, _ := a.Device(1234)
	closed := make(chan struct{}, 1)
	m.Subscribe(func(u device.Update) {
		if u.Closed {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	})

	a.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("listeners did not receive the closed notification")
	}
	if status, _ := a.Status(); status != models.StatusClosed {
		t.Fatalf("status = %v", status)
	}
}
