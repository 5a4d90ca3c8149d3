package device

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
)

func delta(values map[string]interface{}) *codec.StateDelta {
	return &codec.StateDelta{DeviceID: 1234, Values: values}
}

func TestApplyDeltaSparseMerge(t *testing.T) {
	m := New(1234)
	m.ApplyDelta(delta(map[string]interface{}{
		"speed": 0.0,
		"fuel":  50.0,
	}))

	changed := m.ApplyDelta(delta(map[string]interface{}{"speed": 42.0}))
	if !reflect.DeepEqual(changed, []string{"speed"}) {
		t.Fatalf("changed = %v, want [speed]", changed)
	}

	view := m.Snapshot()
	if view.Speed == nil || *view.Speed != 42 {
		t.Fatalf("speed = %v", view.Speed)
	}
	if view.Fuel == nil || *view.Fuel != 50 {
		t.Fatalf("absent field clobbered: fuel = %v", view.Fuel)
	}
}

func TestApplyDeltaExplicitNullClears(t *testing.T) {
	m := New(1234)
	m.ApplyDelta(delta(map[string]interface{}{"fuel": 50.0}))

	changed := m.ApplyDelta(delta(map[string]interface{}{"fuel": nil}))
	if !reflect.DeepEqual(changed, []string{"fuel"}) {
		t.Fatalf("changed = %v", changed)
	}
	if view := m.Snapshot(); view.Fuel != nil {
		t.Fatalf("explicit null must clear the field")
	}
}

func TestApplyDeltaNoChangeNoNotify(t *testing.T) {
	m := New(1234)
	m.ApplyDelta(delta(map[string]interface{}{"fuel": 50.0}))

	var calls int
	var mu sync.Mutex
	sub := m.Subscribe(func(u Update) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	defer sub.Cancel()

	if changed := m.ApplyDelta(delta(map[string]interface{}{"fuel": 50.0})); changed != nil {
		t.Fatalf("identical value must not count as a change: %v", changed)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("no-op delta must not notify, got %d calls", calls)
	}
}

func TestBitStateReplacedAtomically(t *testing.T) {
	m := New(1234)
	m.ApplyDelta(delta(map[string]interface{}{"bit_state": uint64(0b1011)}))
	m.ApplyDelta(delta(map[string]interface{}{"bit_state": uint64(0b0100)}))

	view := m.Snapshot()
	if *view.BitState != 0b0100 {
		t.Fatalf("bit_state = %b, want replacement not OR-merge", *view.BitState)
	}
}

func TestStaleFrameDropped(t *testing.T) {
	m := New(1234)
	m.ApplyDelta(delta(map[string]interface{}{
		"state_timestamp": int64(2000),
		"fuel":            55.0,
	}))

	// A frame stamped earlier must be a no-op, even for other fields.
	changed := m.ApplyDelta(delta(map[string]interface{}{
		"state_timestamp": int64(1000),
		"fuel":            10.0,
	}))
	if changed != nil {
		t.Fatalf("stale frame applied: %v", changed)
	}
	if view := m.Snapshot(); *view.Fuel != 55 {
		t.Fatalf("stale frame mutated state: fuel = %v", *view.Fuel)
	}

	// Monotonic also holds for the online timestamp.
	m.ApplyDelta(delta(map[string]interface{}{"online_timestamp": int64(5000)}))
	changed = m.ApplyDelta(delta(map[string]interface{}{"online_timestamp": int64(4000)}))
	if changed != nil {
		t.Fatalf("regressing online timestamp applied")
	}
}

func TestListenerReceivesCommittedView(t *testing.T) {
	m := New(1234)

	updates := make(chan Update, 8)
	sub := m.Subscribe(func(u Update) { updates <- u })
	defer sub.Cancel()

	m.ApplyDelta(delta(map[string]interface{}{"speed": 42.0, "fuel": 50.0}))

	select {
	case u := <-updates:
		if u.View.Speed == nil || *u.View.Speed != 42 {
			t.Fatalf("listener view speed = %v", u.View.Speed)
		}
		if !reflect.DeepEqual(u.Changed, []string{"fuel", "speed"}) {
			t.Fatalf("changed = %v", u.Changed)
		}
	case <-time.After(time.Second):
		t.Fatal("listener not invoked")
	}
}

func TestListenerOrdering(t *testing.T) {
	m := New(1234)

	var mu sync.Mutex
	var speeds []float64
	sub := m.Subscribe(func(u Update) {
		mu.Lock()
		speeds = append(speeds, *u.View.Speed)
		mu.Unlock()
	})
	defer sub.Cancel()

	for i := 1; i <= 10; i++ {
		m.ApplyDelta(delta(map[string]interface{}{"speed": float64(i)}))
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(speeds)
		mu.Unlock()
		if n == 10 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of 10 updates delivered", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range speeds {
		if v != float64(i+1) {
			t.Fatalf("updates out of order: %v", speeds)
		}
	}
}

func TestBackpressureCoalescing(t *testing.T) {
	m := New(1234)

	block := make(chan struct{})
	updates := make(chan Update, 256)
	sub := m.Subscribe(func(u Update) {
		<-block
		updates <- u
	})
	defer sub.Cancel()

	// First update parks the listener; the queue then overflows.
	total := queueCapacity + 20
	for i := 1; i <= total; i++ {
		m.ApplyDelta(delta(map[string]interface{}{"speed": float64(i)}))
	}
	close(block)

	var received []Update
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			received = append(received, u)
			// The final delivered view must be the newest one.
			if *u.View.Speed == float64(total) {
				goto done
			}
		case <-deadline:
			t.Fatalf("newest update never delivered; got %d updates", len(received))
		}
	}
done:
	if len(received) >= total {
		t.Fatalf("expected coalescing, got all %d updates", len(received))
	}
	var sawBackpressure bool
	for _, u := range received {
		if u.Backpressure {
			sawBackpressure = true
		}
	}
	if !sawBackpressure {
		t.Fatal("overflow must mark a backpressure notification")
	}
}

func TestCloseNotifiesListeners(t *testing.T) {
	m := New(1234)

	updates := make(chan Update, 8)
	m.Subscribe(func(u Update) { updates <- u })

	m.ApplyDelta(delta(map[string]interface{}{"speed": 1.0}))
	m.Close()

	var sawClosed bool
	deadline := time.After(time.Second)
	for !sawClosed {
		select {
		case u := <-updates:
			sawClosed = u.Closed
		case <-deadline:
			t.Fatal("closed notification not delivered")
		}
	}

	// Applying after close is a no-op.
	if changed := m.ApplyDelta(delta(map[string]interface{}{"speed": 2.0})); changed != nil {
		t.Fatal("delta applied after close")
	}
}

func TestRestoreAdvisory(t *testing.T) {
	m := New(1234)

	fuel := 40.0
	ts := int64(1000)
	m.RestoreAdvisory(m.Snapshot()) // no-op on empty state

	restored := m.Snapshot()
	restored.Fuel = &fuel
	restored.StateTimestamp = &ts
	m.RestoreAdvisory(restored)

	if view := m.Snapshot(); view.Fuel == nil || *view.Fuel != 40 {
		t.Fatalf("advisory state not restored")
	}

	// Fresh data with a newer timestamp wins.
	m.ApplyDelta(delta(map[string]interface{}{
		"state_timestamp": int64(2000),
		"fuel":            55.0,
	}))
	if view := m.Snapshot(); *view.Fuel != 55 {
		t.Fatalf("fresh data must win over restored state")
	}

	// Once live data exists, restore is ignored.
	stale := m.Snapshot()
	other := 1.0
	stale.Fuel = &other
	m.RestoreAdvisory(stale)
	if view := m.Snapshot(); *view.Fuel != 55 {
		t.Fatalf("restore must not override live data")
	}
}
