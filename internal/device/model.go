package device

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// queueCapacity bounds each listener's delivery queue. On overflow the oldest
// pending update is dropped and folded into the newest, which then carries a
// backpressure mark.
const queueCapacity = 32

// Update is one committed change delivered to a listener.
type Update struct {
	Info    models.DeviceInfo
	View    models.CurrentState
	Changed []string

	// Backpressure marks that older updates were coalesced into this one
	// because the listener fell behind.
	Backpressure bool

	// Closed is the final notification; no updates follow it.
	Closed bool
}

// Model holds the merged view of one device and fans committed changes out to
// subscribers. Merges are serialized by the model mutex; listener callbacks
// run on per-listener goroutines so a slow consumer never blocks frame
// ingestion.
type Model struct {
	id     int64
	logger zerolog.Logger

	mu         sync.Mutex
	info       models.DeviceInfo
	state      models.CurrentState
	nextHandle int
	listeners  map[int]*listener
	closed     bool
}

type listener struct {
	fn   func(Update)
	ch   chan Update
	done chan struct{}
}

// Subscription identifies one listener registration.
type Subscription struct {
	model  *Model
	handle int
}

// New creates the model for one device id.
func New(deviceID int64) *Model {
	return &Model{
		id:        deviceID,
		logger:    log.With().Int64("device_id", deviceID).Logger(),
		state:     models.CurrentState{DeviceID: deviceID},
		listeners: make(map[int]*listener),
	}
}

// ID returns the device identifier.
func (m *Model) ID() int64 { return m.id }

// Info returns the identity attributes last seen on a snapshot.
func (m *Model) Info() models.DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Snapshot returns an immutable copy of the current view. Merges always
// install fresh pointers, so the shallow copy never aliases mutable state.
func (m *Model) Snapshot() models.CurrentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetInfo replaces the identity attributes wholesale. Identity is only ever
// mutated on snapshot, never merged.
func (m *Model) SetInfo(info models.DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// ApplySnapshot applies a full-state frame: identity aside, the merge path is
// the delta path, so timestamp protection still applies.
func (m *Model) ApplySnapshot(delta *codec.StateDelta) []string {
	return m.ApplyDelta(delta)
}

// ApplyDelta merges a field-sparse update. Fields absent from the delta keep
// their prior values; fields explicitly null are cleared; the bit words are
// replaced whole. A delta whose timestamps regress against the current view
// is dropped completely.
func (m *Model) ApplyDelta(delta *codec.StateDelta) []string {
	if delta == nil {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}

	if stale, field := m.isStale(delta); stale {
		m.mu.Unlock()
		m.logger.Warn().
			Str("field", field).
			Msg("Dropping state update older than current view")
		return nil
	}

	changed := make([]string, 0, len(delta.Values))
	for name, value := range delta.Values {
		if applyValue(&m.state, name, value) {
			changed = append(changed, name)
		}
	}
	if len(changed) == 0 {
		m.mu.Unlock()
		return nil
	}
	sort.Strings(changed)

	update := Update{
		Info:    m.info,
		View:    m.state,
		Changed: changed,
	}
	m.enqueueLocked(update)
	m.mu.Unlock()
	return changed
}

// RestoreAdvisory seeds the view from persisted state. It only applies while
// the model is still empty; once live data arrives the usual timestamp rules
// decide.
func (m *Model) RestoreAdvisory(state models.CurrentState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state.OnlineTimestamp != nil || m.state.StateTimestamp != nil {
		return
	}
	state.DeviceID = m.id
	m.state = state
}

// Subscribe registers a listener invoked after every committed merge.
// Callbacks for one device are totally ordered; callbacks across devices may
// overlap.
func (m *Model) Subscribe(fn func(Update)) *Subscription {
	l := &listener{
		fn:   fn,
		ch:   make(chan Update, queueCapacity),
		done: make(chan struct{}),
	}
	go l.deliver()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandle++
	handle := m.nextHandle
	if m.closed {
		l.ch <- Update{Info: m.info, View: m.state, Closed: true}
		close(l.ch)
		return &Subscription{model: m, handle: handle}
	}
	m.listeners[handle] = l
	return &Subscription{model: m, handle: handle}
}

// Cancel removes the listener and stops its delivery goroutine.
func (s *Subscription) Cancel() {
	s.model.mu.Lock()
	l, ok := s.model.listeners[s.handle]
	if ok {
		delete(s.model.listeners, s.handle)
	}
	s.model.mu.Unlock()
	if ok {
		close(l.ch)
	}
}

// Close drains all listeners with a final closed notification.
func (m *Model) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.enqueueLocked(Update{Info: m.info, View: m.state, Closed: true})
	listeners := m.listeners
	m.listeners = make(map[int]*listener)
	m.mu.Unlock()

	for _, l := range listeners {
		close(l.ch)
		<-l.done
	}
}

// enqueueLocked pushes an update to every listener queue, coalescing when a
// queue is full. Called with the model mutex held, which is what serializes
// notification order per device.
func (m *Model) enqueueLocked(u Update) {
	for _, l := range m.listeners {
		for {
			select {
			case l.ch <- u:
			default:
				// Queue full: drop the oldest pending update and fold its
				// changed set into the one being delivered.
				select {
				case old := <-l.ch:
					u.Changed = unionChanged(old.Changed, u.Changed)
					u.Backpressure = true
					u.Closed = u.Closed || old.Closed
					continue
				default:
					// Consumer drained in between; retry the send.
					continue
				}
			}
			break
		}
	}
}

func (l *listener) deliver() {
	defer close(l.done)
	for u := range l.ch {
		l.fn(u)
	}
}

func unionChanged(old, new []string) []string {
	seen := make(map[string]struct{}, len(old)+len(new))
	merged := make([]string, 0, len(old)+len(new))
	for _, set := range [][]string{old, new} {
		for _, name := range set {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			merged = append(merged, name)
		}
	}
	sort.Strings(merged)
	return merged
}

// isStale reports whether the delta's timestamps regress against the current
// view. Comparison is per timestamp pair; any regression rejects the whole
// frame, because its other fields describe the same stale moment.
func (m *Model) isStale(delta *codec.StateDelta) (bool, string) {
	checks := []struct {
		name string
		cur  *int64
	}{
		{"state_timestamp", m.state.StateTimestamp},
		{"state_timestamp_utc", m.state.StateTimestampUTC},
		{"online_timestamp", m.state.OnlineTimestamp},
		{"online_timestamp_utc", m.state.OnlineTimestampUTC},
	}
	for _, c := range checks {
		if c.cur == nil {
			continue
		}
		if v, ok := delta.Int64(c.name); ok && v < *c.cur {
			return true, c.name
		}
	}
	return false, ""
}
