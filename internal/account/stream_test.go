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
	"github.com/rs/zerolog"

	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/transport"
)

var testUpgrader = websocket.Upgrader{}

type frameRecorder struct {
	mu     sync.Mutex
	frames []*codec.Frame
}

func (r *frameRecorder) dispatch(f *codec.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *frameRecorder) waitFor(t *testing.T, n int) []*codec.Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		r.mu.Lock()
		count := len(r.frames)
		r.mu.Unlock()
		if count >= n {
			r.mu.Lock()
			defer r.mu.Unlock()
			out := make([]*codec.Frame, len(r.frames))
			copy(out, r.frames)
			return out
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, count)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func fastStream(tr *transport.Client, dispatch func(*codec.Frame), refresh func(context.Context) error) *Stream {
	if refresh == nil {
		refresh = func(context.Context) error { return nil }
	}
	s := NewStream(tr, zerolog.Nop(), refresh, dispatch, nil)
	s.pingInterval = 50 * time.Millisecond
	s.pongWait = 50 * time.Millisecond
	s.backoffBase = 10 * time.Millisecond
	s.backoffCap = 50 * time.Millisecond
	s.stableAfter = 100 * time.Millisecond
	return s
}

func newStreamClient(t *testing.T, handler http.Handler) *transport.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr, err := transport.New(srv.URL, "test-agent", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestStreamDispatchesFrames(t *testing.T) {
	tr := newStreamClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"initial-state","data":{"dev_id":1234,"bit_state_1":1,"engine_rpm":0}}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"state","data":{"dev_id":1234,"speed":42}}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`this is not a frame`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"command","data":{"dev_id":1234,"command":4,"result":0}}`))
		time.Sleep(200 * time.Millisecond)
	}))

	rec := &frameRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fastStream(tr, rec.dispatch, nil).Run(ctx)

	frames := rec.waitFor(t, 3)
	if frames[0].Kind != codec.KindInitialState {
		t.Fatalf("first frame = %q, want initial-state", frames[0].Kind)
	}
	if frames[1].Kind != codec.KindState {
		t.Fatalf("second frame = %q", frames[1].Kind)
	}
	// The malformed message is skipped, not fatal.
	if frames[2].Kind != codec.KindCommand {
		t.Fatalf("third frame = %q", frames[2].Kind)
	}
}

func TestStreamReconnects(t *testing.T) {
	var conns atomic.Int32
	tr := newStreamClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Each connection starts with a fresh initial-state.
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"initial-state","data":{"dev_id":1234,"fuel":55}}`))
		if n == 1 {
			// Force-close the first connection to exercise the backoff path.
			conn.Close()
			return
		}
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}))

	rec := &frameRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fastStream(tr, rec.dispatch, nil).Run(ctx)

	frames := rec.waitFor(t, 2)
	for _, f := range frames[:2] {
		if f.Kind != codec.KindInitialState {
			t.Fatalf("post-reconnect frame = %q, want initial-state", f.Kind)
		}
	}
	if conns.Load() < 2 {
		t.Fatalf("connections = %d, want reconnect", conns.Load())
	}
}

func TestStreamAuthExpiredRefreshesOnce(t *testing.T) {
	var conns atomic.Int32
	tr := newStreamClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Close with the auth-expired policy code.
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth expired"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"initial-state","data":{"dev_id":1234,"fuel":55}}`))
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}))

	var refreshes atomic.Int32
	rec := &frameRecorder{}
	refresh := func(context.Context) error {
		refreshes.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	go fastStream(tr, rec.dispatch, refresh).Run(ctx)

	rec.waitFor(t, 1)
	if refreshes.Load() != 1 {
		t.Fatalf("refresh calls = %d, want exactly 1", refreshes.Load())
	}
	// First auth expiry reconnects immediately, without a backoff sleep.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("reconnect after auth expiry took %v", elapsed)
	}
}

func TestStreamAuthExpiredOnDial(t *testing.T) {
	var requests atomic.Int32
	tr := newStreamClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"initial-state","data":{"dev_id":1,"fuel":1}}`))
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}))

	var refreshes atomic.Int32
	rec := &frameRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fastStream(tr, rec.dispatch, func(context.Context) error {
		refreshes.Add(1)
		return nil
	}).Run(ctx)

	rec.waitFor(t, 1)
	if refreshes.Load() != 1 {
		t.Fatalf("refresh calls = %d", refreshes.Load())
	}
}

func TestStreamFatalOnPersistentAuthFailure(t *testing.T) {
	tr := newStreamClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))

	fatal := make(chan error, 1)
	s := NewStream(tr, zerolog.Nop(),
		func(context.Context) error { return ErrBadCredentials },
		func(*codec.Frame) {},
		func(err error) { fatal <- err })
	s.backoffBase = 10 * time.Millisecond
	s.backoffCap = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-fatal:
	case <-time.After(2 * time.Second):
		t.Fatal("persistent auth failure never escalated")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream loop did not stop after fatal escalation")
	}
}
