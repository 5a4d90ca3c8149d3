package account

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/transport"
)

func testPoller(t *testing.T, handler http.HandlerFunc,
	onSnapshot func(*codec.Updates), onDegraded func(int)) *Poller {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tr, err := transport.New(srv.URL, "test-agent", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return NewPoller(tr, time.Minute, zerolog.Nop(), onSnapshot, onDegraded, nil)
}

func TestPollAppliesSnapshot(t *testing.T) {
	var gotTS atomic.Value
	p := testPoller(t, func(w http.ResponseWriter, r *http.Request) {
		gotTS.Store(r.URL.Query().Get("ts"))
		w.Write([]byte(`{"ts": 100, "stats": {"1234": {"speed": 5}}}`))
	}, nil, nil)

	var snapshots []*codec.Updates
	p.onSnapshot = func(u *codec.Updates) { snapshots = append(snapshots, u) }

	p.Poll(context.Background())
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %d", len(snapshots))
	}
	if gotTS.Load() != "-1" {
		t.Fatalf("first poll ts = %v, want -1", gotTS.Load())
	}

	// The returned ts threads into the next request.
	p.Poll(context.Background())
	if gotTS.Load() != "100" {
		t.Fatalf("second poll ts = %v, want 100", gotTS.Load())
	}
}

func TestPollSingleInflight(t *testing.T) {
	var inflight atomic.Int32
	var overlapped atomic.Bool
	release := make(chan struct{})

	p := testPoller(t, func(w http.ResponseWriter, r *http.Request) {
		if inflight.Add(1) > 1 {
			overlapped.Store(true)
		}
		<-release
		inflight.Add(-1)
		w.Write([]byte(`{"ts": 1}`))
	}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Poll(context.Background())
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if overlapped.Load() {
		t.Fatal("polls overlapped")
	}
}

func TestPollDegradedAfterConsecutiveFailures(t *testing.T) {
	var degraded []int
	p := testPoller(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, nil, func(n int) { degraded = append(degraded, n) })

	for i := 0; i < degradedAfterFailures+2; i++ {
		p.Poll(context.Background())
	}

	// Degraded fires once, exactly at the threshold.
	if len(degraded) != 1 || degraded[0] != degradedAfterFailures {
		t.Fatalf("degraded calls = %v", degraded)
	}
}

func TestPollFailureCounterResets(t *testing.T) {
	var fail atomic.Bool
	var degraded int
	p := testPoller(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ts": 1}`))
	}, nil, func(int) { degraded++ })

	fail.Store(true)
	for i := 0; i < degradedAfterFailures-1; i++ {
		p.Poll(context.Background())
	}
	fail.Store(false)
	p.Poll(context.Background()) // success resets the run
	fail.Store(true)
	for i := 0; i < degradedAfterFailures-1; i++ {
		p.Poll(context.Background())
	}

	if degraded != 0 {
		t.Fatalf("degraded fired despite interleaved success")
	}
}

func TestKickAfterTriggersPoll(t *testing.T) {
	var polls atomic.Int32
	p := testPoller(t, func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.Write([]byte(`{"ts": 1}`))
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.KickAfter(20 * time.Millisecond)

	deadline := time.After(2 * time.Second)
	for polls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("kick never polled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPollRefreshesExpiredSession(t *testing.T) {
	var refreshed atomic.Int32
	first := true
	p := testPoller(t, func(w http.ResponseWriter, r *http.Request) {
		if first {
			first = false
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ts": 1}`))
	}, nil, nil)
	p.onRefresh = func(ctx context.Context) error {
		refreshed.Add(1)
		return nil
	}

	p.Poll(context.Background())
	if refreshed.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", refreshed.Load())
	}
}
