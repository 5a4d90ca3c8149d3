package account

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/transport"
)

// degradedAfterFailures is the run of consecutive poll failures that flips
// the account into degraded status.
const degradedAfterFailures = 10

// postCommandDelay is how long after an accepted command the one-shot repair
// poll fires, to observe the resulting state even if the stream missed it.
const postCommandDelay = 10 * time.Second

// Poller periodically refreshes the account snapshot over HTTP to repair
// deltas the stream may have dropped. Polls never overlap: a request arriving
// while one is in flight is discarded, since the in-flight one will return
// fresher data anyway.
type Poller struct {
	tr       *transport.Client
	interval time.Duration
	logger   zerolog.Logger

	onSnapshot func(*codec.Updates)
	onDegraded func(failures int)
	onRefresh  func(ctx context.Context) error

	lastTS   atomic.Int64
	inflight atomic.Bool
	failures int

	kick    chan struct{}
	timerMu sync.Mutex
	timer   *time.Timer
}

// NewPoller creates the snapshot poller for one account.
func NewPoller(tr *transport.Client, interval time.Duration, logger zerolog.Logger,
	onSnapshot func(*codec.Updates), onDegraded func(int), onRefresh func(context.Context) error) *Poller {
	p := &Poller{
		tr:         tr,
		interval:   interval,
		logger:     logger,
		onSnapshot: onSnapshot,
		onDegraded: onDegraded,
		onRefresh:  onRefresh,
		kick:       make(chan struct{}, 1),
	}
	p.lastTS.Store(-1)
	return p
}

// Run drives the polling cadence until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		case <-p.kick:
			p.Poll(ctx)
		}
	}
}

// KickAfter schedules a one-shot poll. A pending schedule is replaced, not
// stacked.
func (p *Poller) KickAfter(d time.Duration) {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(d, func() {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	})
}

// KickAfterCommand schedules the standard post-command repair poll.
func (p *Poller) KickAfterCommand() {
	p.KickAfter(postCommandDelay)
}

// Poll issues one snapshot request unless one is already in flight.
func (p *Poller) Poll(ctx context.Context) {
	if !p.inflight.CompareAndSwap(false, true) {
		p.logger.Debug().Msg("Skipping poll, request already in flight")
		return
	}
	defer p.inflight.Store(false)

	if err := p.fetch(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.failures++
		p.logger.Warn().
			Err(err).
			Int("consecutive_failures", p.failures).
			Msg("Snapshot poll failed")

		if IsExpired(err) && p.onRefresh != nil {
			if rerr := p.onRefresh(ctx); rerr != nil {
				p.logger.Error().Err(rerr).Msg("Session refresh after poll failure failed")
			}
		}
		if p.failures == degradedAfterFailures && p.onDegraded != nil {
			p.onDegraded(p.failures)
		}
		return
	}
	p.failures = 0
}

func (p *Poller) fetch(ctx context.Context) error {
	query := url.Values{}
	query.Set("ts", fmt.Sprintf("%d", p.lastTS.Load()))

	body, err := p.tr.Get(ctx, "/api/updates", query)
	if err != nil {
		return err
	}
	updates, err := codec.DecodeUpdates(body)
	if err != nil {
		return err
	}
	if updates.Timestamp != 0 {
		p.lastTS.Store(updates.Timestamp)
	}
	if p.onSnapshot != nil {
		p.onSnapshot(updates)
	}
	return nil
}

func (p *Poller) stopTimer() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
}
