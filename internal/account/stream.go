package account

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/transport"
)

const streamPath = "/api/v4/updates/ws"

// Stream keeps the WebSocket connection of one account alive and dispatches
// decoded frames. The connection cycle is connect → subscribed → backoff;
// the first frame after every (re)connect is an initial-state snapshot, which
// is what makes reordering across reconnects harmless.
type Stream struct {
	tr       *transport.Client
	refresh  func(ctx context.Context) error
	dispatch func(*codec.Frame)
	onFatal  func(err error)
	logger   zerolog.Logger

	// Tunables, overridden in tests.
	pingInterval time.Duration
	pongWait     time.Duration
	backoffBase  time.Duration
	backoffCap   time.Duration
	stableAfter  time.Duration
}

// NewStream creates the stream for one account.
func NewStream(tr *transport.Client, logger zerolog.Logger,
	refresh func(ctx context.Context) error, dispatch func(*codec.Frame), onFatal func(error)) *Stream {
	return &Stream{
		tr:           tr,
		refresh:      refresh,
		dispatch:     dispatch,
		onFatal:      onFatal,
		logger:       logger,
		pingInterval: 30 * time.Second,
		pongWait:     10 * time.Second,
		backoffBase:  time.Second,
		backoffCap:   120 * time.Second,
		stableAfter:  60 * time.Second,
	}
}

// Run maintains the connection until the context is cancelled. Transport and
// protocol failures feed the backoff path; only a terminal credential failure
// escalates through onFatal.
func (s *Stream) Run(ctx context.Context) {
	bo := newBackoff(s.backoffBase, s.backoffCap)
	authExpiries := 0

	for ctx.Err() == nil {
		conn, err := s.tr.OpenWS(ctx, streamPath, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsExpired(err) {
				if !s.handleAuthExpired(ctx, &authExpiries, bo) {
					return
				}
				continue
			}
			authExpiries = 0
			s.logger.Warn().Err(err).Msg("WebSocket dial failed")
			if !sleepCtx(ctx, bo.Next()) {
				return
			}
			continue
		}

		s.logger.Info().Msg("WebSocket connected")
		connectedAt := time.Now()
		err = s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		// A connection that held long enough clears both the backoff ceiling
		// and the consecutive-expiry count.
		if time.Since(connectedAt) >= s.stableAfter {
			bo.Reset()
			authExpiries = 0
		}

		if isAuthExpiredClose(err) {
			s.logger.Warn().Msg("WebSocket closed with auth-expired code")
			if !s.handleAuthExpired(ctx, &authExpiries, bo) {
				return
			}
			continue
		}
		authExpiries = 0

		s.logger.Warn().Err(err).Msg("WebSocket connection lost, backing off")
		if !sleepCtx(ctx, bo.Next()) {
			return
		}
	}
}

// handleAuthExpired refreshes the session. The first consecutive expiry
// reconnects immediately; further ones go through backoff so a flapping
// upstream cannot drive a login storm. A credential failure escalates through
// onFatal once maxBadCredentialRefreshes consecutive expiries have been seen.
func (s *Stream) handleAuthExpired(ctx context.Context, expiries *int, bo *backoff) bool {
	*expiries++
	if err := s.refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.logger.Error().Err(err).Msg("Session refresh failed")
		if IsAuthError(err) && *expiries >= maxBadCredentialRefreshes && s.onFatal != nil {
			s.onFatal(err)
			return false
		}
	}
	if *expiries > 1 {
		return sleepCtx(ctx, bo.Next())
	}
	return true
}

// readLoop pumps frames from one connection until it dies. Malformed frames
// are logged and skipped; they never tear the connection down.
func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongWait))
	})

	// Heartbeat: ping on a cadence; a missing pong lets the read deadline
	// expire, which surfaces as a read error below.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(s.pongWait)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	// Unblock the read when the account shuts down.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := codec.DecodeFrame(msg)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Skipping undecodable frame")
			continue
		}
		s.dispatch(frame)
	}
}

// isAuthExpiredClose recognises the close codes the upstream uses to signal
// that the session cookie is no longer valid.
func isAuthExpiredClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.ClosePolicyViolation, 4001, 4401:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
