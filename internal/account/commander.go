package account

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pandora-cas/pandora-cloud-client/internal/bus"
	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
	"github.com/pandora-cas/pandora-cloud-client/internal/transport"
)

// CommandResult is the terminal outcome of one submitted command.
type CommandResult struct {
	Kind  models.CommandResultKind
	Reply int
}

// Err converts a non-ok result into its error form.
func (r CommandResult) Err() error {
	switch r.Kind {
	case models.CommandOK:
		return nil
	case models.CommandTimeout:
		return context.DeadlineExceeded
	case models.CommandCancelled:
		return ErrCancelled
	default:
		return &CommandRejectedError{Reply: r.Reply}
	}
}

// CommandFuture resolves when the command reaches a terminal state. With
// ensure_complete the terminal state requires the reply frame; without it,
// HTTP acceptance already resolves the future while the pending entry keeps
// waiting for the reply on behalf of the bus topic.
type CommandFuture struct {
	once   sync.Once
	done   chan struct{}
	result CommandResult
}

func newCommandFuture() *CommandFuture {
	return &CommandFuture{done: make(chan struct{})}
}

// Done is closed once the future has a result.
func (f *CommandFuture) Done() <-chan struct{} { return f.done }

// Wait blocks for the result or context cancellation.
func (f *CommandFuture) Wait(ctx context.Context) (CommandResult, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// Result returns the outcome; valid only after Done is closed.
func (f *CommandFuture) Result() CommandResult { return f.result }

func (f *CommandFuture) resolve(r CommandResult) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

type pendingKey struct {
	DeviceID  int64
	CommandID int
}

type pendingCommand struct {
	key       pendingKey
	future    *CommandFuture
	timer     *time.Timer
	submitted time.Time
	gate      chan struct{}
}

// Commander submits remote commands over HTTP and correlates the
// asynchronous reply frames the stream routes back to it. One command per
// device may be outstanding at a time; later submissions for the same device
// wait for the earlier one to terminate.
type Commander struct {
	account     string
	tr          *transport.Client
	publisher   bus.Publisher
	timeout     time.Duration
	logger      zerolog.Logger
	onSubmitted func(deviceID int64)

	// The pending table is shared between the submit path and the stream's
	// completion path; the mutex is held only around table operations, never
	// across I/O.
	mu      sync.Mutex
	pending map[pendingKey]*pendingCommand
	gates   map[int64]chan struct{}
	closed  bool
}

// NewCommander creates the commander for one account.
func NewCommander(account string, tr *transport.Client, publisher bus.Publisher, timeout time.Duration, logger zerolog.Logger) *Commander {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Commander{
		account:   account,
		tr:        tr,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
		pending:   make(map[pendingKey]*pendingCommand),
		gates:     make(map[int64]chan struct{}),
	}
}

// SetSubmitHook registers a callback invoked after every accepted submit,
// used to schedule the post-command snapshot poll.
func (c *Commander) SetSubmitHook(fn func(deviceID int64)) {
	c.onSubmitted = fn
}

// Submit posts the command and returns a future for its terminal state.
func (c *Commander) Submit(ctx context.Context, deviceID int64, commandID models.CommandID, ensureComplete bool) (*CommandFuture, error) {
	gate, err := c.acquireGate(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Int64("device_id", deviceID).
		Stringer("command", commandID).
		Bool("ensure_complete", ensureComplete).
		Msg("Submitting command")

	form := url.Values{}
	form.Set("id", fmt.Sprintf("%d", deviceID))
	form.Set("command", fmt.Sprintf("%d", int(commandID)))

	body, err := c.tr.PostForm(ctx, "/api/devices/command", form)
	if err == nil {
		err = codec.ParseCommandResponse(body, deviceID)
	}
	if err != nil {
		c.releaseGate(gate)
		c.publisher.PublishCommand(models.CommandEvent{
			Account:   c.account,
			DeviceID:  deviceID,
			CommandID: int(commandID),
			Result:    models.CommandFailed,
			Reply:     -1,
		})
		return nil, fmt.Errorf("submit command %s: %w", commandID, err)
	}

	key := pendingKey{DeviceID: deviceID, CommandID: int(commandID)}
	p := &pendingCommand{
		key:       key,
		future:    newCommandFuture(),
		submitted: time.Now(),
		gate:      gate,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.releaseGate(gate)
		p.future.resolve(CommandResult{Kind: models.CommandCancelled})
		return p.future, nil
	}
	c.pending[key] = p
	p.timer = time.AfterFunc(c.timeout, func() { c.expire(key) })
	c.mu.Unlock()

	if !ensureComplete {
		// Fire-and-forget: HTTP acceptance satisfies the caller; the pending
		// entry stays behind to feed the command topic when the reply lands.
		p.future.resolve(CommandResult{Kind: models.CommandOK})
	}

	if c.onSubmitted != nil {
		c.onSubmitted(deviceID)
	}
	return p.future, nil
}

// HandleReply completes the pending command matching a reply frame. Replies
// with no matching entry (late arrivals after timeout, or commands submitted
// elsewhere) still publish on the command topic.
func (c *Commander) HandleReply(reply *codec.CommandReply) {
	key := pendingKey{DeviceID: reply.DeviceID, CommandID: reply.CommandID}

	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
		p.timer.Stop()
	}
	c.mu.Unlock()

	result := CommandResult{Kind: models.CommandOK, Reply: reply.Reply}
	if reply.Result != 0 {
		result.Kind = models.CommandFailed
	}

	if ok {
		c.logger.Debug().
			Int64("device_id", reply.DeviceID).
			Int("command_id", reply.CommandID).
			Int("result", reply.Result).
			Dur("elapsed", time.Since(p.submitted)).
			Msg("Command reply received")
		p.future.resolve(result)
		c.releaseGate(p.gate)
	} else {
		c.logger.Debug().
			Int64("device_id", reply.DeviceID).
			Int("command_id", reply.CommandID).
			Msg("Command reply without pending entry")
	}

	c.publisher.PublishCommand(models.CommandEvent{
		Account:   c.account,
		DeviceID:  reply.DeviceID,
		CommandID: reply.CommandID,
		Result:    result.Kind,
		Reply:     reply.Reply,
	})
}

// expire is the deadline path; completion and expiry are mutually exclusive
// by the compare-and-remove on the pending table.
func (c *Commander) expire(key pendingKey) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.logger.Warn().
		Int64("device_id", key.DeviceID).
		Int("command_id", key.CommandID).
		Dur("timeout", c.timeout).
		Msg("Command timed out waiting for reply")

	p.future.resolve(CommandResult{Kind: models.CommandTimeout})
	c.releaseGate(p.gate)
	c.publisher.PublishCommand(models.CommandEvent{
		Account:   c.account,
		DeviceID:  key.DeviceID,
		CommandID: key.CommandID,
		Result:    models.CommandTimeout,
		Reply:     -1,
	})
}

// WakeUp sends the wake-up request, which has no reply correlation.
func (c *Commander) WakeUp(ctx context.Context, deviceID int64) error {
	form := url.Values{}
	form.Set("id", fmt.Sprintf("%d", deviceID))
	body, err := c.tr.PostForm(ctx, "/api/devices/wakeup", form)
	if err == nil {
		err = codec.ParseCommandResponse(body, deviceID)
	}
	if err != nil {
		return fmt.Errorf("wake up device %d: %w", deviceID, err)
	}
	return nil
}

// Close cancels every outstanding command.
func (c *Commander) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := make([]*pendingCommand, 0, len(c.pending))
	for key, p := range c.pending {
		delete(c.pending, key)
		p.timer.Stop()
		pending = append(pending, p)
	}
	c.mu.Unlock()

	for _, p := range pending {
		p.future.resolve(CommandResult{Kind: models.CommandCancelled})
		c.releaseGate(p.gate)
		c.publisher.PublishCommand(models.CommandEvent{
			Account:   c.account,
			DeviceID:  p.key.DeviceID,
			CommandID: p.key.CommandID,
			Result:    models.CommandCancelled,
			Reply:     -1,
		})
	}
}

// acquireGate serializes commands per device.
func (c *Commander) acquireGate(ctx context.Context, deviceID int64) (chan struct{}, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	gate, ok := c.gates[deviceID]
	if !ok {
		gate = make(chan struct{}, 1)
		c.gates[deviceID] = gate
	}
	c.mu.Unlock()

	select {
	case gate <- struct{}{}:
		return gate, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Commander) releaseGate(gate chan struct{}) {
	select {
	case <-gate:
	default:
	}
}
