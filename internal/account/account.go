package account

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pandora-cas/pandora-cloud-client/internal/bus"
	"github.com/pandora-cas/pandora-cloud-client/internal/codec"
	"github.com/pandora-cas/pandora-cloud-client/internal/config"
	"github.com/pandora-cas/pandora-cloud-client/internal/device"
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
	"github.com/pandora-cas/pandora-cloud-client/internal/storage"
	"github.com/pandora-cas/pandora-cloud-client/internal/transport"
)

// Account ties one credential pair to its session, stream, poller and
// commander, and owns every device observed under it. Accounts are fully
// isolated from each other: nothing but the process is shared.
type Account struct {
	name      string
	cfg       config.AccountConfig
	tr        *transport.Client
	auth      *Authenticator
	publisher bus.Publisher
	store     storage.Store
	logger    zerolog.Logger

	commander *Commander
	poller    *Poller
	stream    *Stream

	mu      sync.RWMutex
	devices map[int64]*device.Model
	status  models.AccountStatus
	reason  string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// New assembles an account from its configuration. store may be nil when no
// warm-start persistence is configured.
func New(cfg config.AccountConfig, publisher bus.Publisher, store storage.Store) (*Account, error) {
	tr, err := transport.New(cfg.BaseURL, cfg.UserAgent, transport.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", cfg.Name, err)
	}

	logger := log.With().Str("account", cfg.Name).Logger()
	a := &Account{
		name:      cfg.Name,
		cfg:       cfg,
		tr:        tr,
		auth:      NewAuthenticator(tr, cfg.Username, cfg.Password, logger),
		publisher: publisher,
		store:     store,
		logger:    logger,
		devices:   make(map[int64]*device.Model),
		status:    models.StatusClosed,
	}
	a.commander = NewCommander(cfg.Name, tr, publisher, cfg.CommandTimeout, logger)
	a.poller = NewPoller(tr, cfg.PollingInterval, logger,
		a.applyUpdates, a.onPollDegraded, a.refreshSession)
	a.commander.SetSubmitHook(func(int64) { a.poller.KickAfterCommand() })
	a.stream = NewStream(tr, logger, a.refreshSession, a.dispatchFrame, a.onAuthFatal)
	return a, nil
}

// Name returns the configured account name.
func (a *Account) Name() string { return a.name }

// Status returns the current account status and its reason.
func (a *Account) Status() (models.AccountStatus, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status, a.reason
}

// Device returns the model for a device id.
func (a *Account) Device(deviceID int64) (*device.Model, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.devices[deviceID]
	return m, ok
}

// Devices returns all device models of the account.
func (a *Account) Devices() []*device.Model {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*device.Model, 0, len(a.devices))
	for _, m := range a.devices {
		out = append(out, m)
	}
	return out
}

// Start brings the account up: login, device discovery, first snapshot, then
// the stream and poller loops. A failure of any step leaves the account in an
// errored status and returns the classified cause.
func (a *Account) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.started = true
	a.mu.Unlock()

	if err := a.auth.Login(ctx); err != nil {
		a.setStatus(models.StatusAuthFailure, err.Error())
		return fmt.Errorf("login: %w", err)
	}

	if err := a.discoverDevices(ctx); err != nil {
		a.setStatus(models.StatusDegraded, err.Error())
		return fmt.Errorf("device discovery: %w", err)
	}

	a.restoreFromStore(ctx)

	// First snapshot before the stream opens, so subscribers never observe
	// an empty account in the streaming state.
	if err := a.poller.fetch(ctx); err != nil {
		a.setStatus(models.StatusDegraded, err.Error())
		return fmt.Errorf("first snapshot: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.stream.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.poller.Run(runCtx)
	}()

	a.setStatus(models.StatusOK, "")
	a.logger.Info().Int("devices", len(a.Devices())).Msg("Account started")
	return nil
}

// Close tears the account down: stream and poller first, then outstanding
// commands, then listeners and the HTTP pipeline.
func (a *Account) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.commander.Close()

	for _, m := range a.Devices() {
		m.Close()
	}
	a.tr.Close()
	_, reason := a.Status()
	a.setStatus(models.StatusClosed, reason)
	a.logger.Info().Msg("Account closed")
}

// SubmitCommand dispatches a remote command on one of the account's devices.
func (a *Account) SubmitCommand(ctx context.Context, deviceID int64, commandID models.CommandID, ensureComplete bool) (*CommandFuture, error) {
	if !a.cfg.DeviceEnabled(deviceID) {
		return nil, ErrDeviceDisabled
	}
	if _, ok := a.Device(deviceID); !ok {
		return nil, fmt.Errorf("device %d: not part of account %s", deviceID, a.name)
	}
	return a.commander.Submit(ctx, deviceID, commandID, ensureComplete)
}

// WakeUp sends the wake-up request to a device.
func (a *Account) WakeUp(ctx context.Context, deviceID int64) error {
	if !a.cfg.DeviceEnabled(deviceID) {
		return ErrDeviceDisabled
	}
	return a.commander.WakeUp(ctx, deviceID)
}

// FetchEvents retrieves historical events from the upstream feed.
func (a *Account) FetchEvents(ctx context.Context, from, to int64, limit int, deviceID int64) ([]*models.Event, error) {
	if to == 0 {
		to = time.Now().Add(24 * time.Hour).Unix()
	}
	query := url.Values{}
	query.Set("from", fmt.Sprintf("%d", from))
	query.Set("to", fmt.Sprintf("%d", to))
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	if deviceID != 0 {
		query.Set("id", fmt.Sprintf("%d", deviceID))
	}

	body, err := a.tr.Get(ctx, "/api/lenta", query)
	if err != nil && IsExpired(err) {
		if rerr := a.refreshSession(ctx); rerr == nil {
			body, err = a.tr.Get(ctx, "/api/lenta", query)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return codec.DecodeEventFeed(body)
}

// discoverDevices loads the device list and creates models for each unit.
func (a *Account) discoverDevices(ctx context.Context) error {
	body, err := a.tr.Get(ctx, "/api/devices", nil)
	if err != nil {
		return err
	}
	infos, err := codec.DecodeDeviceList(body)
	if err != nil {
		return err
	}
	for _, info := range infos {
		m := a.ensureDevice(info.DeviceID)
		m.SetInfo(info)
	}
	return nil
}

// ensureDevice creates the model lazily on first observation. Devices live
// for the lifetime of the account.
func (a *Account) ensureDevice(deviceID int64) *device.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.devices[deviceID]
	if !ok {
		a.logger.Debug().Int64("device_id", deviceID).Msg("Observed new device")
		m = device.New(deviceID)
		a.devices[deviceID] = m
	}
	return m
}

// dispatchFrame routes one stream frame by kind.
func (a *Account) dispatchFrame(frame *codec.Frame) {
	switch frame.Kind {
	case codec.KindInitialState:
		m := a.ensureDevice(frame.DeviceID)
		m.ApplySnapshot(frame.State)
		a.persistState(m)
	case codec.KindState:
		m := a.ensureDevice(frame.DeviceID)
		m.ApplyDelta(frame.State)
		a.persistState(m)
	case codec.KindPoint:
		m := a.ensureDevice(frame.DeviceID)
		m.ApplyDelta(frame.State)
		a.persistState(m)
	case codec.KindEvent, codec.KindUpdateSettings:
		if frame.Event != nil {
			a.publishEvent(frame.Event)
		}
	case codec.KindCommand:
		a.commander.HandleReply(frame.Command)
	}
}

// applyUpdates feeds a decoded HTTP snapshot into the device models.
func (a *Account) applyUpdates(updates *codec.Updates) {
	for deviceID, delta := range updates.States {
		m := a.ensureDevice(deviceID)
		m.ApplySnapshot(delta)
		a.persistState(m)
	}
	for _, ev := range updates.Events {
		a.publishEvent(ev)
	}
}

func (a *Account) publishEvent(ev *models.Event) {
	if !a.cfg.DeviceEnabled(ev.DeviceID) {
		return
	}
	a.publisher.PublishEvent(bus.EventPayloadFrom(a.name, ev))
	if a.store != nil {
		if err := a.store.AppendEvent(context.Background(), a.name, ev); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to append event to store")
		}
	}
}

func (a *Account) persistState(m *device.Model) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveDeviceState(context.Background(), a.name, m.Snapshot()); err != nil {
		a.logger.Warn().Err(err).Int64("device_id", m.ID()).Msg("Failed to persist device state")
	}
}

// restoreFromStore seeds device models with the last persisted view. The
// restored data is advisory: live frames replace it under the usual
// timestamp rules.
func (a *Account) restoreFromStore(ctx context.Context) {
	if a.store == nil {
		return
	}
	states, err := a.store.LoadDeviceStates(ctx, a.name)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to load persisted device states")
		return
	}
	for _, st := range states {
		if m, ok := a.Device(st.DeviceID); ok {
			m.RestoreAdvisory(st)
		}
	}
}

func (a *Account) refreshSession(ctx context.Context) error {
	err := a.auth.Refresh(ctx)
	if err != nil && IsAuthError(err) &&
		a.auth.ConsecutiveBadCredentials() >= maxBadCredentialRefreshes {
		a.onAuthFatal(err)
	}
	return err
}

// onAuthFatal closes the account after persistent credential failure.
func (a *Account) onAuthFatal(err error) {
	a.logger.Error().Err(err).Msg("Persistent authentication failure, closing account")
	a.setStatus(models.StatusAuthFailure, err.Error())
	go a.Close()
}

func (a *Account) onPollDegraded(failures int) {
	a.setStatus(models.StatusDegraded,
		fmt.Sprintf("%d consecutive poll failures", failures))
}

func (a *Account) setStatus(status models.AccountStatus, reason string) {
	a.mu.Lock()
	if a.status == status && a.reason == reason {
		a.mu.Unlock()
		return
	}
	a.status = status
	a.reason = reason
	a.mu.Unlock()

	a.logger.Info().Str("status", string(status)).Str("reason", reason).Msg("Account status changed")
	a.publisher.PublishStatus(models.StatusChange{
		Account: a.name,
		Status:  status,
		Reason:  reason,
		At:      time.Now(),
	})
}
