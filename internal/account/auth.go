package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pandora-cas/pandora-cloud-client/internal/transport"
)

// maxBadCredentialRefreshes is how many consecutive credential failures a
// refresh cycle tolerates before the account is closed for good.
const maxBadCredentialRefreshes = 3

// Authenticator owns the cookie-based upstream session of one account. The
// session itself lives in the transport cookie jar; the authenticator tracks
// the server-assigned identifiers and the refresh lifecycle.
type Authenticator struct {
	tr        *transport.Client
	username  string
	password  string
	utcOffset int
	logger    zerolog.Logger

	mu        sync.Mutex
	userID    int64
	sessionID string
	loggedAt  time.Time
	badCreds  int
	inflight  *refreshFlight
}

type refreshFlight struct {
	done chan struct{}
	err  error
}

// NewAuthenticator creates the authenticator for one credential pair.
func NewAuthenticator(tr *transport.Client, username, password string, logger zerolog.Logger) *Authenticator {
	_, offset := time.Now().Zone()
	return &Authenticator{
		tr:        tr,
		username:  username,
		password:  password,
		utcOffset: offset,
		logger:    logger,
	}
}

// UserID returns the server-assigned user identifier after login.
func (a *Authenticator) UserID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// SessionID returns the identifier the upstream issued for this session.
func (a *Authenticator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// ConsecutiveBadCredentials reports how many refreshes in a row failed with a
// credential error.
func (a *Authenticator) ConsecutiveBadCredentials() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badCreds
}

// Login exchanges the credentials for a session cookie.
func (a *Authenticator) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("login", a.username)
	form.Set("password", a.password)
	form.Set("lang", "ru")
	form.Set("v", "3")
	form.Set("utc_offset", fmt.Sprintf("%d", a.utcOffset/60))

	body, err := a.tr.PostForm(ctx, "/api/users/login", form)
	if err != nil {
		return classifyLoginError(err)
	}

	var resp struct {
		UserID    json.Number `json:"user_id"`
		SessionID string      `json:"session_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	userID, err := resp.UserID.Int64()
	if err != nil {
		return fmt.Errorf("login response carries no user id: %w", err)
	}

	a.mu.Lock()
	a.userID = userID
	a.sessionID = resp.SessionID
	a.loggedAt = time.Now()
	a.badCreds = 0
	a.mu.Unlock()

	a.logger.Info().Int64("user_id", userID).Msg("Authenticated with upstream")
	return nil
}

// Refresh re-establishes the session. It is idempotent and single-flight: a
// refresh started while another is running waits on the same result instead
// of issuing a second login.
func (a *Authenticator) Refresh(ctx context.Context) error {
	a.mu.Lock()
	if fl := a.inflight; fl != nil {
		a.mu.Unlock()
		select {
		case <-fl.done:
			return fl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fl := &refreshFlight{done: make(chan struct{})}
	a.inflight = fl
	a.mu.Unlock()

	a.logger.Debug().Msg("Refreshing upstream session")
	a.tr.ClearCookies()
	err := a.Login(ctx)

	a.mu.Lock()
	a.inflight = nil
	if err != nil && IsAuthError(err) {
		a.badCreds++
	}
	a.mu.Unlock()

	fl.err = err
	close(fl.done)
	return err
}

// IsExpired recognises session expiry from an HTTP probe failure.
func IsExpired(err error) bool {
	status := transport.StatusCode(err)
	return status == 401 || status == 403
}

// classifyLoginError turns a transport failure into the credential-level
// error classes the account policy acts on.
func classifyLoginError(err error) error {
	status := transport.StatusCode(err)
	switch {
	case status >= 500:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	case status >= 400 && status < 404:
		var te *transport.Error
		if errors.As(err, &te) {
			body := strings.ToLower(te.Body)
			if strings.Contains(body, "captcha") {
				return fmt.Errorf("%w: %v", ErrCaptchaRequired, err)
			}
			if strings.Contains(body, "block") || strings.Contains(body, "lock") {
				return fmt.Errorf("%w: %v", ErrAccountLocked, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrBadCredentials, err)
	case status != 0:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	default:
		return err
	}
}
