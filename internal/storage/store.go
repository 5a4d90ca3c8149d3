package storage

import (
	"context"
	"errors"

	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// Store is the optional warm-start and audit persistence. The session layer
// treats everything read back from it as advisory: fresh upstream data always
// wins under the timestamp rules.
type Store interface {
	// Device state warm start
	SaveDeviceState(ctx context.Context, account string, state models.CurrentState) error
	LoadDeviceStates(ctx context.Context, account string) ([]models.CurrentState, error)

	// Audit log
	AppendEvent(ctx context.Context, account string, event *models.Event) error
	AppendCommand(ctx context.Context, event models.CommandEvent) error
	ListEvents(ctx context.Context, account string, deviceID int64, limit int) ([]*models.Event, error)

	Close() error
}
