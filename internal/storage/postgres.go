package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/pandora-cas/pandora-cloud-client/internal/config"
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS device_states (
			account     TEXT NOT NULL,
			device_id   BIGINT NOT NULL,
			state       JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (account, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS event_log (
			id          BIGSERIAL PRIMARY KEY,
			account     TEXT NOT NULL,
			device_id   BIGINT NOT NULL,
			event_type  TEXT NOT NULL,
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS event_log_device_idx
			ON event_log (account, device_id, id DESC)`,
		`CREATE TABLE IF NOT EXISTS command_log (
			id          BIGSERIAL PRIMARY KEY,
			account     TEXT NOT NULL,
			device_id   BIGINT NOT NULL,
			command_id  INT NOT NULL,
			result      TEXT NOT NULL,
			reply       INT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveDeviceState upserts the latest view of one device.
func (s *PostgresStore) SaveDeviceState(ctx context.Context, account string, state models.CurrentState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal device state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_states (account, device_id, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, device_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		account, state.DeviceID, payload, time.Now())
	if err != nil {
		return fmt.Errorf("save device state: %w", err)
	}
	return nil
}

// LoadDeviceStates returns the last persisted view of every device.
func (s *PostgresStore) LoadDeviceStates(ctx context.Context, account string) ([]models.CurrentState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM device_states WHERE account = $1`, account)
	if err != nil {
		return nil, fmt.Errorf("load device states: %w", err)
	}
	defer rows.Close()

	var states []models.CurrentState
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var state models.CurrentState
		if err := json.Unmarshal(payload, &state); err != nil {
			continue
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// AppendEvent records one emitted domain event.
func (s *PostgresStore) AppendEvent(ctx context.Context, account string, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_log (account, device_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		account, event.DeviceID, event.EventType, payload)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// AppendCommand records one terminated command.
func (s *PostgresStore) AppendCommand(ctx context.Context, event models.CommandEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_log (account, device_id, command_id, result, reply)
		VALUES ($1, $2, $3, $4, $5)`,
		event.Account, event.DeviceID, event.CommandID, string(event.Result), event.Reply)
	if err != nil {
		return fmt.Errorf("append command: %w", err)
	}
	return nil
}

// ListEvents returns recent events, newest first.
func (s *PostgresStore) ListEvents(ctx context.Context, account string, deviceID int64, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM event_log
		WHERE account = $1 AND ($2 = 0 OR device_id = $2)
		ORDER BY id DESC LIMIT $3`,
		account, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
