// Package store provides storage backends for MenuPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/MenuPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetAccountByNumber(connectedNumber string) (*models.Account, error) {
	row := s.db.QueryRow(`SELECT id, connected_number, is_whatsapp_active, created_at FROM accounts WHERE connected_number = $1`, connectedNumber)
	a, err := scanAccountRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetAccountByNumber failed", "error", err, "number", connectedNumber)
		return nil, fmt.Errorf("failed to query account for %s: %w", connectedNumber, err)
	}
	return &a, nil
}

func (s *PostgresStore) SaveAccount(a models.Account) error {
	_, err := s.db.Exec(`INSERT INTO accounts (id, connected_number, is_whatsapp_active, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET connected_number = EXCLUDED.connected_number, is_whatsapp_active = EXCLUDED.is_whatsapp_active`,
		a.ID, nilIfEmpty(a.ConnectedNumber), a.WhatsAppActive, a.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveAccount failed", "error", err, "account", a.ID)
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) SetAccountConnection(accountID, connectedNumber string, active bool) error {
	_, err := s.db.Exec(`UPDATE accounts SET connected_number = $1, is_whatsapp_active = $2 WHERE id = $3`,
		nilIfEmpty(connectedNumber), active, accountID)
	if err != nil {
		slog.Error("PostgresStore SetAccountConnection failed", "error", err, "account", accountID)
		return fmt.Errorf("failed to update account connection %s: %w", accountID, err)
	}
	return nil
}

func (s *PostgresStore) SaveFlow(f models.Flow) error {
	keywords, nodes, err := marshalFlowColumns(f)
	if err != nil {
		slog.Error("PostgresStore SaveFlow marshal failed", "error", err, "flow", f.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO flows (id, account_id, trigger_keywords, nodes, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET account_id = EXCLUDED.account_id, trigger_keywords = EXCLUDED.trigger_keywords, nodes = EXCLUDED.nodes, updated_at = EXCLUDED.updated_at`,
		f.ID, f.AccountID, keywords, nodes, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "flow", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetFlow(id string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT id, account_id, trigger_keywords, nodes, created_at, updated_at FROM flows WHERE id = $1`, id)
	f, err := scanFlowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlow failed", "error", err, "flow", id)
		return nil, fmt.Errorf("failed to query flow %s: %w", id, err)
	}
	return &f, nil
}

func (s *PostgresStore) ListFlowsByAccount(accountID string) ([]models.Flow, error) {
	rows, err := s.db.Query(`SELECT id, account_id, trigger_keywords, nodes, created_at, updated_at FROM flows WHERE account_id = $1`, accountID)
	if err != nil {
		slog.Error("PostgresStore ListFlowsByAccount query failed", "error", err, "account", accountID)
		return nil, fmt.Errorf("failed to query flows for %s: %w", accountID, err)
	}
	defer rows.Close()

	var flows []models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			slog.Error("PostgresStore ListFlowsByAccount scan failed", "error", err)
			return nil, err
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	return flows, nil
}

func (s *PostgresStore) DeleteFlow(id string) error {
	_, err := s.db.Exec(`DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteFlow failed", "error", err, "flow", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

const postgresTrackerColumns = `id, phone_number, bot_number, flow_id, current_node_id, display_name, is_active, joined_at, last_active, reactivate_at`

func (s *PostgresStore) GetTracker(phoneNumber, botNumber string) (*models.Tracker, error) {
	row := s.db.QueryRow(`SELECT `+postgresTrackerColumns+` FROM trackers WHERE phone_number = $1 AND bot_number = $2`, phoneNumber, botNumber)
	t, err := scanTrackerRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTracker failed", "error", err, "phone", phoneNumber, "bot", botNumber)
		return nil, fmt.Errorf("failed to query tracker for %s/%s: %w", phoneNumber, botNumber, err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTrackerByID(id string) (*models.Tracker, error) {
	row := s.db.QueryRow(`SELECT `+postgresTrackerColumns+` FROM trackers WHERE id = $1`, id)
	t, err := scanTrackerRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTrackerByID failed", "error", err, "tracker", id)
		return nil, fmt.Errorf("failed to query tracker %s: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) CreateTracker(t models.Tracker) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO trackers (`+postgresTrackerColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.PhoneNumber, t.BotNumber, t.FlowID, t.CurrentNodeID, nilIfEmpty(t.DisplayName), t.IsActive, t.JoinedAt, t.LastActive, t.ReactivateAt)
	if err != nil {
		slog.Error("PostgresStore CreateTracker failed", "error", err, "tracker", t.ID)
		return fmt.Errorf("failed to insert tracker for %s: %w", t.PhoneNumber, err)
	}
	return nil
}

func (s *PostgresStore) UpdateTracker(t models.Tracker) error {
	_, err := s.db.Exec(`UPDATE trackers SET flow_id = $1, current_node_id = $2, display_name = $3, is_active = $4, last_active = $5, reactivate_at = $6 WHERE id = $7`,
		t.FlowID, t.CurrentNodeID, nilIfEmpty(t.DisplayName), t.IsActive, t.LastActive, t.ReactivateAt, t.ID)
	if err != nil {
		slog.Error("PostgresStore UpdateTracker failed", "error", err, "tracker", t.ID)
		return fmt.Errorf("failed to update tracker %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListTrackers() ([]models.Tracker, error) {
	return s.queryTrackers(`SELECT ` + postgresTrackerColumns + ` FROM trackers`)
}

func (s *PostgresStore) ListTrackersForConversation(phoneNumber, botNumber string) ([]models.Tracker, error) {
	return s.queryTrackers(`SELECT `+postgresTrackerColumns+` FROM trackers WHERE phone_number = $1 AND bot_number = $2`, phoneNumber, botNumber)
}

func (s *PostgresStore) SetTrackerActive(id string, active bool) error {
	_, err := s.db.Exec(`UPDATE trackers SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		slog.Error("PostgresStore SetTrackerActive failed", "error", err, "tracker", id)
		return fmt.Errorf("failed to set tracker %s active=%t: %w", id, active, err)
	}
	return nil
}

func (s *PostgresStore) SetTrackerReactivateAt(id string, at *time.Time) error {
	_, err := s.db.Exec(`UPDATE trackers SET reactivate_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		slog.Error("PostgresStore SetTrackerReactivateAt failed", "error", err, "tracker", id)
		return fmt.Errorf("failed to set tracker %s reactivate_at: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListPendingReactivations() ([]models.Tracker, error) {
	return s.queryTrackers(`SELECT ` + postgresTrackerColumns + ` FROM trackers WHERE reactivate_at IS NOT NULL`)
}

func (s *PostgresStore) queryTrackers(query string, args ...interface{}) ([]models.Tracker, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore tracker query failed", "error", err)
		return nil, fmt.Errorf("failed to query trackers: %w", err)
	}
	defer rows.Close()

	var trackers []models.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			slog.Error("PostgresStore tracker scan failed", "error", err)
			return nil, err
		}
		trackers = append(trackers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracker rows: %w", err)
	}
	return trackers, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
