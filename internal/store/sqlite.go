// Package store provides storage backends for MenuPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/MenuPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetAccountByNumber(connectedNumber string) (*models.Account, error) {
	row := s.db.QueryRow(`SELECT id, connected_number, is_whatsapp_active, created_at FROM accounts WHERE connected_number = ?`, connectedNumber)
	a, err := scanAccountRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetAccountByNumber not found", "number", connectedNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetAccountByNumber failed", "error", err, "number", connectedNumber)
		return nil, fmt.Errorf("failed to query account for %s: %w", connectedNumber, err)
	}
	return &a, nil
}

func (s *SQLiteStore) SaveAccount(a models.Account) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO accounts (id, connected_number, is_whatsapp_active, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, nilIfEmpty(a.ConnectedNumber), a.WhatsAppActive, a.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveAccount failed", "error", err, "account", a.ID)
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SetAccountConnection(accountID, connectedNumber string, active bool) error {
	_, err := s.db.Exec(`UPDATE accounts SET connected_number = ?, is_whatsapp_active = ? WHERE id = ?`,
		nilIfEmpty(connectedNumber), active, accountID)
	if err != nil {
		slog.Error("SQLiteStore SetAccountConnection failed", "error", err, "account", accountID)
		return fmt.Errorf("failed to update account connection %s: %w", accountID, err)
	}
	slog.Debug("SQLiteStore SetAccountConnection succeeded", "account", accountID, "active", active)
	return nil
}

func (s *SQLiteStore) SaveFlow(f models.Flow) error {
	keywords, nodes, err := marshalFlowColumns(f)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow marshal failed", "error", err, "flow", f.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO flows (id, account_id, trigger_keywords, nodes, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.AccountID, keywords, nodes, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "flow", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	slog.Debug("SQLiteStore SaveFlow succeeded", "flow", f.ID, "nodes", len(f.Nodes))
	return nil
}

func (s *SQLiteStore) GetFlow(id string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT id, account_id, trigger_keywords, nodes, created_at, updated_at FROM flows WHERE id = ?`, id)
	f, err := scanFlowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlow failed", "error", err, "flow", id)
		return nil, fmt.Errorf("failed to query flow %s: %w", id, err)
	}
	return &f, nil
}

func (s *SQLiteStore) ListFlowsByAccount(accountID string) ([]models.Flow, error) {
	rows, err := s.db.Query(`SELECT id, account_id, trigger_keywords, nodes, created_at, updated_at FROM flows WHERE account_id = ?`, accountID)
	if err != nil {
		slog.Error("SQLiteStore ListFlowsByAccount query failed", "error", err, "account", accountID)
		return nil, fmt.Errorf("failed to query flows for %s: %w", accountID, err)
	}
	defer rows.Close()

	var flows []models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			slog.Error("SQLiteStore ListFlowsByAccount scan failed", "error", err)
			return nil, err
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	slog.Debug("SQLiteStore ListFlowsByAccount succeeded", "account", accountID, "count", len(flows))
	return flows, nil
}

func (s *SQLiteStore) DeleteFlow(id string) error {
	_, err := s.db.Exec(`DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlow failed", "error", err, "flow", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

const sqliteTrackerColumns = `id, phone_number, bot_number, flow_id, current_node_id, display_name, is_active, joined_at, last_active, reactivate_at`

func (s *SQLiteStore) GetTracker(phoneNumber, botNumber string) (*models.Tracker, error) {
	row := s.db.QueryRow(`SELECT `+sqliteTrackerColumns+` FROM trackers WHERE phone_number = ? AND bot_number = ?`, phoneNumber, botNumber)
	t, err := scanTrackerRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTracker failed", "error", err, "phone", phoneNumber, "bot", botNumber)
		return nil, fmt.Errorf("failed to query tracker for %s/%s: %w", phoneNumber, botNumber, err)
	}
	return &t, nil
}

func (s *SQLiteStore) GetTrackerByID(id string) (*models.Tracker, error) {
	row := s.db.QueryRow(`SELECT `+sqliteTrackerColumns+` FROM trackers WHERE id = ?`, id)
	t, err := scanTrackerRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTrackerByID failed", "error", err, "tracker", id)
		return nil, fmt.Errorf("failed to query tracker %s: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteStore) CreateTracker(t models.Tracker) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO trackers (`+sqliteTrackerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PhoneNumber, t.BotNumber, t.FlowID, t.CurrentNodeID, nilIfEmpty(t.DisplayName), t.IsActive, t.JoinedAt, t.LastActive, t.ReactivateAt)
	if err != nil {
		slog.Error("SQLiteStore CreateTracker failed", "error", err, "tracker", t.ID)
		return fmt.Errorf("failed to insert tracker for %s: %w", t.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore CreateTracker succeeded", "tracker", t.ID, "phone", t.PhoneNumber)
	return nil
}

func (s *SQLiteStore) UpdateTracker(t models.Tracker) error {
	_, err := s.db.Exec(`UPDATE trackers SET flow_id = ?, current_node_id = ?, display_name = ?, is_active = ?, last_active = ?, reactivate_at = ? WHERE id = ?`,
		t.FlowID, t.CurrentNodeID, nilIfEmpty(t.DisplayName), t.IsActive, t.LastActive, t.ReactivateAt, t.ID)
	if err != nil {
		slog.Error("SQLiteStore UpdateTracker failed", "error", err, "tracker", t.ID)
		return fmt.Errorf("failed to update tracker %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTrackers() ([]models.Tracker, error) {
	return s.queryTrackers(`SELECT ` + sqliteTrackerColumns + ` FROM trackers`)
}

func (s *SQLiteStore) ListTrackersForConversation(phoneNumber, botNumber string) ([]models.Tracker, error) {
	return s.queryTrackers(`SELECT `+sqliteTrackerColumns+` FROM trackers WHERE phone_number = ? AND bot_number = ?`, phoneNumber, botNumber)
}

func (s *SQLiteStore) SetTrackerActive(id string, active bool) error {
	_, err := s.db.Exec(`UPDATE trackers SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		slog.Error("SQLiteStore SetTrackerActive failed", "error", err, "tracker", id)
		return fmt.Errorf("failed to set tracker %s active=%t: %w", id, active, err)
	}
	slog.Debug("SQLiteStore SetTrackerActive succeeded", "tracker", id, "active", active)
	return nil
}

func (s *SQLiteStore) SetTrackerReactivateAt(id string, at *time.Time) error {
	_, err := s.db.Exec(`UPDATE trackers SET reactivate_at = ? WHERE id = ?`, at, id)
	if err != nil {
		slog.Error("SQLiteStore SetTrackerReactivateAt failed", "error", err, "tracker", id)
		return fmt.Errorf("failed to set tracker %s reactivate_at: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListPendingReactivations() ([]models.Tracker, error) {
	return s.queryTrackers(`SELECT ` + sqliteTrackerColumns + ` FROM trackers WHERE reactivate_at IS NOT NULL`)
}

func (s *SQLiteStore) queryTrackers(query string, args ...interface{}) ([]models.Tracker, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore tracker query failed", "error", err)
		return nil, fmt.Errorf("failed to query trackers: %w", err)
	}
	defer rows.Close()

	var trackers []models.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			slog.Error("SQLiteStore tracker scan failed", "error", err)
			return nil, err
		}
		trackers = append(trackers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracker rows: %w", err)
	}
	return trackers, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
