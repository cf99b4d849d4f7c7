// Package store provides storage backends for MenuPipe.
//
// It includes an in-memory store for tests alongside SQLite and PostgreSQL
// backed stores for accounts, flows and trackers.
package store

import (
	"strings"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// Store is the persistence contract shared by all backends. The flow tables
// are read-only from the engine's perspective; trackers are read-write.
type Store interface {
	// Accounts
	GetAccountByNumber(connectedNumber string) (*models.Account, error)
	SaveAccount(a models.Account) error
	SetAccountConnection(accountID, connectedNumber string, active bool) error

	// Flows (fully materialized with their node sets)
	SaveFlow(f models.Flow) error
	GetFlow(id string) (*models.Flow, error)
	ListFlowsByAccount(accountID string) ([]models.Flow, error)
	DeleteFlow(id string) error

	// Trackers
	GetTracker(phoneNumber, botNumber string) (*models.Tracker, error)
	GetTrackerByID(id string) (*models.Tracker, error)
	CreateTracker(t models.Tracker) error
	UpdateTracker(t models.Tracker) error
	ListTrackers() ([]models.Tracker, error)
	ListTrackersForConversation(phoneNumber, botNumber string) ([]models.Tracker, error)
	SetTrackerActive(id string, active bool) error
	SetTrackerReactivateAt(id string, at *time.Time) error
	ListPendingReactivations() ([]models.Tracker, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite" based on its shape.
// Anything that is not recognizably a PostgreSQL connection string is treated
// as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
