// Package store provides the per-chat state store backends for the bot.
//
// It includes an in-memory store for tests and single-process runs, plus
// SQLite and PostgreSQL backed stores for durable sessions.
package store

import (
	"strings"

	"github.com/sliceline/pizzabot/internal/models"
)

// Store is the single mutable shared resource crossing component boundaries.
// Every component treats it as the source of truth and re-reads rather than
// trusting captured copies across ticks. Implementations must provide atomic
// per-key read/write; last-writer-wins is acceptable because a single chat
// produces events serially.
type Store interface {
	// GetSession returns the session for a chat, or nil if none exists.
	GetSession(chat models.ChatID) (*models.ChatSession, error)

	// SaveSession inserts or overwrites the session for session.Chat.
	SaveSession(session models.ChatSession) error

	// DeleteSession removes all session attributes for a chat. Deleting a
	// missing session is a no-op.
	DeleteSession(chat models.ChatID) error

	// ListPendingDeliveries returns every session with an order in flight.
	// Used to rebuild courier jobs after a restart.
	ListPendingDeliveries() ([]models.ChatSession, error)

	// GetCourierMessage returns the id of the courier notification message
	// recorded for (courier, customer), or zero if none was sent yet.
	GetCourierMessage(courier, customer models.ChatID) (int, error)

	// SaveCourierMessage records the courier notification message id.
	SaveCourierMessage(courier, customer models.ChatID, messageID int) error

	// DeleteCourierMessage forgets the courier notification message.
	// Deleting a missing record is a no-op.
	DeleteCourierMessage(courier, customer models.ChatID) error

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	// DSN is the database connection string: a PostgreSQL URL/DSN or an
	// SQLite file path.
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets an SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// for anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
