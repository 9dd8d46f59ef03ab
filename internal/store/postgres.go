// Package store provides storage backends for the bot.
//
// This file implements the PostgreSQL-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/sliceline/pizzabot/internal/models"
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

func (s *PostgresStore) GetSession(chat models.ChatID) (*models.ChatSession, error) {
	row := s.db.QueryRow(
		`SELECT chat_id, state, page_cursor, nearest_pizzeria, invoice_tag, last_order_id, pending_delivery, created_at, updated_at
		 FROM sessions WHERE chat_id = $1`, string(chat))
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "chat", chat)
		return nil, fmt.Errorf("failed to get session for %s: %w", chat, err)
	}
	return &sess, nil
}

func (s *PostgresStore) SaveSession(session models.ChatSession) error {
	pending, err := marshalPending(session.Pending)
	if err != nil {
		slog.Error("PostgresStore SaveSession marshal failed", "error", err, "chat", session.Chat)
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (chat_id, state, page_cursor, nearest_pizzeria, invoice_tag, last_order_id, pending_delivery, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (chat_id) DO UPDATE SET
		   state = EXCLUDED.state,
		   page_cursor = EXCLUDED.page_cursor,
		   nearest_pizzeria = EXCLUDED.nearest_pizzeria,
		   invoice_tag = EXCLUDED.invoice_tag,
		   last_order_id = EXCLUDED.last_order_id,
		   pending_delivery = EXCLUDED.pending_delivery,
		   updated_at = EXCLUDED.updated_at`,
		string(session.Chat), string(session.State), session.PageCursor,
		session.NearestPizzeria, session.InvoiceTag, session.LastOrderID,
		pending, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "chat", session.Chat)
		return fmt.Errorf("failed to save session for %s: %w", session.Chat, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "chat", session.Chat, "state", session.State)
	return nil
}

func (s *PostgresStore) DeleteSession(chat models.ChatID) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE chat_id = $1`, string(chat))
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "chat", chat)
		return fmt.Errorf("failed to delete session for %s: %w", chat, err)
	}
	slog.Debug("PostgresStore DeleteSession succeeded", "chat", chat)
	return nil
}

func (s *PostgresStore) ListPendingDeliveries() ([]models.ChatSession, error) {
	rows, err := s.db.Query(
		`SELECT chat_id, state, page_cursor, nearest_pizzeria, invoice_tag, last_order_id, pending_delivery, created_at, updated_at
		 FROM sessions WHERE pending_delivery IS NOT NULL`)
	if err != nil {
		slog.Error("PostgresStore ListPendingDeliveries query failed", "error", err)
		return nil, fmt.Errorf("failed to query pending deliveries: %w", err)
	}
	defer rows.Close()

	var sessions []models.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("PostgresStore ListPendingDeliveries scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListPendingDeliveries rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("PostgresStore ListPendingDeliveries succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *PostgresStore) GetCourierMessage(courier, customer models.ChatID) (int, error) {
	var messageID int
	err := s.db.QueryRow(
		`SELECT message_id FROM courier_messages WHERE courier_chat = $1 AND customer_chat = $2`,
		string(courier), string(customer)).Scan(&messageID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCourierMessage failed", "error", err, "courier", courier, "customer", customer)
		return 0, fmt.Errorf("failed to get courier message: %w", err)
	}
	return messageID, nil
}

func (s *PostgresStore) SaveCourierMessage(courier, customer models.ChatID, messageID int) error {
	_, err := s.db.Exec(
		`INSERT INTO courier_messages (courier_chat, customer_chat, message_id) VALUES ($1, $2, $3)
		 ON CONFLICT (courier_chat, customer_chat) DO UPDATE SET message_id = EXCLUDED.message_id`,
		string(courier), string(customer), messageID)
	if err != nil {
		slog.Error("PostgresStore SaveCourierMessage failed", "error", err, "courier", courier, "customer", customer)
		return fmt.Errorf("failed to save courier message: %w", err)
	}
	slog.Debug("PostgresStore SaveCourierMessage succeeded", "courier", courier, "customer", customer, "message_id", messageID)
	return nil
}

func (s *PostgresStore) DeleteCourierMessage(courier, customer models.ChatID) error {
	_, err := s.db.Exec(
		`DELETE FROM courier_messages WHERE courier_chat = $1 AND customer_chat = $2`,
		string(courier), string(customer))
	if err != nil {
		slog.Error("PostgresStore DeleteCourierMessage failed", "error", err, "courier", courier, "customer", customer)
		return fmt.Errorf("failed to delete courier message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
