// Package store provides storage backends for the bot.
//
// This file implements the SQLite-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sliceline/pizzabot/internal/models"
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

func (s *SQLiteStore) GetSession(chat models.ChatID) (*models.ChatSession, error) {
	row := s.db.QueryRow(
		`SELECT chat_id, state, page_cursor, nearest_pizzeria, invoice_tag, last_order_id, pending_delivery, created_at, updated_at
		 FROM sessions WHERE chat_id = ?`, string(chat))
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "chat", chat)
		return nil, fmt.Errorf("failed to get session for %s: %w", chat, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) SaveSession(session models.ChatSession) error {
	pending, err := marshalPending(session.Pending)
	if err != nil {
		slog.Error("SQLiteStore SaveSession marshal failed", "error", err, "chat", session.Chat)
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (chat_id, state, page_cursor, nearest_pizzeria, invoice_tag, last_order_id, pending_delivery, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   state = excluded.state,
		   page_cursor = excluded.page_cursor,
		   nearest_pizzeria = excluded.nearest_pizzeria,
		   invoice_tag = excluded.invoice_tag,
		   last_order_id = excluded.last_order_id,
		   pending_delivery = excluded.pending_delivery,
		   updated_at = excluded.updated_at`,
		string(session.Chat), string(session.State), session.PageCursor,
		session.NearestPizzeria, session.InvoiceTag, session.LastOrderID,
		pending, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "chat", session.Chat)
		return fmt.Errorf("failed to save session for %s: %w", session.Chat, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "chat", session.Chat, "state", session.State)
	return nil
}

func (s *SQLiteStore) DeleteSession(chat models.ChatID) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE chat_id = ?`, string(chat))
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "chat", chat)
		return fmt.Errorf("failed to delete session for %s: %w", chat, err)
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "chat", chat)
	return nil
}

func (s *SQLiteStore) ListPendingDeliveries() ([]models.ChatSession, error) {
	rows, err := s.db.Query(
		`SELECT chat_id, state, page_cursor, nearest_pizzeria, invoice_tag, last_order_id, pending_delivery, created_at, updated_at
		 FROM sessions WHERE pending_delivery IS NOT NULL`)
	if err != nil {
		slog.Error("SQLiteStore ListPendingDeliveries query failed", "error", err)
		return nil, fmt.Errorf("failed to query pending deliveries: %w", err)
	}
	defer rows.Close()

	var sessions []models.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("SQLiteStore ListPendingDeliveries scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListPendingDeliveries rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("SQLiteStore ListPendingDeliveries succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *SQLiteStore) GetCourierMessage(courier, customer models.ChatID) (int, error) {
	var messageID int
	err := s.db.QueryRow(
		`SELECT message_id FROM courier_messages WHERE courier_chat = ? AND customer_chat = ?`,
		string(courier), string(customer)).Scan(&messageID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCourierMessage failed", "error", err, "courier", courier, "customer", customer)
		return 0, fmt.Errorf("failed to get courier message: %w", err)
	}
	return messageID, nil
}

func (s *SQLiteStore) SaveCourierMessage(courier, customer models.ChatID, messageID int) error {
	_, err := s.db.Exec(
		`INSERT INTO courier_messages (courier_chat, customer_chat, message_id) VALUES (?, ?, ?)
		 ON CONFLICT(courier_chat, customer_chat) DO UPDATE SET message_id = excluded.message_id`,
		string(courier), string(customer), messageID)
	if err != nil {
		slog.Error("SQLiteStore SaveCourierMessage failed", "error", err, "courier", courier, "customer", customer)
		return fmt.Errorf("failed to save courier message: %w", err)
	}
	slog.Debug("SQLiteStore SaveCourierMessage succeeded", "courier", courier, "customer", customer, "message_id", messageID)
	return nil
}

func (s *SQLiteStore) DeleteCourierMessage(courier, customer models.ChatID) error {
	_, err := s.db.Exec(
		`DELETE FROM courier_messages WHERE courier_chat = ? AND customer_chat = ?`,
		string(courier), string(customer))
	if err != nil {
		slog.Error("SQLiteStore DeleteCourierMessage failed", "error", err, "courier", courier, "customer", customer)
		return fmt.Errorf("failed to delete courier message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
