package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sliceline/pizzabot/internal/models"
)

// marshalPending renders the pending delivery as JSON, or nil when absent.
func marshalPending(p *models.PendingDelivery) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pending delivery failed: %w", err)
	}
	return string(data), nil
}

// scanner abstracts *sql.Row and *sql.Rows for session scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans one session row and validates the stored chat id and
// state. Corrupt rows surface as errors rather than defaulting.
func scanSession(row scanner) (models.ChatSession, error) {
	var sess models.ChatSession
	var chatID, state string
	var pendingJSON sql.NullString
	err := row.Scan(
		&chatID, &state, &sess.PageCursor, &sess.NearestPizzeria,
		&sess.InvoiceTag, &sess.LastOrderID, &pendingJSON,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return sess, err
	}
	sess.Chat, err = models.ParseChatID(chatID)
	if err != nil {
		return sess, fmt.Errorf("stored session has bad chat id: %w", err)
	}
	sess.State, err = models.ParseState(state)
	if err != nil {
		return sess, fmt.Errorf("stored session has bad state: %w", err)
	}
	if pendingJSON.Valid && pendingJSON.String != "" {
		var pending models.PendingDelivery
		if err := json.Unmarshal([]byte(pendingJSON.String), &pending); err != nil {
			return sess, fmt.Errorf("unmarshal pending delivery failed: %w", err)
		}
		sess.Pending = &pending
	}
	return sess, nil
}
