// Package models defines the outbound messaging surface implemented by each transport.
package models

import "context"

// Button is a single inline choice button. Data is the encoded ButtonPayload.
type Button struct {
	Label string
	Data  string
}

// Keyboard is rows of inline buttons.
type Keyboard [][]Button

// Invoice describes a card payment request issued to a chat.
type Invoice struct {
	Title       string
	Description string
	// Tag is an opaque value echoed back in payment events; the engine uses
	// it to validate pre-checks against the invoice it issued.
	Tag      string
	Currency string
	// Items are labelled amounts in minor currency units.
	Items []InvoiceItem
}

// InvoiceItem is one labelled price line of an invoice.
type InvoiceItem struct {
	Label  string
	Amount int64
}

// Sender is the outbound action surface of a chat transport. Message-creating
// calls return the transport message id (zero where the transport does not
// expose one). Transports that cannot perform an action return
// ErrUnsupportedAction.
type Sender interface {
	// SendText sends a plain text message.
	SendText(ctx context.Context, chat ChatID, text string) (int, error)

	// SendButtons sends text with an inline keyboard.
	SendButtons(ctx context.Context, chat ChatID, text string, kb Keyboard) (int, error)

	// SendPhoto sends a photo by URL with a caption and keyboard.
	SendPhoto(ctx context.Context, chat ChatID, photoURL, caption string, kb Keyboard) (int, error)

	// SendLocation sends a location pin.
	SendLocation(ctx context.Context, chat ChatID, point GeoPoint) (int, error)

	// EditMessage replaces the text and keyboard of a previously sent message.
	EditMessage(ctx context.Context, chat ChatID, messageID int, text string, kb Keyboard) error

	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chat ChatID, messageID int) error

	// SendInvoice issues a card payment invoice.
	SendInvoice(ctx context.Context, chat ChatID, inv Invoice) (int, error)
	// SupportsInvoices reports whether SendInvoice can actually bill a card
	// on this transport; callers hide the card option when it cannot.
	SupportsInvoices() bool

	// AnswerPreCheckout approves or rejects a payment pre-check.
	AnswerPreCheckout(ctx context.Context, precheckID string, ok bool, errMessage string) error

	// AnswerButton acknowledges a button press with an optional toast text.
	AnswerButton(ctx context.Context, buttonID, text string) error
}

// SenderRegistry resolves the Sender serving a chat's transport.
type SenderRegistry interface {
	SenderFor(chat ChatID) (Sender, error)
}
