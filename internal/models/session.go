// Package models defines session state structures for the ordering conversation.
package models

import (
	"fmt"
	"time"
)

// State is a node of the per-chat conversation state machine.
type State string

const (
	// StateStart is the entry node; any event shows the catalog.
	StateStart State = "START"
	// StateMenu is the paginated catalog view.
	StateMenu State = "MENU"
	// StateDescription is a single product card.
	StateDescription State = "DESCRIPTION"
	// StateCart is the cart summary view.
	StateCart State = "CART"
	// StateCustomers is the contact-info menu.
	StateCustomers State = "CUSTOMERS"
	// StateWaitingEmail awaits an email address.
	StateWaitingEmail State = "WAITING_EMAIL"
	// StateWaitingPhone awaits a phone number.
	StateWaitingPhone State = "WAITING_PHONE"
	// StateWaitingLocation awaits a text address or location pin.
	StateWaitingLocation State = "WAITING_LOCATION"
	// StateDelivery is the courier-vs-pickup choice.
	StateDelivery State = "DELIVERY"
	// StatePayment is the cash-vs-card choice.
	StatePayment State = "PAYMENT"
	// StatePaymentWaiting awaits the payment provider pre-check.
	StatePaymentWaiting State = "PAYMENT_WAITING"
	// StateUpdateHandler is the post-order node shared by customer and
	// courier chats until delivery is confirmed.
	StateUpdateHandler State = "UPDATE_HANDLER"
)

// ParseState validates a stored state value. Unknown states are a programming
// error and must fail loudly rather than default.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateStart, StateMenu, StateDescription, StateCart, StateCustomers,
		StateWaitingEmail, StateWaitingPhone, StateWaitingLocation,
		StateDelivery, StatePayment, StatePaymentWaiting, StateUpdateHandler:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// DeliveryKind distinguishes pickup from courier delivery.
type DeliveryKind string

const (
	DeliveryPickup  DeliveryKind = "pickup"
	DeliveryCourier DeliveryKind = "courier"
)

// PendingDelivery describes an order between address confirmation and
// delivery confirmation. Price is the courier fee frozen at the moment the
// delivery type was chosen; it is never recomputed afterwards.
type PendingDelivery struct {
	Kind        DeliveryKind `json:"kind"`
	Price       int64        `json:"price"`
	PizzeriaKey string       `json:"pizzeria_key"`
	Cash        bool         `json:"cash"`
	Deadline    time.Time    `json:"deadline"`
}

// ChatSession is the durable per-conversation record tracked by the state
// store. Pending is nil unless an order is in flight.
type ChatSession struct {
	Chat  ChatID `json:"chat_id"`
	State State  `json:"state"`

	// PageCursor is the last-viewed catalog page; zero means page one.
	PageCursor int `json:"page_cursor,omitempty"`

	// NearestPizzeria is the address-book key of the closest pizzeria,
	// recorded when the customer's location was resolved.
	NearestPizzeria string `json:"nearest_pizzeria,omitempty"`

	// InvoiceTag is the tag attached to the most recently issued card
	// invoice, checked against payment pre-check events.
	InvoiceTag string `json:"invoice_tag,omitempty"`

	LastOrderID string           `json:"last_order_id,omitempty"`
	Pending     *PendingDelivery `json:"pending_delivery,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExtendDeadline moves the pending delivery deadline to deadline unless that
// would make it earlier than the one already set. Deadlines are monotonic for
// a given order.
func (p *PendingDelivery) ExtendDeadline(deadline time.Time) {
	if deadline.After(p.Deadline) {
		p.Deadline = deadline
	}
}
