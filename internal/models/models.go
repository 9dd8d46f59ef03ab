// Package models defines the core data structures for the pizza ordering bot.
//
// It includes chat identifiers, normalized inbound events, structured button
// payloads and the outbound messaging surface shared across transports.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Transport identifies the chat front-end a conversation lives on.
type Transport string

const (
	// TransportTelegram is the long-polling Telegram front-end.
	TransportTelegram Transport = "tg"
	// TransportMessenger is the webhook-based Messenger front-end.
	TransportMessenger Transport = "fb"
)

// IsValidTransport checks if the given transport is supported.
func IsValidTransport(t Transport) bool {
	switch t {
	case TransportTelegram, TransportMessenger:
		return true
	}
	return false
}

// ChatID is a transport-qualified chat identifier, e.g. "tg123456" or
// "fb87654". The prefix keeps the two front-ends' numeric id spaces from
// colliding in the session store and in commerce cart keys.
type ChatID string

// NewChatID builds a ChatID from a transport and the transport-native id.
func NewChatID(t Transport, raw string) ChatID {
	return ChatID(string(t) + raw)
}

// Transport returns the transport prefix of the chat id.
func (c ChatID) Transport() Transport {
	for _, t := range []Transport{TransportTelegram, TransportMessenger} {
		if strings.HasPrefix(string(c), string(t)) {
			return t
		}
	}
	return ""
}

// Raw returns the transport-native id with the prefix stripped.
func (c ChatID) Raw() string {
	return strings.TrimPrefix(string(c), string(c.Transport()))
}

// ParseChatID validates a stored chat id string.
func ParseChatID(s string) (ChatID, error) {
	c := ChatID(s)
	if !IsValidTransport(c.Transport()) || c.Raw() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidChatID, s)
	}
	return c, nil
}

// GeoPoint is a longitude/latitude pair.
type GeoPoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// EventType classifies a normalized inbound event.
type EventType string

const (
	// EventText is a plain text message from the user.
	EventText EventType = "text"
	// EventButton is an inline button press carrying a structured payload.
	EventButton EventType = "button"
	// EventLocation is a shared live location pin.
	EventLocation EventType = "location"
	// EventPaymentPrecheck is a payment pre-check request from the payment provider.
	EventPaymentPrecheck EventType = "payment_precheck"
	// EventPaymentSuccess is a successful payment notification.
	EventPaymentSuccess EventType = "payment_success"
)

// Event is the transport-independent shape of an incoming update.
// Exactly one of Text, Button, Location and Payment is meaningful,
// selected by Type.
type Event struct {
	Type EventType
	Chat ChatID

	// MessageID is the transport message the event refers to (the message a
	// pressed button was attached to). Zero when the transport has none.
	MessageID int

	// ButtonID is the transport handle used to acknowledge a button press
	// (Telegram callback query id). Empty when not applicable.
	ButtonID string

	Text string
	// Button is the raw callback data of a button press; handlers parse it
	// with ParseButtonPayload.
	Button   string
	Location *GeoPoint
	Payment  *PaymentEvent
}

// PaymentEvent carries payment pre-check and success notifications.
type PaymentEvent struct {
	// PrecheckID is the transport handle for answering a pre-check.
	PrecheckID string
	// InvoiceTag is the opaque tag the bot attached to the issued invoice.
	InvoiceTag string
	// TotalAmount is the billed amount in minor currency units.
	TotalAmount int64
	Currency    string
}

// Classification errors shared across components. Handlers wrap these with
// chat and state context; the engine uses them to decide between re-prompting
// and alerting.
var (
	ErrInvalidChatID      = errors.New("invalid chat id")
	ErrUnknownState       = errors.New("unknown conversation state")
	ErrUnexpectedEvent    = errors.New("event not valid in current state")
	ErrUnknownPayload     = errors.New("unknown button payload")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrAddressNotFound    = errors.New("address could not be resolved")
	ErrNoPizzeria         = errors.New("no pizzeria available for this location")
	ErrMissingPending     = errors.New("session has no pending delivery")
	ErrUnsupportedAction  = errors.New("outbound action not supported by transport")
	ErrInvoiceTagMismatch = errors.New("payment pre-check tag does not match issued invoice")
)

// ButtonAction tags a structured button payload variant.
type ButtonAction string

const (
	ActionShowCart         ButtonAction = "cart"
	ActionCheckout         ButtonAction = "checkout"
	ActionBackToMenu       ButtonAction = "menu"
	ActionPage             ButtonAction = "page"
	ActionProduct          ButtonAction = "prod"
	ActionAddToCart        ButtonAction = "add"
	ActionRemoveItem       ButtonAction = "rm"
	ActionCategory         ButtonAction = "cat"
	ActionAskEmail         ButtonAction = "email"
	ActionAskPhone         ButtonAction = "phone"
	ActionContinue         ButtonAction = "cont"
	ActionDeliveryCourier  ButtonAction = "courier"
	ActionDeliveryPickup   ButtonAction = "pickup"
	ActionPayCash          ButtonAction = "cash"
	ActionPayCard          ButtonAction = "card"
	ActionCourierDelivered ButtonAction = "delivered"
	ActionCourierYes       ButtonAction = "confirm_yes"
	ActionCourierNo        ButtonAction = "confirm_no"
)

// ButtonPayload is the parsed form of a callback button. The zero fields not
// relevant to Action are left empty; ParseButtonPayload rejects payloads whose
// argument is missing or malformed.
type ButtonPayload struct {
	Action ButtonAction

	ProductID string
	ItemID    string
	Page      int
	Category  string
	// Fee is the courier fee (major currency units) frozen into the delivery
	// choice button when the tier was computed.
	Fee int64
	// Target is the customer chat a courier acknowledgement refers to.
	Target ChatID
}

// Encode renders the payload into the compact wire form carried in callback
// data ("action" or "action:argument").
func (p ButtonPayload) Encode() string {
	switch p.Action {
	case ActionPage:
		return fmt.Sprintf("%s:%d", p.Action, p.Page)
	case ActionProduct, ActionAddToCart:
		return fmt.Sprintf("%s:%s", p.Action, p.ProductID)
	case ActionRemoveItem:
		return fmt.Sprintf("%s:%s", p.Action, p.ItemID)
	case ActionCategory:
		return fmt.Sprintf("%s:%s", p.Action, p.Category)
	case ActionDeliveryCourier:
		return fmt.Sprintf("%s:%d", p.Action, p.Fee)
	case ActionCourierDelivered, ActionCourierYes, ActionCourierNo:
		return fmt.Sprintf("%s:%s", p.Action, p.Target)
	default:
		return string(p.Action)
	}
}

// ParseButtonPayload parses callback data into a ButtonPayload. It is the
// single boundary where transport strings become typed payloads; anything it
// does not recognize is ErrUnknownPayload.
func ParseButtonPayload(data string) (ButtonPayload, error) {
	action, arg, hasArg := strings.Cut(data, ":")
	p := ButtonPayload{Action: ButtonAction(action)}

	switch p.Action {
	case ActionShowCart, ActionCheckout, ActionBackToMenu, ActionAskEmail,
		ActionAskPhone, ActionContinue, ActionDeliveryPickup,
		ActionPayCash, ActionPayCard:
		if hasArg {
			return ButtonPayload{}, fmt.Errorf("%w: unexpected argument in %q", ErrUnknownPayload, data)
		}
		return p, nil
	case ActionPage:
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return ButtonPayload{}, fmt.Errorf("%w: bad page in %q", ErrUnknownPayload, data)
		}
		p.Page = n
		return p, nil
	case ActionProduct, ActionAddToCart:
		if arg == "" {
			return ButtonPayload{}, fmt.Errorf("%w: missing product id in %q", ErrUnknownPayload, data)
		}
		p.ProductID = arg
		return p, nil
	case ActionRemoveItem:
		if arg == "" {
			return ButtonPayload{}, fmt.Errorf("%w: missing item id in %q", ErrUnknownPayload, data)
		}
		p.ItemID = arg
		return p, nil
	case ActionCategory:
		if arg == "" {
			return ButtonPayload{}, fmt.Errorf("%w: missing category in %q", ErrUnknownPayload, data)
		}
		p.Category = arg
		return p, nil
	case ActionDeliveryCourier:
		fee, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || fee < 0 {
			return ButtonPayload{}, fmt.Errorf("%w: bad courier fee in %q", ErrUnknownPayload, data)
		}
		p.Fee = fee
		return p, nil
	case ActionCourierDelivered, ActionCourierYes, ActionCourierNo:
		target, err := ParseChatID(arg)
		if err != nil {
			return ButtonPayload{}, fmt.Errorf("%w: bad target chat in %q", ErrUnknownPayload, data)
		}
		p.Target = target
		return p, nil
	default:
		return ButtonPayload{}, fmt.Errorf("%w: %q", ErrUnknownPayload, data)
	}
}
