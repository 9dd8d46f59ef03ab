// Package testutil provides shared test doubles for the transport surface.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/sliceline/pizzabot/internal/models"
)

// SentMessage records one outbound action performed through a FakeSender.
type SentMessage struct {
	Kind      string // "text", "buttons", "photo", "location", "invoice", "edit", "delete"
	Chat      models.ChatID
	MessageID int
	Text      string
	Keyboard  models.Keyboard
	Point     models.GeoPoint
	Invoice   models.Invoice
}

// FakeSender records outbound actions and hands out sequential message ids.
// It is safe for concurrent use.
type FakeSender struct {
	mu     sync.Mutex
	nextID int

	Sent       []SentMessage
	Deleted    []int
	Precheck   []bool
	ButtonAcks []string

	// FailSends makes message-creating calls return an error.
	FailSends bool

	// NoInvoices models a transport without card billing.
	NoInvoices bool
}

// NewFakeSender creates a FakeSender.
func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

func (f *FakeSender) record(msg SentMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSends {
		return 0, fmt.Errorf("simulated send failure")
	}
	f.nextID++
	msg.MessageID = f.nextID
	f.Sent = append(f.Sent, msg)
	return f.nextID, nil
}

// Last returns the most recent outbound action.
func (f *FakeSender) Last() SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return SentMessage{}
	}
	return f.Sent[len(f.Sent)-1]
}

// OfKind returns every recorded action of the given kind.
func (f *FakeSender) OfKind(kind string) []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SentMessage
	for _, msg := range f.Sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (f *FakeSender) SendText(ctx context.Context, chat models.ChatID, text string) (int, error) {
	return f.record(SentMessage{Kind: "text", Chat: chat, Text: text})
}

func (f *FakeSender) SendButtons(ctx context.Context, chat models.ChatID, text string, kb models.Keyboard) (int, error) {
	return f.record(SentMessage{Kind: "buttons", Chat: chat, Text: text, Keyboard: kb})
}

func (f *FakeSender) SendPhoto(ctx context.Context, chat models.ChatID, photoURL, caption string, kb models.Keyboard) (int, error) {
	return f.record(SentMessage{Kind: "photo", Chat: chat, Text: caption, Keyboard: kb})
}

func (f *FakeSender) SendLocation(ctx context.Context, chat models.ChatID, point models.GeoPoint) (int, error) {
	return f.record(SentMessage{Kind: "location", Chat: chat, Point: point})
}

func (f *FakeSender) EditMessage(ctx context.Context, chat models.ChatID, messageID int, text string, kb models.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentMessage{Kind: "edit", Chat: chat, MessageID: messageID, Text: text, Keyboard: kb})
	return nil
}

func (f *FakeSender) DeleteMessage(ctx context.Context, chat models.ChatID, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, messageID)
	return nil
}

func (f *FakeSender) SendInvoice(ctx context.Context, chat models.ChatID, inv models.Invoice) (int, error) {
	return f.record(SentMessage{Kind: "invoice", Chat: chat, Invoice: inv})
}

func (f *FakeSender) SupportsInvoices() bool {
	return !f.NoInvoices
}

func (f *FakeSender) AnswerPreCheckout(ctx context.Context, precheckID string, ok bool, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Precheck = append(f.Precheck, ok)
	return nil
}

func (f *FakeSender) AnswerButton(ctx context.Context, buttonID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ButtonAcks = append(f.ButtonAcks, buttonID)
	return nil
}

// SingleSenderRegistry serves the same sender for every chat.
type SingleSenderRegistry struct {
	Sender models.Sender
}

// SenderFor implements models.SenderRegistry.
func (r SingleSenderRegistry) SenderFor(chat models.ChatID) (models.Sender, error) {
	return r.Sender, nil
}
