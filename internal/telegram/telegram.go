// Package telegram adapts the Telegram Bot API to the bot's transport
// contracts: long-polled updates are normalized into events, and outbound
// actions are rendered with the Bot API's native message types.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sliceline/pizzabot/internal/models"
)

// DefaultUpdateTimeout is the long-poll timeout in seconds.
const DefaultUpdateTimeout = 60

// DefaultEventBuffer is the outbound event channel depth.
const DefaultEventBuffer = 64

// Opts holds Telegram client configuration.
type Opts struct {
	Token        string
	PaymentToken string
	// UpdateTimeout is the long-poll timeout in seconds.
	UpdateTimeout int
}

// Option configures the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithPaymentToken sets the payment-provider token used for invoices.
func WithPaymentToken(token string) Option {
	return func(o *Opts) { o.PaymentToken = token }
}

// WithUpdateTimeout overrides the long-poll timeout.
func WithUpdateTimeout(seconds int) Option {
	return func(o *Opts) { o.UpdateTimeout = seconds }
}

// Client is the Telegram front-end. It implements models.Sender.
type Client struct {
	api           *tgbotapi.BotAPI
	paymentToken  string
	updateTimeout int
	events        chan models.Event
}

// NewClient connects to the Telegram Bot API.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{UpdateTimeout: DefaultUpdateTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	slog.Info("Telegram client connected", "username", api.Self.UserName)

	return &Client{
		api:           api,
		paymentToken:  cfg.PaymentToken,
		updateTimeout: cfg.UpdateTimeout,
		events:        make(chan models.Event, DefaultEventBuffer),
	}, nil
}

// Events returns the channel of normalized inbound events.
func (c *Client) Events() <-chan models.Event {
	return c.events
}

// Run long-polls Telegram for updates until ctx is cancelled, normalizing
// each update onto the events channel.
func (c *Client) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = c.updateTimeout
	updates := c.api.GetUpdatesChan(cfg)
	defer c.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			close(c.events)
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				close(c.events)
				return nil
			}
			if ev, ok := normalize(update); ok {
				select {
				case c.events <- ev:
				case <-ctx.Done():
					close(c.events)
					return ctx.Err()
				}
			}
		}
	}
}

// normalize converts one Telegram update into a transport-neutral event.
// Updates the bot has no use for are dropped.
func normalize(update tgbotapi.Update) (models.Event, bool) {
	switch {
	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		if query.Message == nil {
			return models.Event{}, false
		}
		return models.Event{
			Type:      models.EventButton,
			Chat:      chatID(query.Message.Chat.ID),
			MessageID: query.Message.MessageID,
			ButtonID:  query.ID,
			Button:    query.Data,
		}, true

	case update.PreCheckoutQuery != nil:
		query := update.PreCheckoutQuery
		return models.Event{
			Type: models.EventPaymentPrecheck,
			Chat: chatID(query.From.ID),
			Payment: &models.PaymentEvent{
				PrecheckID:  query.ID,
				InvoiceTag:  query.InvoicePayload,
				TotalAmount: int64(query.TotalAmount),
				Currency:    query.Currency,
			},
		}, true

	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		message := update.Message
		payment := message.SuccessfulPayment
		return models.Event{
			Type:      models.EventPaymentSuccess,
			Chat:      chatID(message.Chat.ID),
			MessageID: message.MessageID,
			Payment: &models.PaymentEvent{
				InvoiceTag:  payment.InvoicePayload,
				TotalAmount: int64(payment.TotalAmount),
				Currency:    payment.Currency,
			},
		}, true

	case update.Message != nil && update.Message.Location != nil:
		message := update.Message
		return models.Event{
			Type:      models.EventLocation,
			Chat:      chatID(message.Chat.ID),
			MessageID: message.MessageID,
			Location: &models.GeoPoint{
				Longitude: message.Location.Longitude,
				Latitude:  message.Location.Latitude,
			},
		}, true

	case update.Message != nil && update.Message.Text != "":
		message := update.Message
		return models.Event{
			Type:      models.EventText,
			Chat:      chatID(message.Chat.ID),
			MessageID: message.MessageID,
			Text:      message.Text,
		}, true
	}
	return models.Event{}, false
}

func chatID(id int64) models.ChatID {
	return models.NewChatID(models.TransportTelegram, strconv.FormatInt(id, 10))
}

// nativeChat parses the transport-native chat id back out of a prefixed one.
func nativeChat(chat models.ChatID) (int64, error) {
	id, err := strconv.ParseInt(chat.Raw(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a Telegram chat id", models.ErrInvalidChatID, chat)
	}
	return id, nil
}

func keyboard(kb models.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(button.Label, button.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// SendText sends a plain HTML-rendered message.
func (c *Client) SendText(ctx context.Context, chat models.ChatID, text string) (int, error) {
	id, err := nativeChat(chat)
	if err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeHTML
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send Telegram message: %w", err)
	}
	return sent.MessageID, nil
}

// SendButtons sends text with an inline keyboard.
func (c *Client) SendButtons(ctx context.Context, chat models.ChatID, text string, kb models.Keyboard) (int, error) {
	id, err := nativeChat(chat)
	if err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard(kb)
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send Telegram keyboard: %w", err)
	}
	return sent.MessageID, nil
}

// SendPhoto sends a photo by URL with a caption and keyboard.
func (c *Client) SendPhoto(ctx context.Context, chat models.ChatID, photoURL, caption string, kb models.Keyboard) (int, error) {
	id, err := nativeChat(chat)
	if err != nil {
		return 0, err
	}
	msg := tgbotapi.NewPhoto(id, tgbotapi.FileURL(photoURL))
	msg.Caption = caption
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard(kb)
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send Telegram photo: %w", err)
	}
	return sent.MessageID, nil
}

// SendLocation sends a location pin.
func (c *Client) SendLocation(ctx context.Context, chat models.ChatID, point models.GeoPoint) (int, error) {
	id, err := nativeChat(chat)
	if err != nil {
		return 0, err
	}
	sent, err := c.api.Send(tgbotapi.NewLocation(id, point.Latitude, point.Longitude))
	if err != nil {
		return 0, fmt.Errorf("failed to send Telegram location: %w", err)
	}
	return sent.MessageID, nil
}

// EditMessage replaces the text of a previously sent message in place.
func (c *Client) EditMessage(ctx context.Context, chat models.ChatID, messageID int, text string, kb models.Keyboard) error {
	id, err := nativeChat(chat)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageTextAndMarkup(id, messageID, text, keyboard(kb))
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := c.api.Send(edit); err != nil {
		return fmt.Errorf("failed to edit Telegram message %d: %w", messageID, err)
	}
	return nil
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, chat models.ChatID, messageID int) error {
	id, err := nativeChat(chat)
	if err != nil {
		return err
	}
	if _, err := c.api.Request(tgbotapi.NewDeleteMessage(id, messageID)); err != nil {
		return fmt.Errorf("failed to delete Telegram message %d: %w", messageID, err)
	}
	return nil
}

// SendInvoice issues a card payment invoice through the configured provider.
func (c *Client) SendInvoice(ctx context.Context, chat models.ChatID, inv models.Invoice) (int, error) {
	id, err := nativeChat(chat)
	if err != nil {
		return 0, err
	}
	prices := make([]tgbotapi.LabeledPrice, 0, len(inv.Items))
	for _, item := range inv.Items {
		prices = append(prices, tgbotapi.LabeledPrice{Label: item.Label, Amount: int(item.Amount)})
	}
	invoice := tgbotapi.NewInvoice(id, inv.Title, inv.Description, inv.Tag,
		c.paymentToken, "", inv.Currency, prices)
	sent, err := c.api.Send(invoice)
	if err != nil {
		return 0, fmt.Errorf("failed to send Telegram invoice: %w", err)
	}
	return sent.MessageID, nil
}

// SupportsInvoices reports whether a payment provider token is configured.
func (c *Client) SupportsInvoices() bool {
	return c.paymentToken != ""
}

// AnswerPreCheckout approves or rejects a payment pre-check.
func (c *Client) AnswerPreCheckout(ctx context.Context, precheckID string, ok bool, errMessage string) error {
	cfg := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: precheckID,
		OK:                 ok,
		ErrorMessage:       errMessage,
	}
	if _, err := c.api.Request(cfg); err != nil {
		return fmt.Errorf("failed to answer Telegram pre-checkout: %w", err)
	}
	return nil
}

// AnswerButton acknowledges a callback query, optionally with a toast.
func (c *Client) AnswerButton(ctx context.Context, buttonID, text string) error {
	if _, err := c.api.Request(tgbotapi.NewCallback(buttonID, text)); err != nil {
		return fmt.Errorf("failed to answer Telegram callback: %w", err)
	}
	return nil
}
