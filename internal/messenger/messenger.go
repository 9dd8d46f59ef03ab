// Package messenger adapts the Facebook Messenger platform to the bot's
// transport contracts: a webhook receives page events, and the Graph API
// sends messages and button templates back.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sliceline/pizzabot/internal/models"
)

// DefaultGraphURL is the Messenger Send API endpoint.
const DefaultGraphURL = "https://graph.facebook.com/v2.6/me/messages"

// DefaultRequestTimeout bounds one Graph API round trip.
const DefaultRequestTimeout = 10 * time.Second

// DefaultEventBuffer is the outbound event channel depth.
const DefaultEventBuffer = 64

// Opts holds Messenger client configuration.
type Opts struct {
	// AccessToken is the page access token used for the Send API.
	AccessToken string
	// VerifyToken is the shared secret echoed during webhook verification.
	VerifyToken string
	GraphURL    string
	HTTPClient  *http.Client
}

// Option configures the Messenger client.
type Option func(*Opts)

// WithAccessToken sets the page access token.
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithGraphURL overrides the Send API endpoint (used by tests).
func WithGraphURL(u string) Option {
	return func(o *Opts) { o.GraphURL = u }
}

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is the Messenger front-end. It implements models.Sender; actions
// Messenger has no equivalent for return models.ErrUnsupportedAction.
type Client struct {
	accessToken string
	verifyToken string
	graphURL    string
	httpClient  *http.Client
	events      chan models.Event
}

// NewClient creates the Messenger client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{GraphURL: DefaultGraphURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("messenger page access token is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{
		accessToken: cfg.AccessToken,
		verifyToken: cfg.VerifyToken,
		graphURL:    cfg.GraphURL,
		httpClient:  cfg.HTTPClient,
		events:      make(chan models.Event, DefaultEventBuffer),
	}, nil
}

// Events returns the channel of normalized inbound events.
func (c *Client) Events() <-chan models.Event {
	return c.events
}

// handleVerify answers Facebook's subscription challenge.
func (c *Client) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != c.verifyToken {
		slog.Warn("Messenger webhook verification rejected", "mode", query.Get("hub.mode"))
		http.Error(w, "verification token mismatch", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, query.Get("hub.challenge"))
	slog.Info("Messenger webhook verified")
}

// webhookPayload mirrors the slice of the page-event schema the bot consumes.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				Text string `json:"text"`
			} `json:"message"`
			Postback *struct {
				Payload string `json:"payload"`
			} `json:"postback"`
		} `json:"messaging"`
	} `json:"entry"`
}

// handleEvents normalizes page events onto the events channel. Facebook
// retries on non-200, so the handler acknowledges even empty batches.
func (c *Client) handleEvents(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Error("Messenger webhook body is malformed", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Object != "page" {
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, messaging := range entry.Messaging {
			chat := models.NewChatID(models.TransportMessenger, messaging.Sender.ID)
			switch {
			case messaging.Postback != nil:
				c.events <- models.Event{
					Type:   models.EventButton,
					Chat:   chat,
					Button: messaging.Postback.Payload,
				}
			case messaging.Message != nil && messaging.Message.Text != "":
				c.events <- models.Event{
					Type: models.EventText,
					Chat: chat,
					Text: messaging.Message.Text,
				}
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

// send posts one Send API payload.
func (c *Client) send(ctx context.Context, recipientID string, message interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"recipient": map[string]string{"id": recipientID},
		"message":   message,
	})
	if err != nil {
		return fmt.Errorf("failed to encode Messenger payload: %w", err)
	}

	url := c.graphURL + "?access_token=" + c.accessToken
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Messenger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach Messenger Send API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("messenger Send API returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// SendText sends a plain text message. Messenger does not expose message
// ids usable for later edits, so zero is returned.
func (c *Client) SendText(ctx context.Context, chat models.ChatID, text string) (int, error) {
	return 0, c.send(ctx, chat.Raw(), map[string]string{"text": stripMarkup(text)})
}

// SendButtons sends text with postback buttons. Messenger button templates
// carry at most three buttons per message, so longer keyboards are split
// into a chain of templates.
func (c *Client) SendButtons(ctx context.Context, chat models.ChatID, text string, kb models.Keyboard) (int, error) {
	var flat []models.Button
	for _, row := range kb {
		flat = append(flat, row...)
	}

	title := stripMarkup(text)
	for len(flat) > 0 {
		n := len(flat)
		if n > 3 {
			n = 3
		}
		buttons := make([]map[string]string, 0, n)
		for _, button := range flat[:n] {
			buttons = append(buttons, map[string]string{
				"type":    "postback",
				"title":   button.Label,
				"payload": button.Data,
			})
		}
		flat = flat[n:]

		message := map[string]interface{}{
			"attachment": map[string]interface{}{
				"type": "template",
				"payload": map[string]interface{}{
					"template_type": "button",
					"text":          title,
					"buttons":       buttons,
				},
			},
		}
		if err := c.send(ctx, chat.Raw(), message); err != nil {
			return 0, err
		}
		// Follow-up chunks repeat a neutral prompt instead of the full text.
		title = "Еще:"
	}
	return 0, nil
}

// SendPhoto sends the image and the caption as two messages; Messenger has
// no captioned-photo primitive with buttons.
func (c *Client) SendPhoto(ctx context.Context, chat models.ChatID, photoURL, caption string, kb models.Keyboard) (int, error) {
	message := map[string]interface{}{
		"attachment": map[string]interface{}{
			"type":    "image",
			"payload": map[string]interface{}{"url": photoURL},
		},
	}
	if err := c.send(ctx, chat.Raw(), message); err != nil {
		return 0, err
	}
	return c.SendButtons(ctx, chat, caption, kb)
}

// SendLocation renders the pin as a maps link; the Send API has no location
// attachment for pages.
func (c *Client) SendLocation(ctx context.Context, chat models.ChatID, point models.GeoPoint) (int, error) {
	text := fmt.Sprintf("https://maps.yandex.ru/?pt=%f,%f&z=17", point.Longitude, point.Latitude)
	return c.SendText(ctx, chat, text)
}

// EditMessage is not supported by the Send API.
func (c *Client) EditMessage(ctx context.Context, chat models.ChatID, messageID int, text string, kb models.Keyboard) error {
	return models.ErrUnsupportedAction
}

// DeleteMessage is not supported by the Send API.
func (c *Client) DeleteMessage(ctx context.Context, chat models.ChatID, messageID int) error {
	return models.ErrUnsupportedAction
}

// SupportsInvoices is always false: Messenger has no card billing, so the
// payment menu never offers a card option on this transport.
func (c *Client) SupportsInvoices() bool {
	return false
}

// SendInvoice is not supported; Messenger orders pay cash on delivery.
func (c *Client) SendInvoice(ctx context.Context, chat models.ChatID, inv models.Invoice) (int, error) {
	return 0, models.ErrUnsupportedAction
}

// AnswerPreCheckout is not supported.
func (c *Client) AnswerPreCheckout(ctx context.Context, precheckID string, ok bool, errMessage string) error {
	return models.ErrUnsupportedAction
}

// AnswerButton is a no-op: postbacks need no acknowledgement.
func (c *Client) AnswerButton(ctx context.Context, buttonID, text string) error {
	return nil
}

// markupReplacer drops the HTML tags Telegram renders; Messenger shows text
// verbatim.
var markupReplacer = strings.NewReplacer("<b>", "", "</b>", "", "<i>", "", "</i>", "")

func stripMarkup(text string) string {
	return markupReplacer.Replace(text)
}
