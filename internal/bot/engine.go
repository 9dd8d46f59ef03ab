// Package bot implements the per-chat conversation engine: the state machine
// that walks a customer from catalog browsing through cart, contact info,
// delivery choice and payment to the courier hand-off.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sliceline/pizzabot/internal/dispatch"
	"github.com/sliceline/pizzabot/internal/elastic"
	"github.com/sliceline/pizzabot/internal/geo"
	"github.com/sliceline/pizzabot/internal/models"
	"github.com/sliceline/pizzabot/internal/store"
)

// Engine configuration constants
const (
	// DefaultPageSize is how many products one catalog page shows.
	DefaultPageSize = 5
	// DefaultDeliveryWindow is the promised delivery window for courier orders.
	DefaultDeliveryWindow = time.Hour
	// DefaultEventTimeout bounds the handling of a single event.
	DefaultEventTimeout = 30 * time.Second
	// DefaultQueueSize is the per-chat event queue depth.
	DefaultQueueSize = 16
)

// Shop is the commerce surface the engine consumes. *elastic.Client
// implements it; tests substitute a fake.
type Shop interface {
	GetProducts(ctx context.Context, offset, limit int) (elastic.ProductPage, error)
	GetProduct(ctx context.Context, productID string) (elastic.Product, error)
	GetProductsByCategory(ctx context.Context, slug string) ([]elastic.Product, error)
	GetCategories(ctx context.Context) ([]elastic.Category, error)
	GetCartItems(ctx context.Context, cartID string) ([]elastic.CartItem, error)
	GetCartQuantity(ctx context.Context, cartID, productID string) (int, error)
	PutCartItem(ctx context.Context, cartID, productID string, quantity int) error
	DeleteCartItem(ctx context.Context, cartID, itemID string) error
	DeleteCart(ctx context.Context, cartID string) error
	GetCartTotal(ctx context.Context, cartID string) (elastic.Money, error)
	CreateOrder(ctx context.Context, cartID, profileEmail, profileName string) (string, error)
	PayOrder(ctx context.Context, orderID string) (string, error)
	ConfirmOrderPayment(ctx context.Context, orderID, transactionID string) error
	EnsureCustomer(ctx context.Context, email string) (string, error)
	GetPizzerias(ctx context.Context) ([]models.PizzeriaLocation, error)
	GetPizzeriaByAddress(ctx context.Context, address string) (*models.PizzeriaLocation, error)
	GetCustomerProfile(ctx context.Context, chat models.ChatID) (*models.CustomerProfile, error)
	SaveCustomerAddress(ctx context.Context, chat models.ChatID, address string, point models.GeoPoint, country, region, city string) error
	SaveCustomerPhone(ctx context.Context, chat models.ChatID, phone string) error
	SaveCustomerEmail(ctx context.Context, chat models.ChatID, email string) error
}

// Geocoder resolves addresses and coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.ResolvedAddress, error)
	ReverseGeocode(ctx context.Context, point models.GeoPoint) (geo.ResolvedAddress, error)
}

// Dispatching is the delivery-dispatcher surface the engine consumes.
type Dispatching interface {
	Schedule(jobCtx dispatch.JobContext)
	Cancel(customer models.ChatID)
	Active(customer models.ChatID) bool
	ScheduleReminder(customer models.ChatID)
}

// Engine routes normalized events through the conversation state machine.
// Events for the same chat are processed strictly in arrival order; events
// for different chats run concurrently.
type Engine struct {
	store      store.Store
	shop       Shop
	geocoder   Geocoder
	dispatcher Dispatching
	senders    models.SenderRegistry

	pageSize       int
	deliveryWindow time.Duration
	currency       string

	mu      sync.Mutex
	workers map[models.ChatID]chan models.Event
	wg      sync.WaitGroup
	closed  bool
}

// Opts holds engine configuration.
type Opts struct {
	PageSize       int
	DeliveryWindow time.Duration
	Currency       string
}

// Option configures the engine.
type Option func(*Opts)

// WithPageSize overrides the catalog page size.
func WithPageSize(n int) Option {
	return func(o *Opts) { o.PageSize = n }
}

// WithDeliveryWindow overrides the promised courier delivery window.
func WithDeliveryWindow(d time.Duration) Option {
	return func(o *Opts) { o.DeliveryWindow = d }
}

// WithCurrency overrides the invoice currency.
func WithCurrency(c string) Option {
	return func(o *Opts) { o.Currency = c }
}

// NewEngine creates the conversation engine.
func NewEngine(st store.Store, shop Shop, geocoder Geocoder, dispatcher Dispatching, senders models.SenderRegistry, opts ...Option) *Engine {
	cfg := Opts{PageSize: DefaultPageSize, DeliveryWindow: DefaultDeliveryWindow, Currency: "RUB"}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("bot.NewEngine: engine created", "page_size", cfg.PageSize, "delivery_window", cfg.DeliveryWindow)
	return &Engine{
		store:          st,
		shop:           shop,
		geocoder:       geocoder,
		dispatcher:     dispatcher,
		senders:        senders,
		pageSize:       cfg.PageSize,
		deliveryWindow: cfg.DeliveryWindow,
		currency:       cfg.Currency,
		workers:        make(map[models.ChatID]chan models.Event),
	}
}

// Dispatch enqueues an event onto the per-chat worker, creating the worker
// on first use. Per-chat workers serialize the read-modify-write of session
// state; separate chats proceed in parallel.
func (e *Engine) Dispatch(ev models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		slog.Warn("Engine Dispatch after shutdown, dropping event", "chat", ev.Chat, "type", ev.Type)
		return
	}
	queue, exists := e.workers[ev.Chat]
	if !exists {
		queue = make(chan models.Event, DefaultQueueSize)
		e.workers[ev.Chat] = queue
		e.wg.Add(1)
		go e.worker(ev.Chat, queue)
	}

	// The send stays under the lock so Stop cannot close the queue between
	// the closed check and the send. Workers never take the lock, so a full
	// queue drains while the send waits.
	queue <- ev
}

// Stop drains the per-chat workers and waits for in-flight events.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, queue := range e.workers {
		close(queue)
	}
	e.mu.Unlock()
	e.wg.Wait()
	slog.Info("Engine stopped")
}

func (e *Engine) worker(chat models.ChatID, queue <-chan models.Event) {
	defer e.wg.Done()
	for ev := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultEventTimeout)
		if err := e.HandleEvent(ctx, ev); err != nil {
			// A per-event failure never takes the process down; it is
			// surfaced for operators and the chat stays in its state so the
			// user's next attempt retries the same action.
			slog.Error("Engine event handling failed", "error", err, "chat", chat, "event_type", ev.Type)
		}
		cancel()
	}
}

// result is a handler's verdict: the next state, or a session teardown.
type result struct {
	next models.State
	// clear drops the whole session instead of persisting a next state;
	// the conversation resumes at the menu on the user's next message.
	clear bool
}

func stay(s models.State) result { return result{next: s} }

// HandleEvent processes one normalized event synchronously: load session,
// dispatch to the state handler, persist the resulting state.
func (e *Engine) HandleEvent(ctx context.Context, ev models.Event) error {
	slog.Debug("Engine HandleEvent", "chat", ev.Chat, "type", ev.Type)

	session, err := e.store.GetSession(ev.Chat)
	if err != nil {
		return err
	}
	now := time.Now()
	if session == nil {
		session = &models.ChatSession{Chat: ev.Chat, State: models.StateStart, CreatedAt: now}
	}

	// The reset command always forces the machine back to its entry node,
	// whatever state was stored.
	if isResetCommand(ev) {
		session.State = models.StateStart
	}

	res, err := e.dispatchState(ctx, session, ev)
	if err != nil {
		return err
	}

	if res.clear {
		if err := e.store.DeleteSession(ev.Chat); err != nil {
			return err
		}
		slog.Info("Engine session cleared", "chat", ev.Chat)
		return nil
	}

	session.State = res.next
	session.UpdatedAt = now
	if err := e.store.SaveSession(*session); err != nil {
		return err
	}
	slog.Debug("Engine HandleEvent succeeded", "chat", ev.Chat, "next_state", res.next)
	return nil
}

// dispatchState maps the session state to its handler. The state enum is
// closed: anything else is a programming error and fails loudly.
func (e *Engine) dispatchState(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	switch session.State {
	case models.StateStart:
		return e.handleStart(ctx, session, ev)
	case models.StateMenu:
		return e.handleMenu(ctx, session, ev)
	case models.StateDescription:
		return e.handleDescription(ctx, session, ev)
	case models.StateCart:
		return e.handleCart(ctx, session, ev)
	case models.StateCustomers:
		return e.handleCustomers(ctx, session, ev)
	case models.StateWaitingEmail:
		return e.handleWaitingEmail(ctx, session, ev)
	case models.StateWaitingPhone:
		return e.handleWaitingPhone(ctx, session, ev)
	case models.StateWaitingLocation:
		return e.handleWaitingLocation(ctx, session, ev)
	case models.StateDelivery:
		return e.handleDelivery(ctx, session, ev)
	case models.StatePayment:
		return e.handlePayment(ctx, session, ev)
	case models.StatePaymentWaiting:
		return e.handlePaymentWaiting(ctx, session, ev)
	case models.StateUpdateHandler:
		return e.handleUpdateHandler(ctx, session, ev)
	default:
		return result{}, fmt.Errorf("%w: %q for chat %s", models.ErrUnknownState, session.State, session.Chat)
	}
}

// isResetCommand reports whether the event is the /start reset command.
func isResetCommand(ev models.Event) bool {
	return ev.Type == models.EventText && strings.TrimSpace(ev.Text) == "/start"
}

// unexpected builds the classified error for a (state, event) pair outside
// the transition table.
func unexpected(session *models.ChatSession, ev models.Event) error {
	return fmt.Errorf("%w: state %s got %s event for chat %s",
		models.ErrUnexpectedEvent, session.State, ev.Type, session.Chat)
}

// senderFor resolves the outbound transport for a chat.
func (e *Engine) senderFor(chat models.ChatID) (models.Sender, error) {
	return e.senders.SenderFor(chat)
}

// deleteTrigger removes the message the handled button was attached to, so
// the chat shows only the freshest view. Failures are logged only; the stale
// message is cosmetic.
func (e *Engine) deleteTrigger(ctx context.Context, ev models.Event) {
	if ev.MessageID == 0 {
		return
	}
	sender, err := e.senderFor(ev.Chat)
	if err != nil {
		return
	}
	if err := sender.DeleteMessage(ctx, ev.Chat, ev.MessageID); err != nil && !errors.Is(err, models.ErrUnsupportedAction) {
		slog.Warn("Engine could not delete stale message", "error", err, "chat", ev.Chat, "message_id", ev.MessageID)
	}
}
