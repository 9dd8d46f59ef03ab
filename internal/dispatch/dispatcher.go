// Package dispatch implements the delivery dispatcher: the repeating courier
// notification job that keeps a staff chat updated about an in-flight
// delivery until the courier confirms it or the delivery window runs out.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sliceline/pizzabot/internal/elastic"
	"github.com/sliceline/pizzabot/internal/models"
	"github.com/sliceline/pizzabot/internal/store"
)

// Dispatcher configuration constants
const (
	// DefaultTickInterval is how often a courier notification is refreshed.
	DefaultTickInterval = 60 * time.Second
	// DefaultReminderDelay is when the customer's post-order reminder fires.
	DefaultReminderDelay = 60 * time.Second
	// tickTimeout bounds the commerce and transport calls of one tick.
	tickTimeout = 10 * time.Second
)

// Shop is the slice of the commerce client a tick needs to render the order
// summary. *elastic.Client implements it; tests substitute a fake.
type Shop interface {
	GetCartItems(ctx context.Context, cartID string) ([]elastic.CartItem, error)
	GetCartTotal(ctx context.Context, cartID string) (elastic.Money, error)
}

// JobContext is the immutable identity of one courier job. Mutable delivery
// metadata (price, cash flag, deadline) is re-read from the state store on
// every tick rather than captured here.
type JobContext struct {
	Customer      models.ChatID
	Courier       models.ChatID
	CustomerPoint models.GeoPoint
}

type courierJob struct {
	ctx    JobContext
	cancel chan struct{}
}

// Dispatcher owns the courier notification jobs, at most one per customer
// chat with an unconfirmed courier delivery.
type Dispatcher struct {
	store   store.Store
	shop    Shop
	senders models.SenderRegistry
	timer   *SimpleTimer

	interval      time.Duration
	reminderDelay time.Duration

	mu        sync.Mutex
	jobs      map[models.ChatID]*courierJob
	reminders map[models.ChatID]string

	wg sync.WaitGroup
}

// Opts holds dispatcher configuration.
type Opts struct {
	TickInterval  time.Duration
	ReminderDelay time.Duration
}

// Option configures the dispatcher.
type Option func(*Opts)

// WithTickInterval overrides the notification refresh interval.
func WithTickInterval(d time.Duration) Option {
	return func(o *Opts) { o.TickInterval = d }
}

// WithReminderDelay overrides the customer reminder delay.
func WithReminderDelay(d time.Duration) Option {
	return func(o *Opts) { o.ReminderDelay = d }
}

// NewDispatcher creates a delivery dispatcher.
func NewDispatcher(st store.Store, shop Shop, senders models.SenderRegistry, opts ...Option) *Dispatcher {
	cfg := Opts{TickInterval: DefaultTickInterval, ReminderDelay: DefaultReminderDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("dispatch.NewDispatcher: dispatcher created", "tick_interval", cfg.TickInterval)
	return &Dispatcher{
		store:         st,
		shop:          shop,
		senders:       senders,
		timer:         NewSimpleTimer(),
		interval:      cfg.TickInterval,
		reminderDelay: cfg.ReminderDelay,
		jobs:          make(map[models.ChatID]*courierJob),
		reminders:     make(map[models.ChatID]string),
	}
}

// Schedule starts the repeating courier notification job for a delivery.
// Scheduling an already-scheduled customer is a no-op, preserving the
// one-job-per-delivery invariant.
func (d *Dispatcher) Schedule(jobCtx JobContext) {
	d.mu.Lock()
	if _, exists := d.jobs[jobCtx.Customer]; exists {
		d.mu.Unlock()
		slog.Debug("Dispatcher Schedule: job already active", "customer", jobCtx.Customer)
		return
	}
	job := &courierJob{ctx: jobCtx, cancel: make(chan struct{})}
	d.jobs[jobCtx.Customer] = job
	d.mu.Unlock()

	slog.Info("Dispatcher scheduled courier job", "customer", jobCtx.Customer, "courier", jobCtx.Courier)

	d.wg.Add(1)
	go d.run(job)
}

// Cancel stops the courier job for a customer chat and forgets its reminder.
// Cancelling with no active job is a no-op.
func (d *Dispatcher) Cancel(customer models.ChatID) {
	d.mu.Lock()
	job, exists := d.jobs[customer]
	if exists {
		delete(d.jobs, customer)
	}
	reminderID, hasReminder := d.reminders[customer]
	if hasReminder {
		delete(d.reminders, customer)
	}
	d.mu.Unlock()

	if exists {
		close(job.cancel)
		slog.Info("Dispatcher cancelled courier job", "customer", customer)
	}
	if hasReminder {
		d.timer.Cancel(reminderID)
	}
}

// Active reports whether a courier job is currently scheduled for a chat.
func (d *Dispatcher) Active(customer models.ChatID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.jobs[customer]
	return exists
}

// ScheduleReminder schedules the one-shot post-order reminder to the
// customer. A previously scheduled reminder for the same chat is replaced.
func (d *Dispatcher) ScheduleReminder(customer models.ChatID) {
	d.mu.Lock()
	if prev, exists := d.reminders[customer]; exists {
		d.timer.Cancel(prev)
	}
	d.mu.Unlock()

	id := d.timer.ScheduleAfter(d.reminderDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		defer cancel()
		sender, err := d.senders.SenderFor(customer)
		if err != nil {
			slog.Error("Dispatcher reminder: no sender for chat", "error", err, "customer", customer)
			return
		}
		text := "Приятного аппетита!\n\nЕсли у вас еще нет пиццы, мы обязательно скоро привезем ее!"
		if _, err := sender.SendText(ctx, customer, text); err != nil {
			slog.Error("Dispatcher reminder send failed", "error", err, "customer", customer)
		}
		d.mu.Lock()
		delete(d.reminders, customer)
		d.mu.Unlock()
	})

	d.mu.Lock()
	d.reminders[customer] = id
	d.mu.Unlock()
}

// Stop cancels every job and waits for running ticks to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	for customer, job := range d.jobs {
		close(job.cancel)
		delete(d.jobs, customer)
	}
	d.mu.Unlock()
	d.timer.Stop()
	d.wg.Wait()
	slog.Info("Dispatcher stopped")
}

// run drives one courier job: an immediate tick, then one every interval,
// until the job is descheduled or cancelled.
func (d *Dispatcher) run(job *courierJob) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	if done := d.tick(job); done {
		d.remove(job.ctx.Customer)
		return
	}
	for {
		select {
		case <-job.cancel:
			return
		case <-ticker.C:
			if done := d.tick(job); done {
				d.remove(job.ctx.Customer)
				return
			}
		}
	}
}

func (d *Dispatcher) remove(customer models.ChatID) {
	d.mu.Lock()
	delete(d.jobs, customer)
	d.mu.Unlock()
}

// tick sends or edits the courier notification once. It returns true when
// the job should deschedule itself (delivery window expired or the order is
// gone). Send and edit failures are logged and retried implicitly by the
// next tick.
func (d *Dispatcher) tick(job *courierJob) bool {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	customer, courier := job.ctx.Customer, job.ctx.Courier

	// The state store is the source of truth for price, cash flag and
	// deadline; never trust a copy older than one tick.
	session, err := d.store.GetSession(customer)
	if err != nil {
		slog.Error("Dispatcher tick: session read failed", "error", err, "customer", customer)
		return false
	}
	if session == nil || session.Pending == nil {
		slog.Info("Dispatcher tick: order gone, descheduling", "customer", customer)
		return true
	}
	pending := session.Pending

	sender, err := d.senders.SenderFor(courier)
	if err != nil {
		slog.Error("Dispatcher tick: no sender for courier chat", "error", err, "courier", courier)
		return false
	}

	summary, err := d.cartSummary(ctx, customer, pending)
	if err != nil {
		slog.Error("Dispatcher tick: cart summary failed", "error", err, "customer", customer)
		return false
	}

	remaining := time.Until(pending.Deadline)
	overdue := remaining <= 0

	var text string
	if overdue {
		text = summary + "\nДоставка просрочена"
	} else {
		text = fmt.Sprintf("%s\nДоставить через %d минут", summary, int(remaining.Minutes()))
	}

	keyboard := models.Keyboard{{{
		Label: "Доставлен!",
		Data:  models.ButtonPayload{Action: models.ActionCourierDelivered, Target: customer}.Encode(),
	}}}

	messageID, err := d.store.GetCourierMessage(courier, customer)
	if err != nil {
		slog.Error("Dispatcher tick: courier message lookup failed", "error", err, "customer", customer)
		return false
	}

	if messageID == 0 {
		if _, err := sender.SendLocation(ctx, courier, job.ctx.CustomerPoint); err != nil {
			slog.Error("Dispatcher tick: location send failed", "error", err, "courier", courier)
			return false
		}
		sentID, err := sender.SendButtons(ctx, courier, text, keyboard)
		if err != nil {
			slog.Error("Dispatcher tick: notification send failed", "error", err, "courier", courier)
			return false
		}
		if err := d.store.SaveCourierMessage(courier, customer, sentID); err != nil {
			slog.Error("Dispatcher tick: courier message save failed", "error", err, "customer", customer)
		}
		slog.Info("Dispatcher sent courier notification", "courier", courier, "customer", customer, "message_id", sentID)
	} else {
		if err := sender.EditMessage(ctx, courier, messageID, text, keyboard); err != nil {
			// The message may have been deleted by staff; keep ticking, the
			// repeating schedule provides its own retry.
			slog.Error("Dispatcher tick: notification edit failed", "error", err, "courier", courier, "message_id", messageID)
			return false
		}
	}

	if overdue {
		slog.Warn("Dispatcher delivery window expired", "customer", customer, "deadline", pending.Deadline)
		return true
	}
	return false
}

// cartSummary renders the courier-facing order summary: cart lines, order
// total, delivery fee and payment mode.
func (d *Dispatcher) cartSummary(ctx context.Context, customer models.ChatID, pending *models.PendingDelivery) (string, error) {
	items, err := d.shop.GetCartItems(ctx, string(customer))
	if err != nil {
		return "", err
	}
	total, err := d.shop.GetCartTotal(ctx, string(customer))
	if err != nil {
		return "", err
	}

	var lines []string
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s - %d шт. на сумму: %s", item.Name, item.Quantity, item.LineTotal.Formatted))
	}
	lines = append(lines, fmt.Sprintf("Сумма заказа: %s", total.Formatted))
	if pending.Price > 0 {
		lines = append(lines, fmt.Sprintf("Доставка %d %s", pending.Price, total.Currency))
	}
	if pending.Cash {
		lines = append(lines, "Наличными при получении")
	}
	return strings.Join(lines, "\n"), nil
}
