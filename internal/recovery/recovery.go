// Package recovery restores delivery-dispatcher state after a restart.
// Courier jobs live only in process memory; the sessions table is the
// durable record, so on startup every session with an in-flight courier
// delivery gets its job rebuilt.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sliceline/pizzabot/internal/dispatch"
	"github.com/sliceline/pizzabot/internal/models"
	"github.com/sliceline/pizzabot/internal/store"
)

// Shop is the slice of the commerce client recovery needs to rebuild job
// contexts.
type Shop interface {
	GetCustomerProfile(ctx context.Context, chat models.ChatID) (*models.CustomerProfile, error)
	GetPizzeriaByAddress(ctx context.Context, address string) (*models.PizzeriaLocation, error)
}

// Dispatching is the dispatcher surface recovery drives.
type Dispatching interface {
	Schedule(jobCtx dispatch.JobContext)
}

// Recoverer rebuilds courier jobs from persisted sessions.
type Recoverer struct {
	store      store.Store
	shop       Shop
	dispatcher Dispatching
}

// NewRecoverer creates a Recoverer.
func NewRecoverer(st store.Store, shop Shop, dispatcher Dispatching) *Recoverer {
	return &Recoverer{store: st, shop: shop, dispatcher: dispatcher}
}

// Recover scans persisted sessions and reschedules a courier job for every
// in-flight courier delivery. A session whose profile or pizzeria can no
// longer be resolved is logged and skipped; one broken record must not block
// the rest of the recovery.
func (r *Recoverer) Recover(ctx context.Context) error {
	sessions, err := r.store.ListPendingDeliveries()
	if err != nil {
		return fmt.Errorf("failed to list pending deliveries: %w", err)
	}

	recovered := 0
	for _, session := range sessions {
		if session.Pending == nil || session.Pending.Kind != models.DeliveryCourier {
			continue
		}
		if err := r.recoverOne(ctx, session); err != nil {
			slog.Error("Recovery skipped courier delivery", "error", err, "chat", session.Chat)
			continue
		}
		recovered++
	}
	slog.Info("Recovery completed", "candidates", len(sessions), "recovered", recovered)
	return nil
}

func (r *Recoverer) recoverOne(ctx context.Context, session models.ChatSession) error {
	profile, err := r.shop.GetCustomerProfile(ctx, session.Chat)
	if err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("no customer profile for chat %s", session.Chat)
	}
	pizzeria, err := r.shop.GetPizzeriaByAddress(ctx, session.Pending.PizzeriaKey)
	if err != nil {
		return err
	}

	r.dispatcher.Schedule(dispatch.JobContext{
		Customer:      session.Chat,
		Courier:       pizzeria.OperatorChat,
		CustomerPoint: profile.Point(),
	})
	slog.Debug("Recovery rescheduled courier job", "customer", session.Chat,
		"courier", pizzeria.OperatorChat, "deadline", session.Pending.Deadline)
	return nil
}
