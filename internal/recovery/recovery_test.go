package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliceline/pizzabot/internal/dispatch"
	"github.com/sliceline/pizzabot/internal/models"
	"github.com/sliceline/pizzabot/internal/store"
)

type fakeShop struct {
	profiles  map[models.ChatID]*models.CustomerProfile
	pizzerias map[string]*models.PizzeriaLocation
}

func (s *fakeShop) GetCustomerProfile(ctx context.Context, chat models.ChatID) (*models.CustomerProfile, error) {
	return s.profiles[chat], nil
}

func (s *fakeShop) GetPizzeriaByAddress(ctx context.Context, address string) (*models.PizzeriaLocation, error) {
	if p, ok := s.pizzerias[address]; ok {
		return p, nil
	}
	return nil, errors.New("pizzeria not found")
}

type fakeDispatcher struct {
	scheduled []dispatch.JobContext
}

func (d *fakeDispatcher) Schedule(jobCtx dispatch.JobContext) {
	d.scheduled = append(d.scheduled, jobCtx)
}

func TestRecoverReschedulesCourierDeliveries(t *testing.T) {
	st := store.NewInMemoryStore()
	courier := models.NewChatID(models.TransportTelegram, "900")

	inFlight := models.NewChatID(models.TransportTelegram, "100")
	require.NoError(t, st.SaveSession(models.ChatSession{
		Chat: inFlight, State: models.StateUpdateHandler,
		Pending: &models.PendingDelivery{
			Kind: models.DeliveryCourier, PizzeriaKey: "ул. Тверская, 1",
			Deadline: time.Now().Add(30 * time.Minute),
		},
	}))

	// Pickup orders need no courier job.
	pickup := models.NewChatID(models.TransportTelegram, "200")
	require.NoError(t, st.SaveSession(models.ChatSession{
		Chat: pickup, State: models.StateUpdateHandler,
		Pending: &models.PendingDelivery{Kind: models.DeliveryPickup, PizzeriaKey: "ул. Тверская, 1"},
	}))

	// A chat still browsing the menu is not a delivery at all.
	browsing := models.NewChatID(models.TransportTelegram, "300")
	require.NoError(t, st.SaveSession(models.ChatSession{Chat: browsing, State: models.StateMenu}))

	shop := &fakeShop{
		profiles: map[models.ChatID]*models.CustomerProfile{
			inFlight: {CustomerKey: string(inFlight), Longitude: 37.63, Latitude: 55.76},
		},
		pizzerias: map[string]*models.PizzeriaLocation{
			"ул. Тверская, 1": {Address: "ул. Тверская, 1", OperatorChat: courier},
		},
	}
	dispatcher := &fakeDispatcher{}

	err := NewRecoverer(st, shop, dispatcher).Recover(context.Background())
	require.NoError(t, err)

	require.Len(t, dispatcher.scheduled, 1)
	job := dispatcher.scheduled[0]
	assert.Equal(t, inFlight, job.Customer)
	assert.Equal(t, courier, job.Courier)
	assert.Equal(t, models.GeoPoint{Longitude: 37.63, Latitude: 55.76}, job.CustomerPoint)
}

func TestRecoverSkipsBrokenRecords(t *testing.T) {
	st := store.NewInMemoryStore()
	courier := models.NewChatID(models.TransportTelegram, "900")

	// No profile on record for this chat.
	orphan := models.NewChatID(models.TransportTelegram, "100")
	require.NoError(t, st.SaveSession(models.ChatSession{
		Chat: orphan, State: models.StateUpdateHandler,
		Pending: &models.PendingDelivery{Kind: models.DeliveryCourier, PizzeriaKey: "ул. Тверская, 1"},
	}))

	// This one resolves fine and must still be recovered.
	healthy := models.NewChatID(models.TransportTelegram, "200")
	require.NoError(t, st.SaveSession(models.ChatSession{
		Chat: healthy, State: models.StateUpdateHandler,
		Pending: &models.PendingDelivery{Kind: models.DeliveryCourier, PizzeriaKey: "ул. Тверская, 1"},
	}))

	shop := &fakeShop{
		profiles: map[models.ChatID]*models.CustomerProfile{
			healthy: {CustomerKey: string(healthy)},
		},
		pizzerias: map[string]*models.PizzeriaLocation{
			"ул. Тверская, 1": {Address: "ул. Тверская, 1", OperatorChat: courier},
		},
	}
	dispatcher := &fakeDispatcher{}

	err := NewRecoverer(st, shop, dispatcher).Recover(context.Background())
	require.NoError(t, err)

	require.Len(t, dispatcher.scheduled, 1)
	assert.Equal(t, healthy, dispatcher.scheduled[0].Customer)
}
