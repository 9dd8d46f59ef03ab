package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliceline/pizzabot/internal/dispatch"
	"github.com/sliceline/pizzabot/internal/elastic"
	"github.com/sliceline/pizzabot/internal/geo"
	"github.com/sliceline/pizzabot/internal/models"
	"github.com/sliceline/pizzabot/internal/store"
	"github.com/sliceline/pizzabot/internal/testutil"
)

// fakeShop is an in-memory commerce backend.
type fakeShop struct {
	products   []elastic.Product
	categories []elastic.Category
	carts      map[string]map[string]int // cartID -> productID -> quantity
	pizzerias  []models.PizzeriaLocation
	profiles   map[models.ChatID]*models.CustomerProfile

	ordersCreated int
	cartsDeleted  []string

	// block, when set, parks GetProducts until the channel is closed.
	block chan struct{}
}

func newFakeShop() *fakeShop {
	return &fakeShop{
		products: []elastic.Product{
			{ID: "p1", Name: "Пепперони", Description: "Острая", Price: elastic.Money{Amount: decimal.NewFromInt(550), Currency: "RUB"}},
			{ID: "p2", Name: "Маргарита", Description: "Классика", Price: elastic.Money{Amount: decimal.NewFromInt(450), Currency: "RUB"}},
		},
		carts:    map[string]map[string]int{},
		profiles: map[models.ChatID]*models.CustomerProfile{},
		pizzerias: []models.PizzeriaLocation{
			{
				Address:      "ул. Тверская, 1",
				Longitude:    37.62,
				Latitude:     55.75,
				OperatorChat: models.NewChatID(models.TransportTelegram, "900"),
			},
		},
	}
}

func (s *fakeShop) cart(cartID string) map[string]int {
	if s.carts[cartID] == nil {
		s.carts[cartID] = map[string]int{}
	}
	return s.carts[cartID]
}

func (s *fakeShop) GetProducts(ctx context.Context, offset, limit int) (elastic.ProductPage, error) {
	if s.block != nil {
		<-s.block
	}
	return elastic.ProductPage{Products: s.products, CurrentPage: 1, TotalPages: 1}, nil
}

func (s *fakeShop) GetProduct(ctx context.Context, productID string) (elastic.Product, error) {
	for _, product := range s.products {
		if product.ID == productID {
			return product, nil
		}
	}
	return elastic.Product{}, errors.New("product not found")
}

func (s *fakeShop) GetProductsByCategory(ctx context.Context, slug string) ([]elastic.Product, error) {
	return s.products, nil
}

func (s *fakeShop) GetCategories(ctx context.Context) ([]elastic.Category, error) {
	return s.categories, nil
}

func (s *fakeShop) GetCartItems(ctx context.Context, cartID string) ([]elastic.CartItem, error) {
	var items []elastic.CartItem
	for productID, quantity := range s.cart(cartID) {
		product, _ := s.GetProduct(ctx, productID)
		items = append(items, elastic.CartItem{
			ID:        "item-" + productID,
			ProductID: productID,
			Name:      product.Name,
			Quantity:  quantity,
			LineTotal: elastic.Money{Amount: product.Price.Amount.Mul(decimal.NewFromInt(int64(quantity)))},
		})
	}
	return items, nil
}

func (s *fakeShop) GetCartQuantity(ctx context.Context, cartID, productID string) (int, error) {
	return s.cart(cartID)[productID], nil
}

func (s *fakeShop) PutCartItem(ctx context.Context, cartID, productID string, quantity int) error {
	s.cart(cartID)[productID] = quantity
	return nil
}

func (s *fakeShop) DeleteCartItem(ctx context.Context, cartID, itemID string) error {
	for productID := range s.cart(cartID) {
		if "item-"+productID == itemID {
			delete(s.cart(cartID), productID)
		}
	}
	return nil
}

func (s *fakeShop) DeleteCart(ctx context.Context, cartID string) error {
	s.cartsDeleted = append(s.cartsDeleted, cartID)
	delete(s.carts, cartID)
	return nil
}

func (s *fakeShop) GetCartTotal(ctx context.Context, cartID string) (elastic.Money, error) {
	total := decimal.Zero
	for productID, quantity := range s.cart(cartID) {
		product, _ := s.GetProduct(ctx, productID)
		total = total.Add(product.Price.Amount.Mul(decimal.NewFromInt(int64(quantity))))
	}
	return elastic.Money{Amount: total, Currency: "RUB", Formatted: total.String() + " RUB"}, nil
}

func (s *fakeShop) CreateOrder(ctx context.Context, cartID, profileEmail, profileName string) (string, error) {
	s.ordersCreated++
	return "order-1", nil
}

func (s *fakeShop) PayOrder(ctx context.Context, orderID string) (string, error) {
	return "tx-1", nil
}

func (s *fakeShop) ConfirmOrderPayment(ctx context.Context, orderID, transactionID string) error {
	return nil
}

func (s *fakeShop) EnsureCustomer(ctx context.Context, email string) (string, error) {
	return "cust-1", nil
}

func (s *fakeShop) GetPizzerias(ctx context.Context) ([]models.PizzeriaLocation, error) {
	return s.pizzerias, nil
}

func (s *fakeShop) GetPizzeriaByAddress(ctx context.Context, address string) (*models.PizzeriaLocation, error) {
	for i := range s.pizzerias {
		if s.pizzerias[i].Address == address {
			return &s.pizzerias[i], nil
		}
	}
	return nil, errors.New("pizzeria not found")
}

func (s *fakeShop) GetCustomerProfile(ctx context.Context, chat models.ChatID) (*models.CustomerProfile, error) {
	return s.profiles[chat], nil
}

func (s *fakeShop) profile(chat models.ChatID) *models.CustomerProfile {
	if s.profiles[chat] == nil {
		s.profiles[chat] = &models.CustomerProfile{CustomerKey: string(chat)}
	}
	return s.profiles[chat]
}

func (s *fakeShop) SaveCustomerAddress(ctx context.Context, chat models.ChatID, address string, point models.GeoPoint, country, region, city string) error {
	profile := s.profile(chat)
	profile.Address = address
	profile.Longitude = point.Longitude
	profile.Latitude = point.Latitude
	return nil
}

func (s *fakeShop) SaveCustomerPhone(ctx context.Context, chat models.ChatID, phone string) error {
	s.profile(chat).Phone = phone
	return nil
}

func (s *fakeShop) SaveCustomerEmail(ctx context.Context, chat models.ChatID, email string) error {
	s.profile(chat).Email = email
	return nil
}

// fakeGeocoder resolves every address to a fixed point.
type fakeGeocoder struct {
	point models.GeoPoint
	fail  bool
}

func (g *fakeGeocoder) Geocode(ctx context.Context, address string) (geo.ResolvedAddress, error) {
	if g.fail {
		return geo.ResolvedAddress{}, models.ErrAddressNotFound
	}
	return geo.ResolvedAddress{Text: address, Point: g.point, Country: "Россия", City: "Москва"}, nil
}

func (g *fakeGeocoder) ReverseGeocode(ctx context.Context, point models.GeoPoint) (geo.ResolvedAddress, error) {
	return geo.ResolvedAddress{Text: "обратный адрес", Point: point}, nil
}

// fakeDispatcher records scheduling calls.
type fakeDispatcher struct {
	scheduled []dispatch.JobContext
	cancelled []models.ChatID
	reminders []models.ChatID
}

func (d *fakeDispatcher) Schedule(jobCtx dispatch.JobContext) {
	d.scheduled = append(d.scheduled, jobCtx)
}

func (d *fakeDispatcher) Cancel(customer models.ChatID) {
	d.cancelled = append(d.cancelled, customer)
}

func (d *fakeDispatcher) Active(customer models.ChatID) bool {
	for _, job := range d.scheduled {
		if job.Customer == customer {
			return true
		}
	}
	return false
}

func (d *fakeDispatcher) ScheduleReminder(customer models.ChatID) {
	d.reminders = append(d.reminders, customer)
}

type fixture struct {
	engine     *Engine
	store      store.Store
	shop       *fakeShop
	geocoder   *fakeGeocoder
	dispatcher *fakeDispatcher
	sender     *testutil.FakeSender
	customer   models.ChatID
	courier    models.ChatID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	shop := newFakeShop()
	geocoder := &fakeGeocoder{point: models.GeoPoint{Longitude: 37.63, Latitude: 55.76}}
	dispatcher := &fakeDispatcher{}
	sender := testutil.NewFakeSender()

	engine := NewEngine(st, shop, geocoder, dispatcher, testutil.SingleSenderRegistry{Sender: sender})
	return &fixture{
		engine:     engine,
		store:      st,
		shop:       shop,
		geocoder:   geocoder,
		dispatcher: dispatcher,
		sender:     sender,
		customer:   models.NewChatID(models.TransportTelegram, "100"),
		courier:    models.NewChatID(models.TransportTelegram, "900"),
	}
}

func (f *fixture) handle(t *testing.T, ev models.Event) {
	t.Helper()
	require.NoError(t, f.engine.HandleEvent(context.Background(), ev))
}

func (f *fixture) state(t *testing.T, chat models.ChatID) models.State {
	t.Helper()
	session, err := f.store.GetSession(chat)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session.State
}

func (f *fixture) text(chat models.ChatID, text string) models.Event {
	return models.Event{Type: models.EventText, Chat: chat, Text: text}
}

func (f *fixture) button(chat models.ChatID, payload models.ButtonPayload) models.Event {
	return models.Event{Type: models.EventButton, Chat: chat, ButtonID: "cb-1", Button: payload.Encode(), MessageID: 10}
}

func (f *fixture) seedSession(t *testing.T, session models.ChatSession) {
	t.Helper()
	require.NoError(t, f.store.SaveSession(session))
}

func TestFirstMessageShowsCatalog(t *testing.T) {
	f := newFixture(t)

	f.handle(t, f.text(f.customer, "привет"))

	assert.Equal(t, models.StateMenu, f.state(t, f.customer))
	last := f.sender.Last()
	assert.Equal(t, "buttons", last.Kind)
	// Two products, a cart row, no pager on a single page.
	assert.Len(t, last.Keyboard, 3)
}

func TestMessengerCatalogShowsCategories(t *testing.T) {
	f := newFixture(t)
	f.shop.categories = []elastic.Category{
		{ID: "c1", Name: "Острые", Slug: "spicy"},
		{ID: "c2", Name: "Сытные", Slug: "hearty"},
	}
	fbChat := models.NewChatID(models.TransportMessenger, "711")

	f.handle(t, f.text(fbChat, "привет"))

	last := f.sender.Last()
	// Two product rows, one category row, the cart row.
	require.Len(t, last.Keyboard, 4)
	categoryRow := last.Keyboard[2]
	require.Len(t, categoryRow, 2)
	payload, err := models.ParseButtonPayload(categoryRow[0].Data)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCategory, payload.Action)
	assert.Equal(t, "spicy", payload.Category)
}

func TestStartCommandResetsAnyState(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{Chat: f.customer, State: models.StateCart})

	f.handle(t, f.text(f.customer, "/start"))

	assert.Equal(t, models.StateMenu, f.state(t, f.customer))
}

func TestAddToCartTwiceIncrementsQuantity(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{Chat: f.customer, State: models.StateDescription})

	add := f.button(f.customer, models.ButtonPayload{Action: models.ActionAddToCart, ProductID: "p1"})
	f.handle(t, add)
	f.handle(t, add)

	assert.Equal(t, models.StateDescription, f.state(t, f.customer))
	assert.Equal(t, 2, f.shop.carts[string(f.customer)]["p1"])
}

func TestMenuRejectsTextEvents(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{Chat: f.customer, State: models.StateMenu})

	err := f.engine.HandleEvent(context.Background(), f.text(f.customer, "хочу пиццу"))
	assert.ErrorIs(t, err, models.ErrUnexpectedEvent)
	// The state must not move on a rejected event.
	assert.Equal(t, models.StateMenu, f.state(t, f.customer))
}

func TestWaitingEmail(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{Chat: f.customer, State: models.StateWaitingEmail})

	f.handle(t, f.text(f.customer, "не почта"))
	assert.Equal(t, models.StateWaitingEmail, f.state(t, f.customer))

	f.handle(t, f.text(f.customer, "ivan@example.com"))
	assert.Equal(t, models.StateCustomers, f.state(t, f.customer))
	assert.Equal(t, "ivan@example.com", f.shop.profiles[f.customer].Email)
}

func TestWaitingPhone(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{Chat: f.customer, State: models.StateWaitingPhone})

	f.handle(t, f.text(f.customer, "12345"))
	assert.Equal(t, models.StateWaitingPhone, f.state(t, f.customer))

	f.handle(t, f.text(f.customer, "+7 999 123-45-67"))
	assert.Equal(t, models.StateCustomers, f.state(t, f.customer))
	assert.Equal(t, "+79991234567", f.shop.profiles[f.customer].Phone)
}

func TestWaitingLocationResolvesNearestPizzeria(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{Chat: f.customer, State: models.StateWaitingLocation})

	f.handle(t, f.text(f.customer, "Тверская 6"))

	session, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Equal(t, models.StateDelivery, session.State)
	assert.Equal(t, "ул. Тверская, 1", session.NearestPizzeria)
	assert.Equal(t, "Тверская 6", f.shop.profiles[f.customer].Address)
}

func TestWaitingLocationRepromptsOnBadAddress(t *testing.T) {
	f := newFixture(t)
	f.geocoder.fail = true
	f.seedSession(t, models.ChatSession{Chat: f.customer, State: models.StateWaitingLocation})

	f.handle(t, f.text(f.customer, "ыфваыфва"))

	assert.Equal(t, models.StateWaitingLocation, f.state(t, f.customer))
	assert.Equal(t, textBadAddress, f.sender.Last().Text)
}

func TestDeliveryCourierChoice(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StateDelivery, NearestPizzeria: "ул. Тверская, 1",
	})

	before := time.Now()
	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionDeliveryCourier, Fee: 100}))

	session, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Equal(t, models.StatePayment, session.State)
	require.NotNil(t, session.Pending)
	assert.Equal(t, models.DeliveryCourier, session.Pending.Kind)
	assert.Equal(t, int64(100), session.Pending.Price)
	assert.WithinRange(t, session.Pending.Deadline, before.Add(time.Hour), time.Now().Add(time.Hour))
	assert.Equal(t, []models.ChatID{f.customer}, f.dispatcher.reminders)
}

func TestDeliveryPickupChoice(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StateDelivery, NearestPizzeria: "ул. Тверская, 1",
	})

	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionDeliveryPickup}))

	session, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Equal(t, models.StatePayment, session.State)
	require.NotNil(t, session.Pending)
	assert.Equal(t, models.DeliveryPickup, session.Pending.Kind)
	// The pickup flow drops a pin on the pizzeria.
	require.Len(t, f.sender.OfKind("location"), 1)
}

func TestPayCashSchedulesCourierJob(t *testing.T) {
	f := newFixture(t)
	f.shop.profile(f.customer).Email = "ivan@example.com"
	f.shop.cart(string(f.customer))["p1"] = 1
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StatePayment,
		Pending: &models.PendingDelivery{
			Kind: models.DeliveryCourier, Price: 100,
			PizzeriaKey: "ул. Тверская, 1",
			Deadline:    time.Now().Add(time.Hour),
		},
	})

	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionPayCash}))

	session, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Equal(t, models.StateUpdateHandler, session.State)
	assert.Equal(t, "order-1", session.LastOrderID)
	assert.True(t, session.Pending.Cash)
	assert.Equal(t, 1, f.shop.ordersCreated)

	require.Len(t, f.dispatcher.scheduled, 1)
	job := f.dispatcher.scheduled[0]
	assert.Equal(t, f.customer, job.Customer)
	assert.Equal(t, f.courier, job.Courier)

	// The operator chat was moved into courier mode.
	assert.Equal(t, models.StateUpdateHandler, f.state(t, f.courier))
}

func TestPayCashFinalizesPickupOrder(t *testing.T) {
	f := newFixture(t)
	f.shop.profile(f.customer).Email = "ivan@example.com"
	f.shop.cart(string(f.customer))["p1"] = 2
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StatePayment,
		Pending: &models.PendingDelivery{Kind: models.DeliveryPickup, PizzeriaKey: "ул. Тверская, 1"},
	})

	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionPayCash}))

	assert.Equal(t, 1, f.shop.ordersCreated)
	assert.Equal(t, []string{string(f.customer)}, f.shop.cartsDeleted)
	// No courier leg on a pickup order.
	assert.Empty(t, f.dispatcher.scheduled)

	// The order cycle is over: the session is gone and the next message
	// starts a fresh conversation at the menu.
	session, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Nil(t, session)

	f.handle(t, f.text(f.customer, "привет"))
	assert.Equal(t, models.StateMenu, f.state(t, f.customer))
}

func TestPaymentMenuOmitsCardWithoutInvoiceSupport(t *testing.T) {
	f := newFixture(t)
	f.sender.NoInvoices = true
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StateDelivery,
		NearestPizzeria: "ул. Тверская, 1",
	})

	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionDeliveryPickup}))

	menus := f.sender.OfKind("buttons")
	require.NotEmpty(t, menus)
	payment := menus[len(menus)-1]
	require.Len(t, payment.Keyboard, 1)
	require.Len(t, payment.Keyboard[0], 1)
	assert.Equal(t, models.ButtonPayload{Action: models.ActionPayCash}.Encode(), payment.Keyboard[0][0].Data)
}

func TestPayCardIssuesTaggedInvoice(t *testing.T) {
	f := newFixture(t)
	f.shop.cart(string(f.customer))["p1"] = 2
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StatePayment,
		Pending: &models.PendingDelivery{Kind: models.DeliveryCourier, Price: 100},
	})

	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionPayCard}))

	session, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Equal(t, models.StatePaymentWaiting, session.State)
	require.NotEmpty(t, session.InvoiceTag)

	invoices := f.sender.OfKind("invoice")
	require.Len(t, invoices, 1)
	invoice := invoices[0].Invoice
	assert.Equal(t, session.InvoiceTag, invoice.Tag)
	require.Len(t, invoice.Items, 2)
	// 2 x 550 RUB pizza in minor units, plus the 100 RUB courier fee.
	assert.Equal(t, int64(110000), invoice.Items[0].Amount)
	assert.Equal(t, int64(10000), invoice.Items[1].Amount)
}

func TestPrecheckValidatesInvoiceTag(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StatePaymentWaiting, InvoiceTag: "tag-good",
	})

	mismatch := models.Event{
		Type: models.EventPaymentPrecheck, Chat: f.customer,
		Payment: &models.PaymentEvent{PrecheckID: "pc-1", InvoiceTag: "tag-evil"},
	}
	err := f.engine.HandleEvent(context.Background(), mismatch)
	assert.ErrorIs(t, err, models.ErrInvoiceTagMismatch)
	assert.Equal(t, []bool{false}, f.sender.Precheck)
	assert.Equal(t, models.StatePaymentWaiting, f.state(t, f.customer))

	good := models.Event{
		Type: models.EventPaymentPrecheck, Chat: f.customer,
		Payment: &models.PaymentEvent{PrecheckID: "pc-2", InvoiceTag: "tag-good"},
	}
	f.handle(t, good)
	assert.Equal(t, []bool{false, true}, f.sender.Precheck)
	assert.Equal(t, models.StatePayment, f.state(t, f.customer))
}

func TestPaymentSuccessRecordsOrder(t *testing.T) {
	f := newFixture(t)
	f.shop.profile(f.customer).Email = "ivan@example.com"
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StatePayment,
		Pending: &models.PendingDelivery{
			Kind: models.DeliveryCourier, Price: 100,
			PizzeriaKey: "ул. Тверская, 1",
			Deadline:    time.Now().Add(time.Hour),
		},
	})

	f.handle(t, models.Event{
		Type: models.EventPaymentSuccess, Chat: f.customer,
		Payment: &models.PaymentEvent{InvoiceTag: "tag-good", TotalAmount: 110000, Currency: "RUB"},
	})

	session, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Equal(t, models.StateUpdateHandler, session.State)
	assert.False(t, session.Pending.Cash)
	assert.Equal(t, 1, f.shop.ordersCreated)
	assert.Len(t, f.dispatcher.scheduled, 1)
}

func TestCourierConfirmationFlow(t *testing.T) {
	f := newFixture(t)
	f.shop.cart(string(f.customer))["p1"] = 1
	f.seedSession(t, models.ChatSession{Chat: f.courier, State: models.StateUpdateHandler})
	f.seedSession(t, models.ChatSession{
		Chat: f.customer, State: models.StateUpdateHandler,
		Pending: &models.PendingDelivery{Kind: models.DeliveryCourier, PizzeriaKey: "ул. Тверская, 1"},
	})
	require.NoError(t, f.store.SaveCourierMessage(f.courier, f.customer, 77))

	// The delivered button asks for a double check first.
	f.handle(t, f.button(f.courier, models.ButtonPayload{Action: models.ActionCourierDelivered, Target: f.customer}))
	assert.Equal(t, textConfirmCourier, f.sender.Last().Text)

	// "Нет" keeps everything running.
	f.handle(t, f.button(f.courier, models.ButtonPayload{Action: models.ActionCourierNo, Target: f.customer}))
	assert.Empty(t, f.dispatcher.cancelled)

	// "Да" tears the delivery down.
	f.handle(t, f.button(f.courier, models.ButtonPayload{Action: models.ActionCourierYes, Target: f.customer}))
	assert.Equal(t, []models.ChatID{f.customer}, f.dispatcher.cancelled)
	assert.Equal(t, []string{string(f.customer)}, f.shop.cartsDeleted)

	customerSession, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Nil(t, customerSession, "customer session should be cleared")

	id, err := f.store.GetCourierMessage(f.courier, f.customer)
	require.NoError(t, err)
	assert.Zero(t, id)

	// The courier chat stays in courier mode for further deliveries.
	assert.Equal(t, models.StateUpdateHandler, f.state(t, f.courier))
}

func TestFullOrderScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Browse the catalog and open a product card.
	f.handle(t, f.text(f.customer, "/start"))
	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionProduct, ProductID: "p1"}))
	assert.Equal(t, models.StateDescription, f.state(t, f.customer))

	// Add it twice, then check out.
	add := f.button(f.customer, models.ButtonPayload{Action: models.ActionAddToCart, ProductID: "p1"})
	f.handle(t, add)
	f.handle(t, add)
	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionShowCart}))
	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionCheckout}))
	assert.Equal(t, models.StateCustomers, f.state(t, f.customer))

	// Leave an email, then continue to the address.
	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionAskEmail}))
	f.handle(t, f.text(f.customer, "ivan@example.com"))
	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionContinue}))
	assert.Equal(t, models.StateWaitingLocation, f.state(t, f.customer))

	// Share a location, pick courier delivery, pay cash.
	f.handle(t, models.Event{
		Type: models.EventLocation, Chat: f.customer,
		Location: &models.GeoPoint{Longitude: 37.63, Latitude: 55.76},
	})
	assert.Equal(t, models.StateDelivery, f.state(t, f.customer))

	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionDeliveryCourier, Fee: 100}))
	f.handle(t, f.button(f.customer, models.ButtonPayload{Action: models.ActionPayCash}))
	assert.Equal(t, models.StateUpdateHandler, f.state(t, f.customer))
	require.Len(t, f.dispatcher.scheduled, 1)

	// The courier confirms; everything is cleaned up and the next message
	// starts a fresh conversation.
	f.handle(t, f.button(f.courier, models.ButtonPayload{Action: models.ActionCourierYes, Target: f.customer}))
	session, err := f.store.GetSession(f.customer)
	require.NoError(t, err)
	assert.Nil(t, session)

	require.NoError(t, f.engine.HandleEvent(ctx, f.text(f.customer, "привет")))
	assert.Equal(t, models.StateMenu, f.state(t, f.customer))
}

func TestStopWaitsOutBusyDispatch(t *testing.T) {
	f := newFixture(t)
	f.shop.block = make(chan struct{})

	// Occupy the worker with a handler stuck in the shop, then fill its
	// queue to the brim.
	ev := f.text(f.customer, "привет")
	for i := 0; i < DefaultQueueSize+1; i++ {
		f.engine.Dispatch(ev)
	}

	// One more event has no queue slot left; its send parks until the
	// worker drains.
	parked := make(chan struct{})
	go func() {
		f.engine.Dispatch(ev)
		close(parked)
	}()

	stopped := make(chan struct{})
	go func() {
		f.engine.Stop()
		close(stopped)
	}()

	// Stop must not finish while the worker is still stuck with queued work.
	select {
	case <-stopped:
		t.Fatal("Stop returned with events still queued")
	case <-time.After(50 * time.Millisecond):
	}

	// Unblock the shop; both the parked dispatch and Stop must complete
	// without a send-on-closed-channel panic.
	close(f.shop.block)
	select {
	case <-parked:
	case <-time.After(5 * time.Second):
		t.Fatal("queued Dispatch never completed")
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never completed")
	}
}
