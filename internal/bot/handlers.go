package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sliceline/pizzabot/internal/dispatch"
	"github.com/sliceline/pizzabot/internal/geo"
	"github.com/sliceline/pizzabot/internal/models"
)

// decimalHundred converts major currency units to the minor units the
// transport payment APIs expect.
var decimalHundred = decimal.NewFromInt(100)

// handleStart greets any event with the first catalog page.
func (e *Engine) handleStart(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	if session.PageCursor < 1 {
		session.PageCursor = 1
	}
	if err := e.showCatalog(ctx, session.Chat, session.PageCursor); err != nil {
		return result{}, err
	}
	e.deleteTrigger(ctx, ev)
	return stay(models.StateMenu), nil
}

// handleMenu reacts to catalog-page buttons.
func (e *Engine) handleMenu(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	payload, err := e.buttonPayload(ctx, session, ev)
	if err != nil {
		return result{}, err
	}

	switch payload.Action {
	case models.ActionShowCart:
		if err := e.showCart(ctx, session.Chat); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateCart), nil

	case models.ActionPage:
		session.PageCursor = payload.Page
		if err := e.showCatalog(ctx, session.Chat, payload.Page); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateMenu), nil

	case models.ActionProduct:
		if err := e.showProductCard(ctx, session.Chat, payload.ProductID); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateDescription), nil

	case models.ActionCategory:
		if err := e.showCategory(ctx, session.Chat, payload.Category); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateMenu), nil

	default:
		return result{}, unexpected(session, ev)
	}
}

// showCategory renders a filtered product list for one category.
func (e *Engine) showCategory(ctx context.Context, chat models.ChatID, slug string) error {
	products, err := e.shop.GetProductsByCategory(ctx, slug)
	if err != nil {
		return fmt.Errorf("failed to load category %q: %w", slug, err)
	}
	var kb models.Keyboard
	for _, product := range products {
		kb = append(kb, []models.Button{{
			Label: product.Name,
			Data:  models.ButtonPayload{Action: models.ActionProduct, ProductID: product.ID}.Encode(),
		}})
	}
	kb = append(kb, []models.Button{{
		Label: "Корзина",
		Data:  models.ButtonPayload{Action: models.ActionShowCart}.Encode(),
	}})
	sender, err := e.senderFor(chat)
	if err != nil {
		return err
	}
	_, err = sender.SendButtons(ctx, chat, textChooseProduct, kb)
	return err
}

// handleDescription reacts to product-card buttons. Adding to the cart keeps
// the card on screen so the user can add more.
func (e *Engine) handleDescription(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	payload, err := e.buttonPayload(ctx, session, ev)
	if err != nil {
		return result{}, err
	}

	switch payload.Action {
	case models.ActionBackToMenu:
		if err := e.showCatalog(ctx, session.Chat, session.PageCursor); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateMenu), nil

	case models.ActionShowCart:
		if err := e.showCart(ctx, session.Chat); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateCart), nil

	case models.ActionAddToCart:
		cartID := string(session.Chat)
		quantity, err := e.shop.GetCartQuantity(ctx, cartID, payload.ProductID)
		if err != nil {
			return result{}, err
		}
		if err := e.shop.PutCartItem(ctx, cartID, payload.ProductID, quantity+1); err != nil {
			return result{}, err
		}
		e.ackToast(ctx, session.Chat, ev, "Товар добавлен в корзину")
		return stay(models.StateDescription), nil

	default:
		return result{}, unexpected(session, ev)
	}
}

// handleCart reacts to cart-view buttons.
func (e *Engine) handleCart(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	payload, err := e.buttonPayload(ctx, session, ev)
	if err != nil {
		return result{}, err
	}

	switch payload.Action {
	case models.ActionBackToMenu:
		if err := e.showCatalog(ctx, session.Chat, session.PageCursor); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateMenu), nil

	case models.ActionCheckout:
		if err := e.showCustomers(ctx, session.Chat); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateCustomers), nil

	case models.ActionRemoveItem:
		if err := e.shop.DeleteCartItem(ctx, string(session.Chat), payload.ItemID); err != nil {
			return result{}, err
		}
		if err := e.showCart(ctx, session.Chat); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StateCart), nil

	default:
		return result{}, unexpected(session, ev)
	}
}

// handleCustomers reacts to the contact-info menu. Anything other than the
// email/phone buttons moves on to the address prompt.
func (e *Engine) handleCustomers(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	if ev.Type == models.EventButton {
		payload, err := models.ParseButtonPayload(ev.Button)
		if err != nil {
			return result{}, err
		}
		e.ackButton(ctx, session.Chat, ev)

		switch payload.Action {
		case models.ActionAskEmail:
			if err := e.sendText(ctx, session.Chat, textAskEmail); err != nil {
				return result{}, err
			}
			return stay(models.StateWaitingEmail), nil
		case models.ActionAskPhone:
			if err := e.sendText(ctx, session.Chat, textAskPhone); err != nil {
				return result{}, err
			}
			return stay(models.StateWaitingPhone), nil
		}
	}

	if err := e.sendText(ctx, session.Chat, textAskAddress); err != nil {
		return result{}, err
	}
	return stay(models.StateWaitingLocation), nil
}

// handleWaitingEmail validates a typed email, persists it and returns to the
// contact menu. Invalid input re-prompts without a state change.
func (e *Engine) handleWaitingEmail(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	if ev.Type != models.EventText {
		return result{}, unexpected(session, ev)
	}
	email, err := validateEmail(ev.Text)
	if err != nil {
		if sendErr := e.sendText(ctx, session.Chat, textBadEmail); sendErr != nil {
			return result{}, sendErr
		}
		return stay(models.StateWaitingEmail), nil
	}

	if err := e.shop.SaveCustomerEmail(ctx, session.Chat, email); err != nil {
		return result{}, err
	}
	// Registering the commerce-side customer up front lets checkout attach
	// the order to an existing record.
	if _, err := e.shop.EnsureCustomer(ctx, email); err != nil {
		return result{}, err
	}
	if err := e.showCustomers(ctx, session.Chat); err != nil {
		return result{}, err
	}
	return stay(models.StateCustomers), nil
}

// handleWaitingPhone validates a typed phone number, persists it and returns
// to the contact menu.
func (e *Engine) handleWaitingPhone(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	if ev.Type != models.EventText {
		return result{}, unexpected(session, ev)
	}
	phone, err := validatePhone(ev.Text)
	if err != nil {
		if sendErr := e.sendText(ctx, session.Chat, textBadPhone); sendErr != nil {
			return result{}, sendErr
		}
		return stay(models.StateWaitingPhone), nil
	}

	if err := e.shop.SaveCustomerPhone(ctx, session.Chat, phone); err != nil {
		return result{}, err
	}
	if err := e.showCustomers(ctx, session.Chat); err != nil {
		return result{}, err
	}
	return stay(models.StateCustomers), nil
}

// handleWaitingLocation resolves the customer's address or location pin,
// finds the nearest pizzeria and offers the delivery tier.
func (e *Engine) handleWaitingLocation(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	var resolved geo.ResolvedAddress
	var err error

	switch ev.Type {
	case models.EventButton:
		payload, perr := models.ParseButtonPayload(ev.Button)
		if perr != nil {
			return result{}, perr
		}
		if payload.Action != models.ActionBackToMenu {
			return result{}, unexpected(session, ev)
		}
		e.ackButton(ctx, session.Chat, ev)
		return e.abortOrder(ctx, session, ev)

	case models.EventText:
		resolved, err = e.geocoder.Geocode(ctx, ev.Text)
	case models.EventLocation:
		if ev.Location == nil {
			return result{}, unexpected(session, ev)
		}
		resolved, err = e.geocoder.ReverseGeocode(ctx, *ev.Location)
	default:
		return result{}, unexpected(session, ev)
	}

	if errors.Is(err, models.ErrAddressNotFound) {
		if sendErr := e.sendText(ctx, session.Chat, textBadAddress); sendErr != nil {
			return result{}, sendErr
		}
		return stay(models.StateWaitingLocation), nil
	}
	if err != nil {
		return result{}, err
	}

	pizzerias, err := e.shop.GetPizzerias(ctx)
	if err != nil {
		return result{}, err
	}
	nearest, distanceKm, ok := geo.Nearest(pizzerias, resolved.Point)
	if !ok {
		if sendErr := e.sendText(ctx, session.Chat, textNoPizzeria); sendErr != nil {
			return result{}, sendErr
		}
		return result{}, fmt.Errorf("%w: address book is empty", models.ErrNoPizzeria)
	}

	if err := e.shop.SaveCustomerAddress(ctx, session.Chat, resolved.Text, resolved.Point,
		resolved.Country, resolved.Region, resolved.City); err != nil {
		return result{}, err
	}
	session.NearestPizzeria = nearest.Address

	if err := e.showDeliveryMenu(ctx, session.Chat, nearest, distanceKm); err != nil {
		return result{}, err
	}
	return stay(models.StateDelivery), nil
}

// abortOrder drops any in-flight order and returns the chat to the catalog.
func (e *Engine) abortOrder(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	session.Pending = nil
	session.NearestPizzeria = ""
	session.InvoiceTag = ""
	if err := e.showCatalog(ctx, session.Chat, session.PageCursor); err != nil {
		return result{}, err
	}
	e.deleteTrigger(ctx, ev)
	return stay(models.StateMenu), nil
}

// handleDelivery records the customer's courier/pickup choice.
func (e *Engine) handleDelivery(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	payload, err := e.buttonPayload(ctx, session, ev)
	if err != nil {
		return result{}, err
	}

	pizzeria, err := e.shop.GetPizzeriaByAddress(ctx, session.NearestPizzeria)
	if err != nil || pizzeria == nil {
		// Without a resolvable pizzeria neither choice can be honored;
		// stay put so the user can go back and retry the address.
		slog.Warn("Engine delivery choice with no resolvable pizzeria",
			"chat", session.Chat, "pizzeria", session.NearestPizzeria, "error", err)
		if sendErr := e.sendText(ctx, session.Chat, textNoPizzeria); sendErr != nil {
			return result{}, sendErr
		}
		return stay(models.StateDelivery), nil
	}

	switch payload.Action {
	case models.ActionDeliveryCourier:
		session.Pending = &models.PendingDelivery{
			Kind:        models.DeliveryCourier,
			Price:       payload.Fee,
			PizzeriaKey: pizzeria.Address,
			Deadline:    time.Now().Add(e.deliveryWindow),
		}
		e.dispatcher.ScheduleReminder(session.Chat)
		if err := e.showPaymentMenu(ctx, session.Chat); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StatePayment), nil

	case models.ActionDeliveryPickup:
		session.Pending = &models.PendingDelivery{
			Kind:        models.DeliveryPickup,
			PizzeriaKey: pizzeria.Address,
		}
		text := fmt.Sprintf("Благодарим за заказ! После оплаты Вы сможете забрать его по адресу: %s", pizzeria.Address)
		if err := e.sendText(ctx, session.Chat, text); err != nil {
			return result{}, err
		}
		sender, err := e.senderFor(session.Chat)
		if err != nil {
			return result{}, err
		}
		if _, err := sender.SendLocation(ctx, session.Chat, pizzeria.Point()); err != nil &&
			!errors.Is(err, models.ErrUnsupportedAction) {
			return result{}, err
		}
		if err := e.showPaymentMenu(ctx, session.Chat); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StatePayment), nil

	default:
		return result{}, unexpected(session, ev)
	}
}

// handlePayment records a cash order immediately or issues a card invoice.
// A successful-payment event lands here when the pre-check was approved
// before the invoice message was paid.
func (e *Engine) handlePayment(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	if ev.Type == models.EventPaymentSuccess {
		if err := e.recordOrder(ctx, session, false); err != nil {
			return result{}, err
		}
		return e.finishOrder(ctx, session)
	}

	payload, err := e.buttonPayload(ctx, session, ev)
	if err != nil {
		return result{}, err
	}

	switch payload.Action {
	case models.ActionPayCash:
		if err := e.recordOrder(ctx, session, true); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return e.finishOrder(ctx, session)

	case models.ActionPayCard:
		if err := e.sendInvoice(ctx, session); err != nil {
			return result{}, err
		}
		e.deleteTrigger(ctx, ev)
		return stay(models.StatePaymentWaiting), nil

	default:
		return result{}, unexpected(session, ev)
	}
}

// sendInvoice issues a card invoice for the cart plus the courier fee, tagged
// so the later pre-check can be matched to this exact invoice.
func (e *Engine) sendInvoice(ctx context.Context, session *models.ChatSession) error {
	total, err := e.shop.GetCartTotal(ctx, string(session.Chat))
	if err != nil {
		return err
	}

	items := []models.InvoiceItem{{
		Label: "Пицца",
		// Transport payment APIs take minor currency units.
		Amount: total.Amount.Mul(decimalHundred).IntPart(),
	}}
	if session.Pending != nil && session.Pending.Price > 0 {
		items = append(items, models.InvoiceItem{
			Label:  "Доставка",
			Amount: session.Pending.Price * 100,
		})
	}

	tag := uuid.NewString()
	session.InvoiceTag = tag

	sender, err := e.senderFor(session.Chat)
	if err != nil {
		return err
	}
	_, err = sender.SendInvoice(ctx, session.Chat, models.Invoice{
		Title:       textInvoiceTitle,
		Description: textInvoiceDesc,
		Tag:         tag,
		Currency:    e.currency,
		Items:       items,
	})
	return err
}

// handlePaymentWaiting validates the payment pre-check against the invoice
// this session issued.
func (e *Engine) handlePaymentWaiting(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	if ev.Type != models.EventPaymentPrecheck || ev.Payment == nil {
		return result{}, unexpected(session, ev)
	}

	sender, err := e.senderFor(session.Chat)
	if err != nil {
		return result{}, err
	}

	if ev.Payment.InvoiceTag != session.InvoiceTag {
		if err := sender.AnswerPreCheckout(ctx, ev.Payment.PrecheckID, false, "Что-то пошло не так. Начните заказ заново."); err != nil {
			return result{}, err
		}
		return result{}, fmt.Errorf("%w: got %q, expected %q for chat %s",
			models.ErrInvoiceTagMismatch, ev.Payment.InvoiceTag, session.InvoiceTag, session.Chat)
	}

	if err := sender.AnswerPreCheckout(ctx, ev.Payment.PrecheckID, true, ""); err != nil {
		return result{}, err
	}
	return stay(models.StatePayment), nil
}

// recordOrder turns the cart into a commerce-backend order, marks its payment
// and, for courier deliveries, hands the order to the delivery dispatcher.
func (e *Engine) recordOrder(ctx context.Context, session *models.ChatSession, cash bool) error {
	profile, err := e.shop.GetCustomerProfile(ctx, session.Chat)
	if err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("%w: no customer profile for chat %s", models.ErrMissingPending, session.Chat)
	}
	email := profile.Email
	if email == "" {
		// Checkout requires an email even for phone-only customers.
		email = fmt.Sprintf("%s@guest.sliceline.ru", session.Chat)
	}

	orderID, err := e.shop.CreateOrder(ctx, string(session.Chat), email, "")
	if err != nil {
		return err
	}
	transactionID, err := e.shop.PayOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := e.shop.ConfirmOrderPayment(ctx, orderID, transactionID); err != nil {
		return err
	}
	session.LastOrderID = orderID

	if session.Pending == nil {
		return fmt.Errorf("%w: payment recorded with no pending delivery for chat %s",
			models.ErrMissingPending, session.Chat)
	}
	session.Pending.Cash = cash
	if session.Pending.Deadline.IsZero() {
		session.Pending.ExtendDeadline(time.Now().Add(e.deliveryWindow))
	}

	if err := e.sendText(ctx, session.Chat, textOrderCooking); err != nil {
		return err
	}

	if session.Pending.Kind == models.DeliveryCourier {
		if err := e.startCourierJob(ctx, session, profile); err != nil {
			return err
		}
	}
	slog.Info("Engine order recorded", "chat", session.Chat, "order_id", orderID,
		"cash", cash, "kind", session.Pending.Kind)
	return nil
}

// finishOrder closes out a recorded payment. Courier orders park the chat
// until the courier confirms the handoff; a pickup order is complete once
// paid, so its cart and session are dropped and the next message starts a
// fresh conversation.
func (e *Engine) finishOrder(ctx context.Context, session *models.ChatSession) (result, error) {
	if session.Pending.Kind == models.DeliveryPickup {
		if err := e.shop.DeleteCart(ctx, string(session.Chat)); err != nil {
			return result{}, err
		}
		return result{clear: true}, nil
	}
	return stay(models.StateUpdateHandler), nil
}

// startCourierJob moves the pizzeria's operator chat into courier mode and
// schedules the repeating notification job.
func (e *Engine) startCourierJob(ctx context.Context, session *models.ChatSession, profile *models.CustomerProfile) error {
	pizzeria, err := e.shop.GetPizzeriaByAddress(ctx, session.Pending.PizzeriaKey)
	if err != nil {
		return err
	}

	courier := pizzeria.OperatorChat
	courierSession, err := e.store.GetSession(courier)
	if err != nil {
		return err
	}
	now := time.Now()
	if courierSession == nil {
		courierSession = &models.ChatSession{Chat: courier, CreatedAt: now}
	}
	courierSession.State = models.StateUpdateHandler
	courierSession.UpdatedAt = now
	if err := e.store.SaveSession(*courierSession); err != nil {
		return err
	}

	e.dispatcher.Schedule(dispatch.JobContext{
		Customer:      session.Chat,
		Courier:       courier,
		CustomerPoint: profile.Point(),
	})
	return nil
}

// handleUpdateHandler serves both sides of a completed payment: courier
// acknowledgement buttons in the operator chat, and customer messages while
// the order is out for delivery.
func (e *Engine) handleUpdateHandler(ctx context.Context, session *models.ChatSession, ev models.Event) (result, error) {
	if ev.Type == models.EventButton {
		payload, err := models.ParseButtonPayload(ev.Button)
		if err != nil {
			return result{}, err
		}
		e.ackButton(ctx, session.Chat, ev)

		switch payload.Action {
		case models.ActionCourierDelivered:
			if err := e.showCourierConfirm(ctx, session.Chat, payload.Target); err != nil {
				return result{}, err
			}
			return stay(models.StateUpdateHandler), nil

		case models.ActionCourierYes:
			if err := e.completeDelivery(ctx, session.Chat, payload.Target); err != nil {
				return result{}, err
			}
			e.deleteTrigger(ctx, ev)
			return stay(models.StateUpdateHandler), nil

		case models.ActionCourierNo:
			// A mistaken tap: drop the confirmation menu and keep the
			// delivery running.
			e.deleteTrigger(ctx, ev)
			return stay(models.StateUpdateHandler), nil
		}
	}

	// Customer side: while a courier delivery is in flight any message just
	// restates the status and makes sure the dispatcher job is alive.
	if session.Pending != nil && session.Pending.Kind == models.DeliveryCourier {
		if !e.dispatcher.Active(session.Chat) {
			if err := e.ensureCourierJob(ctx, session); err != nil {
				return result{}, err
			}
		}
		if err := e.sendText(ctx, session.Chat, textOrderInFlight); err != nil {
			return result{}, err
		}
		return stay(models.StateUpdateHandler), nil
	}

	return result{}, unexpected(session, ev)
}

// ensureCourierJob re-schedules the dispatcher job for a courier delivery
// that lost its timer, e.g. after a process restart raced the recovery scan.
func (e *Engine) ensureCourierJob(ctx context.Context, session *models.ChatSession) error {
	profile, err := e.shop.GetCustomerProfile(ctx, session.Chat)
	if err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("%w: no customer profile for chat %s", models.ErrMissingPending, session.Chat)
	}
	return e.startCourierJob(ctx, session, profile)
}

// completeDelivery tears down a confirmed delivery: the dispatcher job, the
// courier notification message, the cart and the customer's session.
func (e *Engine) completeDelivery(ctx context.Context, courier, customer models.ChatID) error {
	e.dispatcher.Cancel(customer)

	messageID, err := e.store.GetCourierMessage(courier, customer)
	if err != nil {
		return err
	}
	if messageID != 0 {
		sender, err := e.senderFor(courier)
		if err != nil {
			return err
		}
		if err := sender.DeleteMessage(ctx, courier, messageID); err != nil &&
			!errors.Is(err, models.ErrUnsupportedAction) {
			slog.Warn("Engine could not delete courier notification", "error", err,
				"courier", courier, "customer", customer)
		}
	}
	if err := e.store.DeleteCourierMessage(courier, customer); err != nil {
		return err
	}

	if err := e.shop.DeleteCart(ctx, string(customer)); err != nil {
		return err
	}
	if err := e.sendText(ctx, customer, textOrderDelivered); err != nil {
		return err
	}
	if err := e.store.DeleteSession(customer); err != nil {
		return err
	}
	slog.Info("Engine delivery completed", "courier", courier, "customer", customer)
	return nil
}

// buttonPayload asserts the event is a button press, acknowledges it and
// parses its payload.
func (e *Engine) buttonPayload(ctx context.Context, session *models.ChatSession, ev models.Event) (models.ButtonPayload, error) {
	if ev.Type != models.EventButton {
		return models.ButtonPayload{}, unexpected(session, ev)
	}
	payload, err := models.ParseButtonPayload(ev.Button)
	if err != nil {
		return models.ButtonPayload{}, err
	}
	e.ackButton(ctx, session.Chat, ev)
	return payload, nil
}

// ackButton acknowledges a button press so the client stops its spinner.
func (e *Engine) ackButton(ctx context.Context, chat models.ChatID, ev models.Event) {
	e.ackToast(ctx, chat, ev, "")
}

// ackToast acknowledges a button press with a toast message. Failures are
// logged only.
func (e *Engine) ackToast(ctx context.Context, chat models.ChatID, ev models.Event, text string) {
	if ev.ButtonID == "" {
		return
	}
	sender, err := e.senderFor(chat)
	if err != nil {
		return
	}
	if err := sender.AnswerButton(ctx, ev.ButtonID, text); err != nil &&
		!errors.Is(err, models.ErrUnsupportedAction) {
		slog.Warn("Engine could not acknowledge button", "error", err, "chat", chat)
	}
}
