package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/sliceline/pizzabot/internal/geo"
	"github.com/sliceline/pizzabot/internal/models"
)

// User-facing texts. The bot speaks Russian.
const (
	textChooseProduct  = "Пожалуйста, выберите:"
	textCartEmpty      = "Ваша корзина пуста."
	textAskEmail       = "Пришлите, пожалуйста, Ваш email:"
	textAskPhone       = "Пришлите, пожалуйста, Ваш номер телефона:"
	textAskAddress     = "Хорошо. Пришлите нам Ваш адрес текстом или геолокацию."
	textBadEmail       = "Похоже, Вы ввели неверный email. Попробуйте еще раз:"
	textBadPhone       = "Похоже, Вы ввели неверный номер телефона. Попробуйте еще раз:"
	textBadAddress     = "Не удалось распознать этот адрес. Попробуйте еще раз:"
	textNoPizzeria     = "К сожалению, сейчас нет работающих пиццерий рядом с Вами."
	textChoosePayment  = "Как будете оплачивать заказ?"
	textOrderCooking   = "Благодарим за заказ! Ваша пицца уже готовится."
	textConfirmCourier = "Подтвердите доставку:"
	textOrderDelivered = "Спасибо, что выбрали нас! Приятного аппетита!"
	textOrderInFlight  = "Ваш заказ уже в работе. Курьер свяжется с Вами."
	textInvoiceTitle   = "Оплата заказа"
	textInvoiceDesc    = "Пицца и доставка"
)

// showCatalog renders one catalog page: product buttons with cart-quantity
// badges, a pager row and the cart button.
func (e *Engine) showCatalog(ctx context.Context, chat models.ChatID, page int) error {
	if page < 1 {
		page = 1
	}
	productPage, err := e.shop.GetProducts(ctx, (page-1)*e.pageSize, e.pageSize)
	if err != nil {
		return fmt.Errorf("failed to load catalog page %d: %w", page, err)
	}

	quantities := map[string]int{}
	cartSize := 0
	items, err := e.shop.GetCartItems(ctx, string(chat))
	if err != nil {
		return fmt.Errorf("failed to load cart for catalog badges: %w", err)
	}
	for _, item := range items {
		quantities[item.ProductID] = item.Quantity
		cartSize += item.Quantity
	}

	var kb models.Keyboard
	for _, product := range productPage.Products {
		label := product.Name
		if qty := quantities[product.ID]; qty > 0 {
			label = fmt.Sprintf("%s (%d шт.)", product.Name, qty)
		}
		kb = append(kb, []models.Button{{
			Label: label,
			Data:  models.ButtonPayload{Action: models.ActionProduct, ProductID: product.ID}.Encode(),
		}})
	}

	var pager []models.Button
	if page > 1 {
		pager = append(pager, models.Button{
			Label: "⬅ Пред.",
			Data:  models.ButtonPayload{Action: models.ActionPage, Page: page - 1}.Encode(),
		})
	}
	if page < productPage.TotalPages {
		pager = append(pager, models.Button{
			Label: "След. ➡",
			Data:  models.ButtonPayload{Action: models.ActionPage, Page: page + 1}.Encode(),
		})
	}
	if len(pager) > 0 {
		kb = append(kb, pager)
	}

	// Messenger has no pager affordance worth the taps; it browses by
	// category instead.
	if chat.Transport() == models.TransportMessenger {
		categories, err := e.shop.GetCategories(ctx)
		if err != nil {
			return fmt.Errorf("failed to load categories: %w", err)
		}
		var row []models.Button
		for _, category := range categories {
			row = append(row, models.Button{
				Label: category.Name,
				Data:  models.ButtonPayload{Action: models.ActionCategory, Category: category.Slug}.Encode(),
			})
			if len(row) == 3 {
				kb = append(kb, row)
				row = nil
			}
		}
		if len(row) > 0 {
			kb = append(kb, row)
		}
	}

	cartLabel := "Корзина"
	if cartSize > 0 {
		cartLabel = fmt.Sprintf("Корзина (%d)", cartSize)
	}
	kb = append(kb, []models.Button{{
		Label: cartLabel,
		Data:  models.ButtonPayload{Action: models.ActionShowCart}.Encode(),
	}})

	sender, err := e.senderFor(chat)
	if err != nil {
		return err
	}
	_, err = sender.SendButtons(ctx, chat, textChooseProduct, kb)
	return err
}

// showProductCard renders one product with its image, price and description.
func (e *Engine) showProductCard(ctx context.Context, chat models.ChatID, productID string) error {
	product, err := e.shop.GetProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	caption := fmt.Sprintf("<b>%s</b>\n\nСтоимость: %s руб.\n\n<i>%s</i>",
		product.Name, product.Price.Amount.String(), product.Description)
	kb := models.Keyboard{
		{{
			Label: "Положить в корзину",
			Data:  models.ButtonPayload{Action: models.ActionAddToCart, ProductID: product.ID}.Encode(),
		}},
		{
			{Label: "В меню", Data: models.ButtonPayload{Action: models.ActionBackToMenu}.Encode()},
			{Label: "Корзина", Data: models.ButtonPayload{Action: models.ActionShowCart}.Encode()},
		},
	}

	sender, err := e.senderFor(chat)
	if err != nil {
		return err
	}
	if product.ImageURL != "" {
		_, err = sender.SendPhoto(ctx, chat, product.ImageURL, caption, kb)
	} else {
		_, err = sender.SendButtons(ctx, chat, caption, kb)
	}
	return err
}

// showCart renders the cart contents with per-line remove buttons.
func (e *Engine) showCart(ctx context.Context, chat models.ChatID) error {
	items, err := e.shop.GetCartItems(ctx, string(chat))
	if err != nil {
		return fmt.Errorf("failed to load cart: %w", err)
	}

	sender, err := e.senderFor(chat)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		kb := models.Keyboard{{
			{Label: "В меню", Data: models.ButtonPayload{Action: models.ActionBackToMenu}.Encode()},
		}}
		_, err = sender.SendButtons(ctx, chat, textCartEmpty, kb)
		return err
	}

	total, err := e.shop.GetCartTotal(ctx, string(chat))
	if err != nil {
		return fmt.Errorf("failed to load cart total: %w", err)
	}

	var lines []string
	var kb models.Keyboard
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("<b>%s</b>\n<i>%s</i>\n%d шт. на сумму: %s",
			item.Name, item.Description, item.Quantity, item.LineTotal.Formatted))
		kb = append(kb, []models.Button{{
			Label: fmt.Sprintf("Убрать из корзины %s", item.Name),
			Data:  models.ButtonPayload{Action: models.ActionRemoveItem, ItemID: item.ID}.Encode(),
		}})
	}
	lines = append(lines, fmt.Sprintf("<b>Всего к оплате: %s</b>", total.Formatted))

	kb = append(kb, []models.Button{
		{Label: "В меню", Data: models.ButtonPayload{Action: models.ActionBackToMenu}.Encode()},
		{Label: "Оформить заказ", Data: models.ButtonPayload{Action: models.ActionCheckout}.Encode()},
	})

	_, err = sender.SendButtons(ctx, chat, strings.Join(lines, "\n\n"), kb)
	return err
}

// showCustomers renders the contact-info menu. The continue button appears
// once both email and phone are on file.
func (e *Engine) showCustomers(ctx context.Context, chat models.ChatID) error {
	profile, err := e.shop.GetCustomerProfile(ctx, chat)
	if err != nil {
		return fmt.Errorf("failed to load customer profile: %w", err)
	}

	var known []string
	if profile != nil && profile.Email != "" {
		known = append(known, "Email: "+profile.Email)
	}
	if profile != nil && profile.Phone != "" {
		known = append(known, "Телефон: "+profile.Phone)
	}
	text := "Чтобы связаться с Вами, нам нужны контакты:"
	if len(known) > 0 {
		text = "Ваши контакты:\n" + strings.Join(known, "\n")
	}

	kb := models.Keyboard{{
		{Label: "Эл. почта", Data: models.ButtonPayload{Action: models.ActionAskEmail}.Encode()},
		{Label: "Телефон", Data: models.ButtonPayload{Action: models.ActionAskPhone}.Encode()},
	}}
	if profile != nil && profile.HasContactInfo() {
		kb = append(kb, []models.Button{{
			Label: "Продолжить",
			Data:  models.ButtonPayload{Action: models.ActionContinue}.Encode(),
		}})
	}

	sender, err := e.senderFor(chat)
	if err != nil {
		return err
	}
	_, err = sender.SendButtons(ctx, chat, text, kb)
	return err
}

// showDeliveryMenu renders the tiered delivery offer for the computed
// distance to the nearest pizzeria.
func (e *Engine) showDeliveryMenu(ctx context.Context, chat models.ChatID, nearest models.PizzeriaLocation, distanceKm float64) error {
	tier := geo.DeliveryTier(distanceKm)

	var text string
	switch {
	case !tier.CourierAvailable:
		text = fmt.Sprintf(
			"Простите, но так далеко мы пиццу не доставим. Ближайшая пиццерия аж в %.1f км от Вас! Зато Вы можете забрать заказ сами.",
			distanceKm)
	case tier.FreeOffer:
		text = fmt.Sprintf(
			"Может, заберете пиццу из нашей пиццерии неподалеку? Она всего в %d метрах от Вас! Вот ее адрес: %s.\n\nА можем и бесплатно доставить, нам не сложно.",
			int(distanceKm*1000), nearest.Address)
	case tier.Fee > 0:
		text = fmt.Sprintf(
			"Похоже, придется ехать до Вас на самокате. Доставка будет стоить %d рублей. Доставляем или самовывоз?",
			tier.Fee)
	default:
		text = "Доставляем бесплатно или самовывоз?"
	}

	kb := models.Keyboard{{
		{Label: "Самовывоз", Data: models.ButtonPayload{Action: models.ActionDeliveryPickup}.Encode()},
	}}
	if tier.CourierAvailable {
		kb = append(kb, []models.Button{{
			Label: "Доставка",
			Data:  models.ButtonPayload{Action: models.ActionDeliveryCourier, Fee: tier.Fee}.Encode(),
		}})
	}

	sender, err := e.senderFor(chat)
	if err != nil {
		return err
	}
	_, err = sender.SendButtons(ctx, chat, text, kb)
	return err
}

// showPaymentMenu renders the cash/card choice.
func (e *Engine) showPaymentMenu(ctx context.Context, chat models.ChatID) error {
	sender, err := e.senderFor(chat)
	if err != nil {
		return err
	}
	row := []models.Button{
		{Label: "Наличными", Data: models.ButtonPayload{Action: models.ActionPayCash}.Encode()},
	}
	// Only offer card payment where the transport can actually issue an
	// invoice; everywhere else the order settles in cash.
	if sender.SupportsInvoices() {
		row = append(row, models.Button{Label: "Картой", Data: models.ButtonPayload{Action: models.ActionPayCard}.Encode()})
	}
	_, err = sender.SendButtons(ctx, chat, textChoosePayment, models.Keyboard{row})
	return err
}

// showCourierConfirm asks the courier to double-check the delivered mark.
func (e *Engine) showCourierConfirm(ctx context.Context, courier, customer models.ChatID) error {
	kb := models.Keyboard{{
		{Label: "Да", Data: models.ButtonPayload{Action: models.ActionCourierYes, Target: customer}.Encode()},
		{Label: "Нет", Data: models.ButtonPayload{Action: models.ActionCourierNo, Target: customer}.Encode()},
	}}
	sender, err := e.senderFor(courier)
	if err != nil {
		return err
	}
	_, err = sender.SendButtons(ctx, courier, textConfirmCourier, kb)
	return err
}

// sendText is a small convenience wrapper around the chat's sender.
func (e *Engine) sendText(ctx context.Context, chat models.ChatID, text string) error {
	sender, err := e.senderFor(chat)
	if err != nil {
		return err
	}
	_, err = sender.SendText(ctx, chat, text)
	return err
}
