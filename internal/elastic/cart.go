// Package elastic implements per-chat cart operations.
package elastic

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// CartItem is one cart line. ID is the line id (used for removal), ProductID
// the catalog product the line refers to.
type CartItem struct {
	ID          string
	ProductID   string
	Name        string
	Description string
	Quantity    int
	// LineTotal is the display price of the whole line.
	LineTotal Money
}

type cartItemData struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Meta        struct {
		DisplayPrice struct {
			WithTax struct {
				Value json.RawMessage `json:"value"`
			} `json:"with_tax"`
		} `json:"display_price"`
	} `json:"meta"`
}

// GetCartItems lists the cart lines for a cart key.
func (c *Client) GetCartItems(ctx context.Context, cartID string) ([]CartItem, error) {
	var envelope struct {
		Data []cartItemData `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/carts/"+cartID+"/items", nil, &envelope); err != nil {
		return nil, err
	}

	items := make([]CartItem, 0, len(envelope.Data))
	for _, line := range envelope.Data {
		item := CartItem{
			ID:          line.ID,
			ProductID:   line.ProductID,
			Name:        line.Name,
			Description: line.Description,
			Quantity:    line.Quantity,
		}
		if len(line.Meta.DisplayPrice.WithTax.Value) > 0 {
			total, err := decodeFormatted(line.Meta.DisplayPrice.WithTax.Value)
			if err != nil {
				slog.Warn("elastic GetCartItems bad display price", "error", err, "item", line.ID)
			} else {
				item.LineTotal = total
			}
		}
		items = append(items, item)
	}
	slog.Debug("elastic GetCartItems succeeded", "cart", cartID, "count", len(items))
	return items, nil
}

// GetCartQuantity returns the quantity of a product already in the cart,
// zero if the product is not there.
func (c *Client) GetCartQuantity(ctx context.Context, cartID, productID string) (int, error) {
	items, err := c.GetCartItems(ctx, cartID)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if item.ProductID == productID {
			return item.Quantity, nil
		}
	}
	return 0, nil
}

// PutCartItem sets the quantity of a product in the cart. The backend keeps
// one line per product, so setting quantity is idempotent under retry.
func (c *Client) PutCartItem(ctx context.Context, cartID, productID string, quantity int) error {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"id":       productID,
			"type":     "cart_item",
			"quantity": quantity,
		},
	}
	if err := c.do(ctx, http.MethodPost, "/v2/carts/"+cartID+"/items", body, nil); err != nil {
		return err
	}
	slog.Debug("elastic PutCartItem succeeded", "cart", cartID, "product", productID, "quantity", quantity)
	return nil
}

// DeleteCartItem removes one cart line by line id.
func (c *Client) DeleteCartItem(ctx context.Context, cartID, itemID string) error {
	return c.do(ctx, http.MethodDelete, "/v2/carts/"+cartID+"/items/"+itemID, nil, nil)
}

// DeleteCart drops the whole cart.
func (c *Client) DeleteCart(ctx context.Context, cartID string) error {
	return c.do(ctx, http.MethodDelete, "/v2/carts/"+cartID, nil, nil)
}

// GetCartTotal returns the cart's display total.
func (c *Client) GetCartTotal(ctx context.Context, cartID string) (Money, error) {
	var envelope struct {
		Data struct {
			Meta struct {
				DisplayPrice struct {
					WithTax json.RawMessage `json:"with_tax"`
				} `json:"display_price"`
			} `json:"meta"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/carts/"+cartID, nil, &envelope); err != nil {
		return Money{}, err
	}
	return decodeFormatted(envelope.Data.Meta.DisplayPrice.WithTax)
}
