// Package elastic implements the order and customer lifecycle.
package elastic

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// CreateOrder checks the cart out into an order and returns the order id.
func (c *Client) CreateOrder(ctx context.Context, cartID string, profileEmail, profileName string) (string, error) {
	if profileName == "" {
		profileName = strings.Split(profileEmail, "@")[0]
	}
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"customer": map[string]string{
				"name":  profileName,
				"email": profileEmail,
			},
		},
	}
	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/carts/"+cartID+"/checkout", body, &envelope); err != nil {
		return "", err
	}
	slog.Info("elastic order created", "cart", cartID, "order_id", envelope.Data.ID)
	return envelope.Data.ID, nil
}

// PayOrder attaches a manual payment to the order and returns the
// transaction id.
func (c *Client) PayOrder(ctx context.Context, orderID string) (string, error) {
	body := map[string]interface{}{
		"data": map[string]string{
			"gateway": "manual",
			"method":  "authorize",
		},
	}
	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/orders/"+orderID+"/payments", body, &envelope); err != nil {
		return "", err
	}
	return envelope.Data.ID, nil
}

// ConfirmOrderPayment captures the authorized transaction.
func (c *Client) ConfirmOrderPayment(ctx context.Context, orderID, transactionID string) error {
	body := map[string]interface{}{
		"data": map[string]string{"type": "capture"},
	}
	path := "/v2/orders/" + orderID + "/transactions/" + transactionID + "/capture"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return err
	}
	slog.Info("elastic order payment confirmed", "order_id", orderID, "transaction_id", transactionID)
	return nil
}

// GetCustomerID finds a customer record by email, returning an empty string
// when none exists.
func (c *Client) GetCustomerID(ctx context.Context, email string) (string, error) {
	var envelope struct {
		Data []struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/customers", nil, &envelope); err != nil {
		return "", err
	}
	for _, customer := range envelope.Data {
		if customer.Email == email {
			return customer.ID, nil
		}
	}
	return "", nil
}

// CreateCustomer creates a customer record named after the email local part.
func (c *Client) CreateCustomer(ctx context.Context, email string) (string, error) {
	body := map[string]interface{}{
		"data": map[string]string{
			"type":  "customer",
			"name":  strings.Split(email, "@")[0],
			"email": email,
		},
	}
	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/customers", body, &envelope); err != nil {
		return "", err
	}
	slog.Info("elastic customer created", "customer_id", envelope.Data.ID)
	return envelope.Data.ID, nil
}

// EnsureCustomer creates a customer record for email unless one exists.
func (c *Client) EnsureCustomer(ctx context.Context, email string) (string, error) {
	id, err := c.GetCustomerID(ctx, email)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	return c.CreateCustomer(ctx, email)
}
