// Package elastic implements the remote address book on top of the backend's
// custom "flows" collections.
package elastic

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sliceline/pizzabot/internal/models"
)

// Address book collection slugs.
const (
	// PizzeriaCollection holds the fixed set of store locations.
	PizzeriaCollection = "pizzeria"
	// CustomerCollection holds per-customer delivery profiles keyed by chat id.
	CustomerCollection = "customeraddress"
)

// Entry is one raw address-book record.
type Entry map[string]interface{}

// ID returns the backend record id of the entry.
func (e Entry) ID() string { return e.str("id") }

func (e Entry) str(field string) string {
	if v, ok := e[field].(string); ok {
		return v
	}
	return ""
}

func (e Entry) float(field string) float64 {
	if v, ok := e[field].(float64); ok {
		return v
	}
	return 0
}

// GetEntries lists a collection's records.
func (c *Client) GetEntries(ctx context.Context, collection string) ([]Entry, error) {
	var envelope struct {
		Data []Entry `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/flows/"+collection+"/entries?page[limit]=100", nil, &envelope); err != nil {
		return nil, err
	}
	slog.Debug("elastic GetEntries succeeded", "collection", collection, "count", len(envelope.Data))
	return envelope.Data, nil
}

// GetEntry finds the first record whose field equals value, or nil.
func (c *Client) GetEntry(ctx context.Context, collection, field, value string) (Entry, error) {
	entries, err := c.GetEntries(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.str(field) == value {
			return entry, nil
		}
	}
	return nil, nil
}

// UpsertEntry creates or updates the record identified by (keyField,
// keyValue), merging attrs over whatever the record already holds.
func (c *Client) UpsertEntry(ctx context.Context, collection, keyField, keyValue string, attrs map[string]interface{}) error {
	existing, err := c.GetEntry(ctx, collection, keyField, keyValue)
	if err != nil {
		return err
	}

	data := map[string]interface{}{"type": "entry"}
	data[keyField] = keyValue
	for field, value := range attrs {
		data[field] = value
	}

	if existing == nil {
		body := map[string]interface{}{"data": data}
		if err := c.do(ctx, http.MethodPost, "/v2/flows/"+collection+"/entries", body, nil); err != nil {
			return err
		}
		slog.Debug("elastic UpsertEntry created", "collection", collection, "key", keyValue)
		return nil
	}

	data["id"] = existing.ID()
	body := map[string]interface{}{"data": data}
	path := "/v2/flows/" + collection + "/entries/" + existing.ID()
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return err
	}
	slog.Debug("elastic UpsertEntry updated", "collection", collection, "key", keyValue)
	return nil
}

// GetPizzerias returns the full read-only set of store locations.
func (c *Client) GetPizzerias(ctx context.Context) ([]models.PizzeriaLocation, error) {
	entries, err := c.GetEntries(ctx, PizzeriaCollection)
	if err != nil {
		return nil, err
	}
	pizzerias := make([]models.PizzeriaLocation, 0, len(entries))
	for _, entry := range entries {
		pizzerias = append(pizzerias, models.PizzeriaLocation{
			Address:      entry.str("address"),
			Alias:        entry.str("alias"),
			Longitude:    entry.float("longitude"),
			Latitude:     entry.float("latitude"),
			OperatorChat: models.ChatID(entry.str("telegramid")),
		})
	}
	return pizzerias, nil
}

// GetPizzeriaByAddress finds a store location by its address key.
func (c *Client) GetPizzeriaByAddress(ctx context.Context, address string) (*models.PizzeriaLocation, error) {
	entry, err := c.GetEntry(ctx, PizzeriaCollection, "address", address)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("pizzeria %q not found in address book", address)
	}
	return &models.PizzeriaLocation{
		Address:      entry.str("address"),
		Alias:        entry.str("alias"),
		Longitude:    entry.float("longitude"),
		Latitude:     entry.float("latitude"),
		OperatorChat: models.ChatID(entry.str("telegramid")),
	}, nil
}

// GetCustomerProfile returns the customer profile for a chat, nil when the
// customer has not supplied anything yet.
func (c *Client) GetCustomerProfile(ctx context.Context, chat models.ChatID) (*models.CustomerProfile, error) {
	entry, err := c.GetEntry(ctx, CustomerCollection, "customerid", string(chat))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return &models.CustomerProfile{
		CustomerKey: entry.str("customerid"),
		Address:     entry.str("address"),
		Longitude:   entry.float("longitude"),
		Latitude:    entry.float("latitude"),
		Country:     entry.str("country"),
		Region:      entry.str("county"),
		City:        entry.str("city"),
		Phone:       entry.str("telephone"),
		Email:       entry.str("email"),
	}, nil
}

// SaveCustomerAddress persists the customer's resolved address and
// coordinates, including reverse-geocoded administrative fields.
func (c *Client) SaveCustomerAddress(ctx context.Context, chat models.ChatID, address string, point models.GeoPoint, country, region, city string) error {
	return c.UpsertEntry(ctx, CustomerCollection, "customerid", string(chat), map[string]interface{}{
		"address":   address,
		"longitude": point.Longitude,
		"latitude":  point.Latitude,
		"country":   country,
		"county":    region,
		"city":      city,
	})
}

// SaveCustomerPhone persists the customer's phone number.
func (c *Client) SaveCustomerPhone(ctx context.Context, chat models.ChatID, phone string) error {
	return c.UpsertEntry(ctx, CustomerCollection, "customerid", string(chat), map[string]interface{}{
		"telephone": phone,
	})
}

// SaveCustomerEmail persists the customer's email.
func (c *Client) SaveCustomerEmail(ctx context.Context, chat models.ChatID, email string) error {
	return c.UpsertEntry(ctx, CustomerCollection, "customerid", string(chat), map[string]interface{}{
		"email": email,
	})
}
