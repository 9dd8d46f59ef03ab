// Package models defines address-book records shared with the commerce backend.
package models

// PizzeriaLocation is a reference store location from the remote address
// book. The bot treats the set of pizzerias as read-only.
type PizzeriaLocation struct {
	Address   string
	Alias     string
	Longitude float64
	Latitude  float64
	// OperatorChat is the staff/courier channel notified about courier
	// deliveries dispatched from this pizzeria.
	OperatorChat ChatID
}

// Point returns the pizzeria coordinates as a GeoPoint.
func (p PizzeriaLocation) Point() GeoPoint {
	return GeoPoint{Longitude: p.Longitude, Latitude: p.Latitude}
}

// CustomerProfile is the per-customer address book entry, keyed by chat id.
// Fields are filled incrementally as the customer supplies them; empty
// strings mean "not provided yet".
type CustomerProfile struct {
	CustomerKey string
	Address     string
	Longitude   float64
	Latitude    float64
	Country     string
	Region      string
	City        string
	Phone       string
	Email       string
}

// Point returns the customer coordinates as a GeoPoint.
func (c CustomerProfile) Point() GeoPoint {
	return GeoPoint{Longitude: c.Longitude, Latitude: c.Latitude}
}

// HasContactInfo reports whether both phone and email have been supplied.
func (c CustomerProfile) HasContactInfo() bool {
	return c.Phone != "" && c.Email != ""
}
