// Package rfq manages procurement requests for quotation: numbering, the status
// lifecycle, persistence and the read-side statistics.
package rfq

import (
	"strings"
	"time"
)

// Status enumerates request states. Values are persisted as the German labels shown to
// users.
type Status string

const (
	StatusDraft     Status = "Entwurf"
	StatusSent      Status = "Gesendet"
	StatusCompleted Status = "Abgeschlossen"
	StatusCancelled Status = "Storniert"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// UnknownSupplierName is used in titles when no supplier was selected.
const UnknownSupplierName = "Unbekannter Lieferant"

// PlaceholderDesignation replaces an empty item designation.
const PlaceholderDesignation = "N/A"

// SupplierSnapshot is the copy of a supplier taken when it was selected for a request.
// Later edits to the supplier directory do not reach requests that embed a snapshot.
type SupplierSnapshot struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContactPerson string `json:"contactPerson"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	Country       string `json:"country"`
}

// Empty reports whether no supplier was selected.
func (s SupplierSnapshot) Empty() bool {
	return s.ID == "" && s.Name == ""
}

// Item is a line of a request.
type Item struct {
	ID             string  `json:"id"`
	MaterialNumber string  `json:"materialNumber,omitempty"`
	Designation    string  `json:"designation"`
	Description    string  `json:"description,omitempty"`
	Quantity       float64 `json:"quantity"`
}

// ContactPerson is our side's contact for a request.
type ContactPerson struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// FullName joins the non-empty name parts.
func (c ContactPerson) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Named reports whether a first or last name is present.
func (c ContactPerson) Named() bool {
	return c.FullName() != ""
}

// Request is a request for quotation.
type Request struct {
	ID            string           `json:"id"`
	RequestNumber string           `json:"requestNumber"`
	Title         string           `json:"title"`
	Status        Status           `json:"status"`
	CreatedAt     time.Time        `json:"createdAt"`
	ValidUntil    *time.Time       `json:"validUntil,omitempty"`
	Supplier      SupplierSnapshot `json:"supplier"`
	Items         []Item           `json:"items"`
	Notes         string           `json:"notes,omitempty"`
	ContactPerson *ContactPerson   `json:"contactPerson,omitempty"`

	// storedStatus holds the raw status value when decoding replaced an unknown one.
	storedStatus   any
	statusReplaced bool
}

// recordedStatus is the status value currently held by the store.
func (r Request) recordedStatus() any {
	if r.statusReplaced {
		return r.storedStatus
	}
	return string(r.Status)
}

// TitleFor builds the request title for a supplier snapshot.
func TitleFor(s SupplierSnapshot) string {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = UnknownSupplierName
	}
	return "Anfrage für " + name
}
