package rfq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
)

// Payload is the JSON body accepted by create, update and preview endpoints. Dates and
// quantities arrive as form strings or JSON values and are coerced by ToInput.
type Payload struct {
	SupplierID  string        `json:"supplierId"`
	RequestDate string        `json:"requestDate"`
	ValidUntil  string        `json:"validUntil"`
	Contact     ContactInput  `json:"contact"`
	Items       []ItemPayload `json:"items"`
	Notes       string        `json:"notes"`
}

// ItemPayload is a submitted item.
type ItemPayload struct {
	ID             string          `json:"id"`
	MaterialNumber string          `json:"materialNumber"`
	Designation    string          `json:"designation"`
	Description    string          `json:"description"`
	Quantity       json.RawMessage `json:"quantity"`
}

// ToInput coerces the payload. Unreadable dates are validation errors; unreadable
// quantities become 0.
func (p Payload) ToInput() (Input, error) {
	in := Input{
		SupplierID: p.SupplierID,
		Contact:    p.Contact,
		Notes:      p.Notes,
		Items:      make([]ItemInput, 0, len(p.Items)),
	}
	fields := httpx.FieldErrors{}
	var err error
	if in.RequestDate, err = parseDate(p.RequestDate); err != nil {
		fields["requestDate"] = "Ungültiges Datum."
	}
	if in.ValidUntil, err = parseDate(p.ValidUntil); err != nil {
		fields["validUntil"] = "Ungültiges Datum."
	}
	for _, it := range p.Items {
		in.Items = append(in.Items, ItemInput{
			ID:             it.ID,
			MaterialNumber: it.MaterialNumber,
			Designation:    it.Designation,
			Description:    it.Description,
			Quantity:       coerceQuantity(it.Quantity),
		})
	}
	if len(fields) > 0 {
		return Input{}, fields
	}
	return in, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, ok := docstore.Time(s)
	if !ok {
		return nil, fmt.Errorf("rfq: invalid date %q", s)
	}
	return &t, nil
}

func coerceQuantity(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}

// Preview builds an unsaved request from input, as the letter preview shows it. It
// carries a placeholder number when none is given.
func Preview(in Input, supplier SupplierSnapshot, number string, now time.Time) Request {
	created := now.UTC()
	if in.RequestDate != nil && !in.RequestDate.IsZero() {
		created = in.RequestDate.UTC()
	}
	if number == "" {
		number = "ENTWURF"
	}
	return Request{
		RequestNumber: number,
		Title:         TitleFor(supplier),
		Status:        StatusDraft,
		CreatedAt:     created,
		ValidUntil:    cleanTime(in.ValidUntil),
		Supplier:      supplier,
		Items:         normalizeItems(in.Items, now, true),
		Notes:         strings.TrimSpace(in.Notes),
		ContactPerson: contactFrom(in.Contact),
	}
}
