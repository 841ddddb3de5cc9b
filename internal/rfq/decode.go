package rfq

import (
	"errors"
	"strings"
	"time"

	"github.com/anfrage-erp/anfrage/internal/docstore"
)

// legacyNow supplies createdAt for stored requests whose timestamp cannot be read.
var legacyNow = time.Now

// DecodeRequest converts a stored document into a Request. Every read path goes through
// it, so timestamps, defaults and optional fields are normalised in one place.
func DecodeRequest(doc docstore.Document) (Request, error) {
	id := doc.ID()
	if id == "" {
		return Request{}, errors.New("rfq: document without id")
	}
	req := Request{
		ID:            id,
		RequestNumber: docstore.String(doc["requestNumber"]),
		Title:         docstore.String(doc["title"]),
		Status:        Status(docstore.String(doc["status"])),
		Notes:         docstore.String(doc["notes"]),
		Items:         []Item{},
	}
	if !req.Status.Valid() {
		req.storedStatus = doc["status"]
		req.statusReplaced = true
		req.Status = StatusDraft
	}
	if created, ok := docstore.Time(doc["createdAt"]); ok {
		req.CreatedAt = created.UTC()
	} else {
		req.CreatedAt = legacyNow().UTC()
	}
	if until, ok := docstore.Time(doc["validUntil"]); ok {
		until = until.UTC()
		req.ValidUntil = &until
	}
	if m, ok := docstore.Map(doc["supplier"]); ok {
		req.Supplier = decodeSupplier(m)
	}
	if req.Title == "" {
		req.Title = TitleFor(req.Supplier)
	}
	if raw, ok := docstore.Slice(doc["items"]); ok {
		for i, v := range raw {
			m, ok := docstore.Map(v)
			if !ok {
				continue
			}
			req.Items = append(req.Items, decodeItem(m, req.CreatedAt, i))
		}
	}
	if m, ok := docstore.Map(doc["contactPerson"]); ok {
		cp := ContactPerson{
			FirstName: docstore.String(m["firstName"]),
			LastName:  docstore.String(m["lastName"]),
			Email:     docstore.String(m["email"]),
			Phone:     docstore.String(m["phone"]),
		}
		req.ContactPerson = &cp
	}
	return req, nil
}

func decodeSupplier(m map[string]any) SupplierSnapshot {
	return SupplierSnapshot{
		ID:            docstore.String(m["id"]),
		Name:          docstore.String(m["name"]),
		ContactPerson: docstore.String(m["contactPerson"]),
		Email:         docstore.String(m["email"]),
		Phone:         docstore.String(m["phone"]),
		Address:       docstore.String(m["address"]),
		Country:       docstore.String(m["country"]),
	}
}

func decodeItem(m map[string]any, created time.Time, idx int) Item {
	item := Item{
		ID:             docstore.String(m["id"]),
		MaterialNumber: docstore.String(m["materialNumber"]),
		Designation:    strings.TrimSpace(docstore.String(m["designation"])),
		Description:    docstore.String(m["description"]),
	}
	if item.ID == "" {
		item.ID = ItemID(created, idx)
	}
	if item.Designation == "" {
		item.Designation = PlaceholderDesignation
	}
	if q, ok := docstore.Float(m["quantity"]); ok {
		item.Quantity = q
	}
	return item
}

// EncodeRequest converts a request into the stored document body. The id is not part
// of the body.
func EncodeRequest(req Request) docstore.Document {
	doc := docstore.Document{
		"requestNumber": req.RequestNumber,
		"title":         req.Title,
		"status":        string(req.Status),
		"createdAt":     req.CreatedAt.UTC(),
		"validUntil":    encodeTime(req.ValidUntil),
		"supplier":      encodeSupplier(req.Supplier),
		"items":         encodeItems(req.Items),
		"notes":         req.Notes,
		"contactPerson": encodeContact(req.ContactPerson),
	}
	return doc
}

func encodeTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func encodeSupplier(s SupplierSnapshot) map[string]any {
	return map[string]any{
		"id":            s.ID,
		"name":          s.Name,
		"contactPerson": s.ContactPerson,
		"email":         s.Email,
		"phone":         s.Phone,
		"address":       s.Address,
		"country":       s.Country,
	}
}

func encodeItems(items []Item) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		m := map[string]any{
			"id":          it.ID,
			"designation": it.Designation,
			"quantity":    it.Quantity,
		}
		if it.MaterialNumber != "" {
			m["materialNumber"] = it.MaterialNumber
		}
		if it.Description != "" {
			m["description"] = it.Description
		}
		out = append(out, m)
	}
	return out
}

func encodeContact(c *ContactPerson) any {
	if c == nil {
		return nil
	}
	return map[string]any{
		"firstName": c.FirstName,
		"lastName":  c.LastName,
		"email":     c.Email,
		"phone":     c.Phone,
	}
}
