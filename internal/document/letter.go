// Package document renders a request as the formal quotation request letter that is
// captured for export.
package document

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/anfrage-erp/anfrage/internal/rfq"
)

// Fixed strings of the letter.
const (
	ContactPlaceholder = "[Ansprechpartner nicht angegeben]"
	InvalidDate        = "Invalid Date"
	NoDeadline         = "N/A"
	NoMaterialNumber   = "-"
)

// CaptureTargetID is the id of the letter's root element.
const CaptureTargetID = "request-document"

// Company is the sender identity printed in the letterhead.
type Company struct {
	Name       string
	Street     string
	PostalCity string
	Country    string
}

// DefaultCompany is the identity used when none is configured.
var DefaultCompany = Company{
	Name:       "Swiss-GlobalTech GmbH",
	Street:     "Rheinsichtweg 8",
	PostalCity: "8274 Tägerwilen",
	Country:    "Schweiz",
}

// AddressLine joins the address on one line.
func (c Company) AddressLine() string {
	return joinNonEmpty(", ", c.Street, c.PostalCity, c.Country)
}

// Letter is the resolved content of a request letter. Every string is final; the
// template only arranges them.
type Letter struct {
	Company Company

	// ContactName is the placeholder when no name is present; ShowContact is false then.
	ContactName  string
	ContactEmail string
	ContactPhone string
	ShowContact  bool

	SupplierName    string
	SupplierContact string
	SupplierAddress []string
	SupplierCountry string

	Number   string
	Date     string
	Deadline string

	Items []LetterItem
	Notes []string

	Signature []string
}

// LetterItem is one row of the item table.
type LetterItem struct {
	Pos            int
	MaterialNumber string
	Designation    string
	Description    []string
	Quantity       string
}

var quantityPrinter = message.NewPrinter(language.German)

// Build resolves req into letter content. It reads no clock and no external data.
func Build(req rfq.Request, company Company) Letter {
	l := Letter{
		Company:         company,
		ContactName:     ContactPlaceholder,
		SupplierName:    req.Supplier.Name,
		SupplierContact: req.Supplier.ContactPerson,
		SupplierAddress: lines(req.Supplier.Address),
		SupplierCountry: req.Supplier.Country,
		Number:          req.RequestNumber,
		Date:            FormatDate(req.CreatedAt),
		Deadline:        NoDeadline,
		Notes:           lines(req.Notes),
	}
	if req.ValidUntil != nil {
		l.Deadline = FormatDate(*req.ValidUntil)
	}
	if cp := req.ContactPerson; cp != nil && cp.Named() {
		l.ShowContact = true
		l.ContactName = cp.FullName()
		l.ContactEmail = strings.TrimSpace(cp.Email)
		l.ContactPhone = strings.TrimSpace(cp.Phone)
	}
	for i, it := range req.Items {
		mat := strings.TrimSpace(it.MaterialNumber)
		if mat == "" {
			mat = NoMaterialNumber
		}
		l.Items = append(l.Items, LetterItem{
			Pos:            i + 1,
			MaterialNumber: mat,
			Designation:    it.Designation,
			Description:    lines(it.Description),
			Quantity:       FormatQuantity(it.Quantity),
		})
	}
	if l.ShowContact {
		l.Signature = []string{l.ContactName, company.Name}
	} else {
		l.Signature = []string{company.Name}
	}
	return l
}

var months = [...]string{
	"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember",
}

// FormatDate renders t as "02. Januar 2006". Zero or out-of-range values yield
// InvalidDate.
func FormatDate(t time.Time) string {
	if t.IsZero() || t.Year() < 1 || t.Year() > 9999 {
		return InvalidDate
	}
	t = t.UTC()
	var b strings.Builder
	if t.Day() < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.Itoa(t.Day()))
	b.WriteString(". ")
	b.WriteString(months[t.Month()-1])
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(t.Year()))
	return b.String()
}

// FormatQuantity renders q with German separators and at most three decimals.
func FormatQuantity(q float64) string {
	return quantityPrinter.Sprint(number.Decimal(q, number.MaxFractionDigits(3)))
}

func lines(s string) []string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
