package rfq

import (
	"log/slog"
	"sort"

	"github.com/anfrage-erp/anfrage/internal/docstore"
)

// recentLimit is the number of requests listed on the dashboard.
const recentLimit = 5

// Stats summarises the request collection for the dashboard.
type Stats struct {
	TotalRequests  int       `json:"totalRequests"`
	TotalSuppliers int       `json:"totalSuppliers"`
	Completed      int       `json:"completed"`
	Pending        int       `json:"pending"`
	Recent         []Request `json:"recent"`
	Version        uint64    `json:"version"`
}

// SupplierStats summarises the requests addressed to one supplier.
type SupplierStats struct {
	SupplierID string         `json:"supplierId"`
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"byStatus"`
	Recent     []Request      `json:"recent"`
}

// NewMirror builds the read-side cache of the requests collection.
func NewMirror(store docstore.Gateway, logger *slog.Logger) *docstore.Mirror[Request] {
	return docstore.NewMirror(store, docstore.CollectionRequests, DecodeRequest, logger)
}

// ComputeStats derives dashboard figures. Drafts and sent requests count as pending.
func ComputeStats(requests []Request, suppliers int) Stats {
	st := Stats{TotalRequests: len(requests), TotalSuppliers: suppliers}
	for _, r := range requests {
		switch r.Status {
		case StatusCompleted:
			st.Completed++
		case StatusDraft, StatusSent:
			st.Pending++
		}
	}
	st.Recent = newest(requests, recentLimit)
	return st
}

// ComputeSupplierStats derives figures for requests whose snapshot names supplierID.
func ComputeSupplierStats(requests []Request, supplierID string) SupplierStats {
	st := SupplierStats{SupplierID: supplierID, ByStatus: map[Status]int{}}
	var matched []Request
	for _, r := range requests {
		if r.Supplier.ID != supplierID {
			continue
		}
		matched = append(matched, r)
		st.ByStatus[r.Status]++
	}
	st.Total = len(matched)
	st.Recent = newest(matched, recentLimit)
	return st
}

func newest(requests []Request, n int) []Request {
	sorted := make([]Request, len(requests))
	copy(sorted, requests)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Dashboard serves statistics from the collection mirrors. It never queries the
// gateway itself.
type Dashboard struct {
	requests  *docstore.Mirror[Request]
	suppliers func() int
}

// NewDashboard constructs a Dashboard. suppliers reports the current supplier count.
func NewDashboard(requests *docstore.Mirror[Request], suppliers func() int) *Dashboard {
	return &Dashboard{requests: requests, suppliers: suppliers}
}

// Stats returns the dashboard figures of the latest snapshot.
func (d *Dashboard) Stats() Stats {
	items, version := d.requests.Snapshot()
	count := 0
	if d.suppliers != nil {
		count = d.suppliers()
	}
	st := ComputeStats(items, count)
	st.Version = version
	return st
}

// Supplier returns the figures for one supplier.
func (d *Dashboard) Supplier(id string) SupplierStats {
	items, _ := d.requests.Snapshot()
	return ComputeSupplierStats(items, id)
}

// Err exposes the last subscription error of the requests mirror.
func (d *Dashboard) Err() error {
	return d.requests.Err()
}
