package rfq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anfrage-erp/anfrage/internal/docstore"
)

// sequenceCounter names the gateway counter backing request numbers.
const sequenceCounter = "requests"

// Numberer issues request numbers of the form YYYY-NNNNN.
//
// The sequence is global and does not restart with the calendar year: after 2024-00042
// the first request of 2025 is 2025-00043. The latest stored number seeds the atomic
// counter as a floor so imported or legacy data is never overtaken.
type Numberer struct {
	store docstore.Gateway
	now   func() time.Time
}

// NewNumberer constructs a Numberer.
func NewNumberer(store docstore.Gateway, now func() time.Time) *Numberer {
	if now == nil {
		now = time.Now
	}
	return &Numberer{store: store, now: now}
}

// Next returns the number for a request being created now.
func (n *Numberer) Next(ctx context.Context) (string, error) {
	latest, err := n.store.Query(ctx, docstore.CollectionRequests, docstore.Query{
		OrderBy: "createdAt",
		Desc:    true,
		Limit:   1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: query latest: %v", ErrNumberGeneration, err)
	}
	var floor int64
	if len(latest) > 0 {
		floor = ParseSequence(docstore.String(latest[0]["requestNumber"]))
	}
	seq, err := n.store.Next(ctx, sequenceCounter, floor)
	if err != nil {
		return "", fmt.Errorf("%w: increment: %v", ErrNumberGeneration, err)
	}
	return FormatNumber(n.now().Year(), seq), nil
}

// FormatNumber renders a year and sequence as YYYY-NNNNN.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("%04d-%05d", year, seq)
}

// ParseSequence extracts the sequence after the first dash. The leading run of digits
// counts; anything unparsable yields 0.
func ParseSequence(number string) int64 {
	_, suffix, ok := strings.Cut(number, "-")
	if !ok {
		return 0
	}
	var seq int64
	for _, r := range suffix {
		if r < '0' || r > '9' {
			break
		}
		seq = seq*10 + int64(r-'0')
		if seq > 1<<53 {
			return 0
		}
	}
	return seq
}
