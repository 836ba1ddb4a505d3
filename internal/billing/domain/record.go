package domain

import (
	"time"

	"gorm.io/datatypes"
)

// DateLayout is the canonical billing date format. Billing dates are civil
// dates, not timestamps; the upstream producer resolves the customer cutoff
// rule before the record reaches this service.
const DateLayout = "2006-01-02"

// BillableRecord is one unit of billable security work. Records are created
// and mutated by the upstream scheduling system; this service only reacts.
type BillableRecord struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customer_id"`
	SiteID      string            `json:"site_id"`
	BillingDate string            `json:"billing_date"`
	SalesAmount int64             `json:"sales_amount"`
	Detail      datatypes.JSONMap `json:"detail,omitempty"`

	// InvalidReason marks the record as excluded from aggregation without
	// physically deleting it. nil means the record counts.
	InvalidReason *string `json:"invalid_reason,omitempty"`
}

// Counted is the single membership predicate: a record belongs to an
// aggregate iff it exists and carries no invalidation reason.
func (r *BillableRecord) Counted() bool {
	return r != nil && r.InvalidReason == nil
}

// Key derives the grouping key of the aggregate this record belongs to.
func (r *BillableRecord) Key() string {
	return DeriveKey(r.CustomerID, r.SiteID, r.BillingDate)
}

// BillingDateValue parses the record's billing date.
func (r *BillableRecord) BillingDateValue() (time.Time, error) {
	return time.ParseInLocation(DateLayout, r.BillingDate, time.UTC)
}
