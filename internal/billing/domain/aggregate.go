package domain

import "time"

const (
	StatusDraft     = "draft"
	StatusFinalized = "finalized"
)

// BillingAggregate is the materialized invoice basis for one billing key.
// Items embeds full record snapshots so downstream readers never join back
// to the record source. Totals are recomputed from Items on every write,
// never incremented, so they cannot drift.
type BillingAggregate struct {
	Key         string `json:"key"`
	CustomerID  string `json:"customer_id"`
	SiteID      string `json:"site_id"`
	BillingDate string `json:"billing_date"`

	Items []BillableRecord `json:"items"`

	Subtotal    int64 `json:"subtotal"`
	TaxAmount   int64 `json:"tax_amount"`
	TotalAmount int64 `json:"total_amount"`

	Status           string    `json:"status"`
	PaymentDueDateAt time.Time `json:"payment_due_date_at"`

	// Version guards read-modify-write cycles. Writes carry the version the
	// aggregate was read at and fail with ErrVersionConflict when another
	// writer got there first.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertItem replaces the item with the same record id, or appends when the
// id is not present. Returns true when an existing item was replaced.
// Replace-by-id keeps event redelivery idempotent.
func (a *BillingAggregate) UpsertItem(rec BillableRecord) bool {
	for i := range a.Items {
		if a.Items[i].ID == rec.ID {
			a.Items[i] = rec
			return true
		}
	}
	a.Items = append(a.Items, rec)
	return false
}

// RemoveItem removes the item with the given record id. Returns false when
// no item matched.
func (a *BillingAggregate) RemoveItem(recordID string) bool {
	for i := range a.Items {
		if a.Items[i].ID == recordID {
			a.Items = append(a.Items[:i], a.Items[i+1:]...)
			return true
		}
	}
	return false
}

func (a *BillingAggregate) Empty() bool {
	return len(a.Items) == 0
}

// RecomputeTotals recalculates subtotal, tax and total from Items.
// taxRateBasisPoints of 1000 means 10%; tax is floored.
func (a *BillingAggregate) RecomputeTotals(taxRateBasisPoints int64) {
	var subtotal int64
	for i := range a.Items {
		subtotal += a.Items[i].SalesAmount
	}
	a.Subtotal = subtotal
	a.TaxAmount = subtotal * taxRateBasisPoints / 10000
	a.TotalAmount = a.Subtotal + a.TaxAmount
}
