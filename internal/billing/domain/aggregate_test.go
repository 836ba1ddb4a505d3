package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func reason(s string) *string { return &s }

func TestCounted(t *testing.T) {
	var missing *BillableRecord
	assert.False(t, missing.Counted())

	valid := &BillableRecord{ID: "r1"}
	assert.True(t, valid.Counted())

	invalid := &BillableRecord{ID: "r1", InvalidReason: reason("duplicate")}
	assert.False(t, invalid.Counted())
}

func TestUpsertItemReplacesByID(t *testing.T) {
	agg := BillingAggregate{}

	replaced := agg.UpsertItem(BillableRecord{ID: "r1", SalesAmount: 100})
	assert.False(t, replaced)
	assert.Len(t, agg.Items, 1)

	replaced = agg.UpsertItem(BillableRecord{ID: "r1", SalesAmount: 120})
	assert.True(t, replaced)
	assert.Len(t, agg.Items, 1)
	assert.Equal(t, int64(120), agg.Items[0].SalesAmount)

	replaced = agg.UpsertItem(BillableRecord{ID: "r2", SalesAmount: 50})
	assert.False(t, replaced)
	assert.Len(t, agg.Items, 2)
}

func TestRemoveItemByID(t *testing.T) {
	agg := BillingAggregate{Items: []BillableRecord{
		{ID: "r1", SalesAmount: 100},
		{ID: "r2", SalesAmount: 50},
	}}

	assert.True(t, agg.RemoveItem("r1"))
	assert.Len(t, agg.Items, 1)
	assert.Equal(t, "r2", agg.Items[0].ID)

	// Removing an id that is not present is a no-op.
	assert.False(t, agg.RemoveItem("r1"))
	assert.Len(t, agg.Items, 1)

	assert.True(t, agg.RemoveItem("r2"))
	assert.True(t, agg.Empty())
}

func TestRecomputeTotals(t *testing.T) {
	agg := BillingAggregate{Items: []BillableRecord{
		{ID: "r1", SalesAmount: 100},
		{ID: "r2", SalesAmount: 55},
	}}

	agg.RecomputeTotals(1000)

	assert.Equal(t, int64(155), agg.Subtotal)
	// 10% of 155 floors to 15.
	assert.Equal(t, int64(15), agg.TaxAmount)
	assert.Equal(t, int64(170), agg.TotalAmount)
}

func TestRecomputeTotalsFromScratchEachTime(t *testing.T) {
	agg := BillingAggregate{Items: []BillableRecord{{ID: "r1", SalesAmount: 100}}}
	agg.RecomputeTotals(1000)
	assert.Equal(t, int64(100), agg.Subtotal)

	agg.RemoveItem("r1")
	agg.RecomputeTotals(1000)
	assert.Equal(t, int64(0), agg.Subtotal)
	assert.Equal(t, int64(0), agg.TaxAmount)
	assert.Equal(t, int64(0), agg.TotalAmount)
}
