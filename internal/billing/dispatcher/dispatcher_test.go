package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shiftwise/guardbill/internal/billing/domain"
	"github.com/shiftwise/guardbill/internal/billing/engine"
	"github.com/shiftwise/guardbill/internal/billing/outbox"
	"github.com/shiftwise/guardbill/internal/billing/store"
	"github.com/shiftwise/guardbill/internal/clock"
	"github.com/shiftwise/guardbill/internal/config"
	customerdomain "github.com/shiftwise/guardbill/internal/customer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type customerStub struct {
	terms map[string]customerdomain.PaymentTerms
}

func (s *customerStub) Create(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error) {
	return customerdomain.Customer{}, errors.New("not implemented")
}

func (s *customerStub) ResolvePaymentTerms(ctx context.Context, customerID string) (customerdomain.PaymentTerms, error) {
	terms, ok := s.terms[customerID]
	if !ok {
		return customerdomain.PaymentTerms{}, customerdomain.ErrNotFound
	}
	return terms, nil
}

type fixture struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	appender   *outbox.Appender
	store      domain.AggregateStore
	customers  *customerStub
}

func setup(t *testing.T) *fixture {
	return setupWith(t, clock.NewSystemClock(), 100)
}

func setupWith(t *testing.T, clk clock.Clock, batchSize int) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE billing_aggregates (
		billing_key TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		site_id TEXT NOT NULL,
		billing_date TEXT NOT NULL,
		items TEXT NOT NULL DEFAULT '[]',
		subtotal INTEGER NOT NULL DEFAULT 0,
		tax_amount INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		payment_due_date_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`).Error)

	require.NoError(t, db.Exec(`CREATE TABLE billing_record_events (
		id INTEGER PRIMARY KEY,
		record_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		before_snapshot TEXT,
		after_snapshot TEXT,
		published INTEGER NOT NULL DEFAULT 0,
		poisoned INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME,
		published_at DATETIME,
		UNIQUE (record_id, seq)
	)`).Error)

	st := store.Provide(clk)
	customers := &customerStub{terms: map[string]customerdomain.PaymentTerms{
		"C1": {PaymentMonthOffset: 1, PaymentDay: 31},
	}}
	holder := config.NewBillingConfigHolderWith(config.BillingConfig{
		TaxRateBasisPoints: 1000,
		Dispatcher: config.DispatcherConfig{
			BatchSize: batchSize,
			Workers:   2,
		},
	})

	eng := engine.New(engine.Params{
		DB:        db,
		Log:       zap.NewNop(),
		Store:     st,
		Customers: customers,
		Billing:   holder,
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &fixture{
		db: db,
		dispatcher: New(Params{
			DB:      db,
			Log:     zap.NewNop(),
			Engine:  eng,
			Billing: holder,
			Clock:   clk,
		}),
		appender:  outbox.New(node, clk),
		store:     st,
		customers: customers,
	}
}

func record(id string, customer, site, date string, amount int64) *domain.BillableRecord {
	return &domain.BillableRecord{
		ID:          id,
		CustomerID:  customer,
		SiteID:      site,
		BillingDate: date,
		SalesAmount: amount,
	}
}

type eventStatus struct {
	RecordID  string
	Seq       int64
	Published bool
	Poisoned  bool
	Error     *string
}

func eventStatuses(t *testing.T, db *gorm.DB) []eventStatus {
	t.Helper()
	var rows []eventStatus
	require.NoError(t, db.Raw(
		`SELECT record_id, seq, published, poisoned, error
		 FROM billing_record_events ORDER BY record_id, seq`,
	).Scan(&rows).Error)
	return rows
}

func TestProcessPendingAppliesInOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r1 := record("R1", "C1", "S1", "2026-04-30", 100)
	r1v2 := record("R1", "C1", "S1", "2026-04-30", 120)
	r2 := record("R2", "C1", "S1", "2026-04-30", 50)

	require.NoError(t, f.appender.Append(ctx, f.db, nil, r1))
	require.NoError(t, f.appender.Append(ctx, f.db, nil, r2))
	require.NoError(t, f.appender.Append(ctx, f.db, r1, r1v2))

	processed, err := f.dispatcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	agg, err := f.store.Get(ctx, f.db, "C1-S1-2026-04-30")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Len(t, agg.Items, 2)
	assert.Equal(t, int64(170), agg.Subtotal)

	for _, row := range eventStatuses(t, f.db) {
		assert.True(t, row.Published, "event %s/%d not published", row.RecordID, row.Seq)
		assert.False(t, row.Poisoned)
	}

	// Nothing left in the outbox.
	processed, err = f.dispatcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestProcessPendingDrainsDeletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r1 := record("R1", "C1", "S1", "2026-04-30", 100)
	require.NoError(t, f.appender.Append(ctx, f.db, nil, r1))
	require.NoError(t, f.appender.Append(ctx, f.db, r1, nil))

	processed, err := f.dispatcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	agg, err := f.store.Get(ctx, f.db, "C1-S1-2026-04-30")
	require.NoError(t, err)
	assert.Nil(t, agg)
}

func TestUnclassifiableEventIsPoisoned(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Both snapshots empty: no producer writes this, but a parked event must
	// not wedge the outbox.
	require.NoError(t, f.db.Exec(
		`INSERT INTO billing_record_events
		 (id, record_id, seq, before_snapshot, after_snapshot, published, poisoned)
		 VALUES (1, 'R1', 1, NULL, NULL, false, false)`,
	).Error)
	require.NoError(t, f.appender.Append(ctx, f.db, nil, record("R2", "C1", "S1", "2026-04-30", 50)))

	processed, err := f.dispatcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	rows := eventStatuses(t, f.db)
	require.Len(t, rows, 2)

	assert.True(t, rows[0].Poisoned)
	assert.False(t, rows[0].Published)
	require.NotNil(t, rows[0].Error)
	assert.NotEmpty(t, *rows[0].Error)

	// The healthy record was unaffected.
	assert.True(t, rows[1].Published)
	agg, err := f.store.Get(ctx, f.db, "C1-S1-2026-04-30")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, int64(50), agg.Subtotal)

	// A poisoned event is never refetched.
	processed, err = f.dispatcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestFailedEventStaysForRedelivery(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// C9 has no payment terms yet, so applying its events fails.
	r1 := record("R1", "C9", "S1", "2026-04-30", 100)
	r1v2 := record("R1", "C9", "S1", "2026-04-30", 120)
	require.NoError(t, f.appender.Append(ctx, f.db, nil, r1))
	require.NoError(t, f.appender.Append(ctx, f.db, r1, r1v2))

	processed, err := f.dispatcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)

	// The failure stops the whole group: seq 2 must not run before seq 1.
	for _, row := range eventStatuses(t, f.db) {
		assert.False(t, row.Published)
		assert.False(t, row.Poisoned)
	}

	// Once the customer exists, redelivery converges.
	f.customers.terms["C9"] = customerdomain.PaymentTerms{PaymentMonthOffset: 1, PaymentDay: 10}

	processed, err = f.dispatcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	agg, err := f.store.Get(ctx, f.db, "C9-S1-2026-04-30")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, int64(120), agg.Subtotal)
}

func TestOldestPendingDrainsFirst(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC))
	f := setupWith(t, clk, 2)
	ctx := context.Background()

	// Z1 has been waiting longer than the A* backlog. A batch smaller than
	// the backlog must still reach it on the first poll.
	require.NoError(t, f.appender.Append(ctx, f.db, nil, record("Z1", "C1", "S9", "2026-04-30", 30)))
	clk.Advance(time.Minute)
	require.NoError(t, f.appender.Append(ctx, f.db, nil, record("A1", "C1", "S1", "2026-04-30", 100)))
	require.NoError(t, f.appender.Append(ctx, f.db, nil, record("A2", "C1", "S1", "2026-04-30", 50)))
	require.NoError(t, f.appender.Append(ctx, f.db, nil, record("A3", "C1", "S1", "2026-04-30", 25)))

	processed, err := f.dispatcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	var published bool
	require.NoError(t, f.db.Raw(
		`SELECT published FROM billing_record_events WHERE record_id = 'Z1'`,
	).Scan(&published).Error)
	assert.True(t, published)

	agg, err := f.store.Get(ctx, f.db, "C1-S9-2026-04-30")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, int64(30), agg.Subtotal)
}

func TestGroupByRecordCollectsInterleavedRows(t *testing.T) {
	rows := []eventRow{
		{RecordID: "A", Seq: 1},
		{RecordID: "B", Seq: 1},
		{RecordID: "A", Seq: 3},
		{RecordID: "C", Seq: 1},
		{RecordID: "A", Seq: 2},
		{RecordID: "C", Seq: 2},
	}

	groups := groupByRecord(rows)
	require.Len(t, groups, 3)

	byRecord := map[string][]eventRow{}
	for _, group := range groups {
		byRecord[group[0].RecordID] = group
	}

	require.Len(t, byRecord["A"], 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{byRecord["A"][0].Seq, byRecord["A"][1].Seq, byRecord["A"][2].Seq})
	require.Len(t, byRecord["B"], 1)
	require.Len(t, byRecord["C"], 2)
	assert.Equal(t, []int64{1, 2}, []int64{byRecord["C"][0].Seq, byRecord["C"][1].Seq})
}

func TestShardForIsStable(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		first := shardFor("R1", workers)
		assert.Equal(t, first, shardFor("R1", workers))
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, workers)
	}
}
