package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shiftwise/guardbill/internal/billing/domain"
	"github.com/shiftwise/guardbill/internal/config"
	customerdomain "github.com/shiftwise/guardbill/internal/customer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAttempts bounds the optimistic-concurrency retry loop. A conflict past
// this budget propagates to the dispatcher, which redelivers the event.
const maxAttempts = 3

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Store     domain.AggregateStore
	Customers customerdomain.Service
	Billing   *config.BillingConfigHolder
}

// Engine applies classified record mutations to billing aggregates. It
// holds no state across invocations; all shared state lives in the store.
type Engine struct {
	db        *gorm.DB
	log       *zap.Logger
	store     domain.AggregateStore
	customers customerdomain.Service
	billing   *config.BillingConfigHolder
}

func New(p Params) *Engine {
	return &Engine{
		db:        p.DB,
		log:       p.Log.Named("billing.engine"),
		store:     p.Store,
		customers: p.Customers,
		billing:   p.Billing,
	}
}

// Apply executes the decision table for one change event. Errors propagate
// to the caller, which owns retry through redelivery; re-applying the same
// event against an already-consistent aggregate is a no-op.
func (e *Engine) Apply(ctx context.Context, ev domain.ChangeEvent) error {
	switch ev.Kind {
	case domain.ChangeCreated:
		if !ev.After.Counted() {
			return nil
		}
		return e.withRetry(ctx, func() error {
			return e.upsertRecord(ctx, e.db, ev.After, false)
		})

	case domain.ChangeDeleted:
		if !ev.Before.Counted() {
			return nil
		}
		return e.withRetry(ctx, func() error {
			return e.removeRecord(ctx, e.db, ev.Before.Key(), ev.Before.ID)
		})

	case domain.ChangeUpdated:
		return e.applyUpdate(ctx, ev)

	default:
		return domain.ErrUnclassifiableEvent
	}
}

func (e *Engine) applyUpdate(ctx context.Context, ev domain.ChangeEvent) error {
	beforeCounted := ev.Before.Counted()
	afterCounted := ev.After.Counted()

	switch {
	case !beforeCounted && !afterCounted:
		return nil

	case beforeCounted && !afterCounted:
		// Invalidation leaves the record physically present but removes it
		// from its aggregate, same as a hard delete.
		return e.withRetry(ctx, func() error {
			return e.removeRecord(ctx, e.db, ev.Before.Key(), ev.Before.ID)
		})

	case !beforeCounted && afterCounted:
		return e.withRetry(ctx, func() error {
			return e.upsertRecord(ctx, e.db, ev.After, false)
		})

	default:
		if ev.Before.Key() == ev.After.Key() {
			return e.withRetry(ctx, func() error {
				return e.upsertRecord(ctx, e.db, ev.After, true)
			})
		}
		// The record moved between aggregates. Both sides commit together
		// or not at all: a partial migration would count the record in
		// neither (or both) aggregates.
		return e.withRetry(ctx, func() error {
			return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := e.removeRecord(ctx, tx, ev.Before.Key(), ev.Before.ID); err != nil {
					return err
				}
				return e.upsertRecord(ctx, tx, ev.After, false)
			})
		})
	}
}

// upsertRecord adds or replaces rec inside the aggregate at its key,
// creating the aggregate when absent. expectExisting marks the same-key
// update path, where a missing aggregate or item indicates repaired or
// partially-written state and is healed with a warning instead of failing.
func (e *Engine) upsertRecord(ctx context.Context, conn *gorm.DB, rec *domain.BillableRecord, expectExisting bool) error {
	key := rec.Key()

	agg, err := e.store.Get(ctx, conn, key)
	if err != nil {
		return err
	}

	if agg == nil {
		if expectExisting {
			e.log.Warn("aggregate missing during update, recreating",
				zap.String("billing_key", key),
				zap.String("record_id", rec.ID),
			)
		}
		agg, err = e.newAggregate(ctx, rec)
		if err != nil {
			return err
		}
	}

	replaced := agg.UpsertItem(*rec)
	if expectExisting && !replaced && agg.Version != 0 {
		e.log.Warn("item missing during update, appending",
			zap.String("billing_key", key),
			zap.String("record_id", rec.ID),
		)
	}

	agg.RecomputeTotals(e.billing.Get().TaxRateBasisPoints)
	return e.store.Put(ctx, conn, agg)
}

// removeRecord drops recordID from the aggregate at key and deletes the
// aggregate when it becomes empty. Absent aggregate or item means the
// removal already happened; both are safe under redelivery.
func (e *Engine) removeRecord(ctx context.Context, conn *gorm.DB, key, recordID string) error {
	agg, err := e.store.Get(ctx, conn, key)
	if err != nil {
		return err
	}
	if agg == nil {
		e.log.Warn("aggregate missing during removal, nothing to do",
			zap.String("billing_key", key),
			zap.String("record_id", recordID),
		)
		return nil
	}

	if !agg.RemoveItem(recordID) {
		return nil
	}

	if agg.Empty() {
		return e.store.Delete(ctx, conn, key, agg.Version)
	}

	agg.RecomputeTotals(e.billing.Get().TaxRateBasisPoints)
	return e.store.Put(ctx, conn, agg)
}

// newAggregate initializes a draft aggregate for rec's key. Creation
// requires the customer's payment terms; a missing customer aborts the
// whole operation so no partial aggregate is ever written.
func (e *Engine) newAggregate(ctx context.Context, rec *domain.BillableRecord) (*domain.BillingAggregate, error) {
	terms, err := e.customers.ResolvePaymentTerms(ctx, rec.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("resolve payment terms for customer %s: %w", rec.CustomerID, err)
	}

	billingDate, err := rec.BillingDateValue()
	if err != nil {
		return nil, fmt.Errorf("parse billing date %q: %w", rec.BillingDate, err)
	}

	return &domain.BillingAggregate{
		Key:              rec.Key(),
		CustomerID:       rec.CustomerID,
		SiteID:           rec.SiteID,
		BillingDate:      rec.BillingDate,
		Status:           domain.StatusDraft,
		PaymentDueDateAt: terms.DueDate(billingDate),
	}, nil
}

// withRetry reruns fn on optimistic-concurrency collisions: a stale version
// or an insert that lost a creation race. Each rerun starts from a fresh
// read, so the loop converges on the merged state.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) && !errors.Is(err, domain.ErrDuplicateAggregate) {
			return err
		}

		e.log.Warn("aggregate write conflict, retrying", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return err
}
