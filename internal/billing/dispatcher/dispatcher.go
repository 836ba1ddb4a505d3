package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shiftwise/guardbill/internal/billing/domain"
	"github.com/shiftwise/guardbill/internal/billing/engine"
	"github.com/shiftwise/guardbill/internal/clock"
	"github.com/shiftwise/guardbill/internal/config"
	"github.com/shiftwise/guardbill/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Engine  *engine.Engine
	Billing *config.BillingConfigHolder
	Clock   clock.Clock
	Metrics *metrics.BillingMetrics `optional:"true"`
}

// Dispatcher drains the billing_record_events outbox. Events are fetched in
// (record_id, seq) order and sharded across workers by record id, so one
// record's mutations apply strictly in order while distinct records proceed
// concurrently. Delivery is at-least-once; a failed event stays unpublished
// and the engine's idempotency makes the redelivery safe.
type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	engine  *engine.Engine
	billing *config.BillingConfigHolder
	clock   clock.Clock
	metrics *metrics.BillingMetrics
}

func New(p Params) *Dispatcher {
	return &Dispatcher{
		db:      p.DB,
		log:     p.Log.Named("billing.dispatcher"),
		engine:  p.Engine,
		billing: p.Billing,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

type eventRow struct {
	ID       snowflake.ID   `gorm:"column:id"`
	RecordID string         `gorm:"column:record_id"`
	Seq      int64          `gorm:"column:seq"`
	Before   datatypes.JSON `gorm:"column:before_snapshot"`
	After    datatypes.JSON `gorm:"column:after_snapshot"`
}

func (d *Dispatcher) RunForever(ctx context.Context) {
	for {
		interval := d.billing.Get().Dispatcher.PollInterval
		if interval <= 0 {
			interval = 2 * time.Second
		}

		if _, err := d.ProcessPending(ctx); err != nil {
			d.log.Warn("dispatcher poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// ProcessPending fetches one batch of unpublished events and applies them.
// Returns the number of events successfully applied.
func (d *Dispatcher) ProcessPending(ctx context.Context) (int, error) {
	cfg := d.billing.Get().Dispatcher

	// Oldest first so a deep backlog on one record id cannot starve the
	// others. Within a record, seq is assigned under the producer's
	// transaction, so created_at never decreases with seq and the tiebreak
	// keeps earlier seqs inside the batch cut.
	var rows []eventRow
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, record_id, seq, before_snapshot, after_snapshot
		 FROM billing_record_events
		 WHERE published = false AND poisoned = false
		 ORDER BY created_at ASC, record_id ASC, seq ASC
		 LIMIT ?`,
		cfg.BatchSize,
	).Scan(&rows).Error
	if err != nil {
		return 0, err
	}

	if d.metrics != nil {
		d.metrics.ObserveBatch(len(rows))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	pollID := ulid.Make().String()
	log := d.log.With(zap.String("poll_id", pollID))

	groups := groupByRecord(rows)
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	shards := make([][][]eventRow, workers)
	for _, group := range groups {
		idx := shardFor(group[0].RecordID, workers)
		shards[idx] = append(shards[idx], group)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		wg.Add(1)
		go func(shard [][]eventRow) {
			defer wg.Done()
			for _, group := range shard {
				n := d.processGroup(ctx, log, group)
				mu.Lock()
				processed += n
				mu.Unlock()
			}
		}(shard)
	}
	wg.Wait()

	return processed, nil
}

// processGroup applies one record's events in seq order. The first failure
// stops the group: applying seq n+1 before seq n has committed would
// corrupt the aggregate.
func (d *Dispatcher) processGroup(ctx context.Context, log *zap.Logger, group []eventRow) int {
	processed := 0
	for _, row := range group {
		if ctx.Err() != nil {
			return processed
		}

		before, err := decodeSnapshot(row.Before)
		if err == nil {
			var after *domain.BillableRecord
			after, err = decodeSnapshot(row.After)
			if err == nil {
				err = d.processEvent(ctx, log, row, before, after)
			}
		}
		if err != nil {
			log.Warn("event application failed, leaving for redelivery",
				zap.Error(err),
				zap.String("record_id", row.RecordID),
				zap.Int64("seq", row.Seq),
			)
			return processed
		}
		processed++
	}
	return processed
}

func (d *Dispatcher) processEvent(ctx context.Context, log *zap.Logger, row eventRow, before, after *domain.BillableRecord) error {
	ev, err := domain.Classify(before, after)
	if err != nil {
		// A producer bug, not a transient failure. Redelivering would loop
		// forever, so the event is parked instead.
		log.Error("unclassifiable event, marking poisoned",
			zap.Error(err),
			zap.String("record_id", row.RecordID),
			zap.Int64("seq", row.Seq),
		)
		if d.metrics != nil {
			d.metrics.ObservePoisoned()
		}
		return d.markPoisoned(ctx, row.ID, err)
	}

	start := d.clock.Now()
	if err := d.engine.Apply(ctx, ev); err != nil {
		if d.metrics != nil {
			d.metrics.ObserveApply(ev.Kind, metrics.OutcomeFailed, d.clock.Now().Sub(start))
		}
		return err
	}
	if d.metrics != nil {
		d.metrics.ObserveApply(ev.Kind, metrics.OutcomeApplied, d.clock.Now().Sub(start))
	}

	return d.markPublished(ctx, row.ID)
}

func (d *Dispatcher) markPublished(ctx context.Context, id snowflake.ID) error {
	return d.db.WithContext(ctx).Exec(
		`UPDATE billing_record_events SET published = true, published_at = ? WHERE id = ?`,
		d.clock.Now(),
		id,
	).Error
}

func (d *Dispatcher) markPoisoned(ctx context.Context, id snowflake.ID, cause error) error {
	return d.db.WithContext(ctx).Exec(
		`UPDATE billing_record_events SET poisoned = true, error = ? WHERE id = ?`,
		errorSummary(cause),
		id,
	).Error
}

func decodeSnapshot(raw datatypes.JSON) (*domain.BillableRecord, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rec domain.BillableRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &rec, nil
}

// groupByRecord collects the batch into per-record groups sorted by seq.
// The batch itself is age-ordered, so one record's rows need not be
// adjacent.
func groupByRecord(rows []eventRow) [][]eventRow {
	index := make(map[string]int, len(rows))
	var groups [][]eventRow
	for _, row := range rows {
		i, ok := index[row.RecordID]
		if !ok {
			i = len(groups)
			index[row.RecordID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}
	for _, group := range groups {
		sort.Slice(group, func(a, b int) bool { return group[a].Seq < group[b].Seq })
	}
	return groups
}

func shardFor(recordID string, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recordID))
	return int(h.Sum32() % uint32(workers))
}

func errorSummary(err error) string {
	if err == nil {
		return ""
	}
	value := strings.TrimSpace(err.Error())
	if value == "" {
		return "unknown_error"
	}
	if len(value) > 256 {
		return value[:256]
	}
	return value
}
