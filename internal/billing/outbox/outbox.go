package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shiftwise/guardbill/internal/billing/domain"
	"github.com/shiftwise/guardbill/internal/clock"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Appender writes change events into the billing_record_events outbox. The
// upstream record writer calls Append inside the same transaction that
// persists the record mutation, so the per-record seq is assigned under
// the same lock that orders the mutations themselves.
type Appender struct {
	genID *snowflake.Node
	clock clock.Clock
}

func New(genID *snowflake.Node, clk clock.Clock) *Appender {
	return &Appender{genID: genID, clock: clk}
}

func (a *Appender) Append(ctx context.Context, tx *gorm.DB, before, after *domain.BillableRecord) error {
	// Classify up front so malformed pairs never reach the outbox.
	ev, err := domain.Classify(before, after)
	if err != nil {
		return err
	}

	recordID := recordIDOf(ev)

	var seq int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM billing_record_events WHERE record_id = ?`,
		recordID,
	).Scan(&seq).Error; err != nil {
		return err
	}

	beforeJSON, err := marshalSnapshot(before)
	if err != nil {
		return fmt.Errorf("encode before snapshot %s: %w", recordID, err)
	}
	afterJSON, err := marshalSnapshot(after)
	if err != nil {
		return fmt.Errorf("encode after snapshot %s: %w", recordID, err)
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO billing_record_events
		 (id, record_id, seq, before_snapshot, after_snapshot, published, poisoned, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.genID.Generate(),
		recordID,
		seq,
		beforeJSON,
		afterJSON,
		false,
		false,
		a.clock.Now(),
	).Error
}

func recordIDOf(ev domain.ChangeEvent) string {
	if ev.After != nil {
		return ev.After.ID
	}
	return ev.Before.ID
}

func marshalSnapshot(rec *domain.BillableRecord) (datatypes.JSON, error) {
	if rec == nil {
		return nil, nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
