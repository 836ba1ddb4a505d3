package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shiftwise/guardbill/internal/billing/domain"
	"github.com/shiftwise/guardbill/internal/clock"
	"github.com/shiftwise/guardbill/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type store struct {
	clock clock.Clock
}

func Provide(clk clock.Clock) domain.AggregateStore {
	return &store{clock: clk}
}

type aggregateRow struct {
	Key              string         `gorm:"column:billing_key"`
	CustomerID       string         `gorm:"column:customer_id"`
	SiteID           string         `gorm:"column:site_id"`
	BillingDate      string         `gorm:"column:billing_date"`
	Items            datatypes.JSON `gorm:"column:items"`
	Subtotal         int64          `gorm:"column:subtotal"`
	TaxAmount        int64          `gorm:"column:tax_amount"`
	TotalAmount      int64          `gorm:"column:total_amount"`
	Status           string         `gorm:"column:status"`
	PaymentDueDateAt time.Time      `gorm:"column:payment_due_date_at"`
	Version          int64          `gorm:"column:version"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
}

func (r *aggregateRow) toDomain() (*domain.BillingAggregate, error) {
	var items []domain.BillableRecord
	if len(r.Items) > 0 {
		if err := json.Unmarshal(r.Items, &items); err != nil {
			return nil, fmt.Errorf("decode aggregate items %s: %w", r.Key, err)
		}
	}

	return &domain.BillingAggregate{
		Key:              r.Key,
		CustomerID:       r.CustomerID,
		SiteID:           r.SiteID,
		BillingDate:      r.BillingDate,
		Items:            items,
		Subtotal:         r.Subtotal,
		TaxAmount:        r.TaxAmount,
		TotalAmount:      r.TotalAmount,
		Status:           r.Status,
		PaymentDueDateAt: r.PaymentDueDateAt,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func (s *store) Get(ctx context.Context, conn *gorm.DB, key string) (*domain.BillingAggregate, error) {
	var row aggregateRow
	err := conn.WithContext(ctx).Raw(
		`SELECT billing_key, customer_id, site_id, billing_date, items, subtotal, tax_amount, total_amount,
		        status, payment_due_date_at, version, created_at, updated_at
		 FROM billing_aggregates WHERE billing_key = ?`,
		key,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Key == "" {
		return nil, nil
	}

	return row.toDomain()
}

// Put inserts when agg.Version is zero, otherwise performs a version-checked
// update. On success agg.Version reflects the stored version.
func (s *store) Put(ctx context.Context, conn *gorm.DB, agg *domain.BillingAggregate) error {
	items, err := json.Marshal(agg.Items)
	if err != nil {
		return fmt.Errorf("encode aggregate items %s: %w", agg.Key, err)
	}

	now := s.clock.Now()
	if agg.Version == 0 {
		err := conn.WithContext(ctx).Exec(
			`INSERT INTO billing_aggregates
			 (billing_key, customer_id, site_id, billing_date, items, subtotal, tax_amount, total_amount,
			  status, payment_due_date_at, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			agg.Key,
			agg.CustomerID,
			agg.SiteID,
			agg.BillingDate,
			datatypes.JSON(items),
			agg.Subtotal,
			agg.TaxAmount,
			agg.TotalAmount,
			agg.Status,
			agg.PaymentDueDateAt,
			now,
			now,
		).Error
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateAggregate
			}
			return err
		}
		agg.Version = 1
		agg.CreatedAt = now
		agg.UpdatedAt = now
		return nil
	}

	result := conn.WithContext(ctx).Exec(
		`UPDATE billing_aggregates
		 SET customer_id = ?, site_id = ?, billing_date = ?, items = ?, subtotal = ?,
		     tax_amount = ?, total_amount = ?, status = ?, version = version + 1, updated_at = ?
		 WHERE billing_key = ? AND version = ?`,
		agg.CustomerID,
		agg.SiteID,
		agg.BillingDate,
		datatypes.JSON(items),
		agg.Subtotal,
		agg.TaxAmount,
		agg.TotalAmount,
		agg.Status,
		now,
		agg.Key,
		agg.Version,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	agg.Version++
	agg.UpdatedAt = now
	return nil
}

func (s *store) Delete(ctx context.Context, conn *gorm.DB, key string, version int64) error {
	result := conn.WithContext(ctx).Exec(
		`DELETE FROM billing_aggregates WHERE billing_key = ? AND version = ?`,
		key,
		version,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func ProvideReader(clk clock.Clock) domain.AggregateReader {
	return &store{clock: clk}
}

func (s *store) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.BillingAggregate, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT billing_key, customer_id, site_id, billing_date, items, subtotal, tax_amount, total_amount,
	                 status, payment_due_date_at, version, created_at, updated_at
	          FROM billing_aggregates WHERE 1 = 1`
	args := []any{}
	if filter.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, filter.CustomerID)
	}
	if filter.BillingDate != "" {
		query += " AND billing_date = ?"
		args = append(args, filter.BillingDate)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.AfterKey != "" {
		query += " AND billing_key > ?"
		args = append(args, filter.AfterKey)
	}
	query += " ORDER BY billing_key ASC LIMIT ?"
	args = append(args, limit)

	var rows []aggregateRow
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	aggregates := make([]*domain.BillingAggregate, 0, len(rows))
	for i := range rows {
		agg, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}
	return aggregates, nil
}
