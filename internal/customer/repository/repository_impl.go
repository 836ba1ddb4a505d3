package repository

import (
	"context"
	"time"

	"github.com/shiftwise/guardbill/internal/customer/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type customerRow struct {
	ID                 string            `gorm:"column:id"`
	Name               string            `gorm:"column:name"`
	ClosingDay         int               `gorm:"column:closing_day"`
	PaymentMonthOffset int               `gorm:"column:payment_month_offset"`
	PaymentDay         int               `gorm:"column:payment_day"`
	Metadata           datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt          time.Time         `gorm:"column:created_at"`
	UpdatedAt          time.Time         `gorm:"column:updated_at"`
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, name, closing_day, payment_month_offset, payment_day, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.Name,
		customer.Terms.ClosingDay,
		customer.Terms.PaymentMonthOffset,
		customer.Terms.PaymentDay,
		customer.Metadata,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Customer, error) {
	var row customerRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, closing_day, payment_month_offset, payment_day, metadata, created_at, updated_at
		 FROM customers WHERE id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}
	return &domain.Customer{
		ID:   row.ID,
		Name: row.Name,
		Terms: domain.PaymentTerms{
			ClosingDay:         row.ClosingDay,
			PaymentMonthOffset: row.PaymentMonthOffset,
			PaymentDay:         row.PaymentDay,
		},
		Metadata:  row.Metadata,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}
