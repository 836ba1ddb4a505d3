package service

import (
	"context"
	"strings"
	"time"

	"github.com/shiftwise/guardbill/internal/customer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("customer.service"),
		repo: p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return domain.Customer{}, domain.ErrInvalidID
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	customer := domain.Customer{
		ID:        id,
		Name:      name,
		Terms:     req.Terms,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &customer); err != nil {
		return domain.Customer{}, err
	}

	return customer, nil
}

func (s *Service) ResolvePaymentTerms(ctx context.Context, customerID string) (domain.PaymentTerms, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return domain.PaymentTerms{}, domain.ErrInvalidID
	}

	customer, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.PaymentTerms{}, err
	}
	if customer == nil {
		return domain.PaymentTerms{}, domain.ErrNotFound
	}

	return customer.Terms, nil
}
