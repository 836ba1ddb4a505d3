package domain

import (
	"context"
	"errors"
)

type CreateCustomerRequest struct {
	ID    string
	Name  string
	Terms PaymentTerms
}

// Service resolves customer payment policy for aggregate creation. A
// missing customer is a hard failure: billing correctness depends on the
// terms, so creation must abort rather than fall back to a default.
type Service interface {
	Create(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	ResolvePaymentTerms(ctx context.Context, customerID string) (PaymentTerms, error)
}

var (
	ErrInvalidID   = errors.New("invalid_customer_id")
	ErrInvalidName = errors.New("invalid_customer_name")
	ErrNotFound    = errors.New("customer_not_found")
)
