package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Account, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Account, error)
	FindByBillingCustomer(ctx context.Context, db *gorm.DB, billingCustomerID string) (*Account, error)
	Insert(ctx context.Context, db *gorm.DB, account *Account) (bool, error)
	UpdateBilling(ctx context.Context, db *gorm.DB, id string, billingCustomerID string, priceID string, now time.Time) error
	ClearPrice(ctx context.Context, db *gorm.DB, id string, priceID string, now time.Time) (bool, error)
}

var (
	ErrInvalidID    = errors.New("invalid_account_id")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrNotFound     = errors.New("account_not_found")
)
