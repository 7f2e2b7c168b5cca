package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	// Insert returns false when a row with the same dedupe key already exists.
	Insert(ctx context.Context, db *gorm.DB, purchase *Purchase) (bool, error)
	InsertCompany(ctx context.Context, db *gorm.DB, purchase *CompanyPurchase) (bool, error)
	HasProduct(ctx context.Context, db *gorm.DB, accountID, productID string) (bool, error)
	DeletePlanGrant(ctx context.Context, db *gorm.DB, accountID, productID string) (int64, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID string) ([]Purchase, error)
	ListByCompany(ctx context.Context, db *gorm.DB, companyID string) ([]CompanyPurchase, error)
}

var (
	ErrInvalidPurchase  = errors.New("invalid_purchase")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrMissingDedupeKey = errors.New("missing_dedupe_key")
)
