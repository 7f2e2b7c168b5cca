package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/storefront/internal/purchase/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var dedupeConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "dedupe_key"}},
	DoNothing: true,
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, purchase *domain.Purchase) (bool, error) {
	if purchase == nil || strings.TrimSpace(purchase.AccountID) == "" || strings.TrimSpace(purchase.ProductID) == "" {
		return false, domain.ErrInvalidPurchase
	}
	if purchase.Quantity <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	if strings.TrimSpace(purchase.DedupeKey) == "" {
		return false, domain.ErrMissingDedupeKey
	}

	res := db.WithContext(ctx).Clauses(dedupeConflict).Create(purchase)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertCompany(ctx context.Context, db *gorm.DB, purchase *domain.CompanyPurchase) (bool, error) {
	if purchase == nil || strings.TrimSpace(purchase.CompanyID) == "" || strings.TrimSpace(purchase.ProductID) == "" {
		return false, domain.ErrInvalidPurchase
	}
	if purchase.Quantity <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	if strings.TrimSpace(purchase.DedupeKey) == "" {
		return false, domain.ErrMissingDedupeKey
	}

	res := db.WithContext(ctx).Clauses(dedupeConflict).Create(purchase)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) HasProduct(ctx context.Context, db *gorm.DB, accountID, productID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM purchases
		 WHERE account_id = ? AND product_id = ?`,
		accountID,
		productID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeletePlanGrant removes plan-sourced grants only; cart purchases of the same
// product are separate orders and survive cancellation.
func (r *repo) DeletePlanGrant(ctx context.Context, db *gorm.DB, accountID, productID string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM purchases
		 WHERE account_id = ? AND product_id = ? AND source = ?`,
		accountID,
		productID,
		domain.SourcePlan,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID string) ([]domain.Purchase, error) {
	var items []domain.Purchase
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, product_id, quantity, paid_at, order_id, source, dedupe_key, created_at
		 FROM purchases
		 WHERE account_id = ?
		 ORDER BY paid_at ASC, id ASC`,
		accountID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByCompany(ctx context.Context, db *gorm.DB, companyID string) ([]domain.CompanyPurchase, error) {
	var items []domain.CompanyPurchase
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, account_id, product_id, quantity, paid_at, order_id, dedupe_key, created_at
		 FROM company_purchases
		 WHERE company_id = ?
		 ORDER BY paid_at ASC, id ASC`,
		companyID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
