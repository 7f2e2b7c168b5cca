package repository

import (
	"context"

	"github.com/smallbiznis/storefront/internal/cart/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, line *domain.Line) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO cart_lines (id, account_id, product_ref, quantity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		line.ID,
		line.AccountID,
		line.ProductRef,
		line.Quantity,
		line.CreatedAt,
		line.UpdatedAt,
	).Error
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID string) ([]domain.Line, error) {
	var lines []domain.Line
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, product_ref, quantity, created_at, updated_at
		 FROM cart_lines
		 WHERE account_id = ?
		 ORDER BY id ASC`,
		accountID,
	).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) DeleteForAccount(ctx context.Context, db *gorm.DB, accountID string, refs []string) (int64, error) {
	if accountID == "" || len(refs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`DELETE FROM cart_lines WHERE account_id = ? AND product_ref IN ?`,
		accountID,
		refs,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) DeleteRefs(ctx context.Context, db *gorm.DB, refs []string) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`DELETE FROM cart_lines WHERE product_ref IN ?`,
		refs,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
