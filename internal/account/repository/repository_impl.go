package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const accountColumns = `id, email, COALESCE(name, '') AS name, billing_customer_id, price_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `SELECT `+accountColumns+` FROM accounts WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower(?) LIMIT 1`, email)
}

func (r *repo) FindByBillingCustomer(ctx context.Context, db *gorm.DB, billingCustomerID string) (*domain.Account, error) {
	billingCustomerID = strings.TrimSpace(billingCustomerID)
	if billingCustomerID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `SELECT `+accountColumns+` FROM accounts WHERE billing_customer_id = ? LIMIT 1`, billingCustomerID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Account, error) {
	var account domain.Account
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&account).Error; err != nil {
		return nil, err
	}
	if account.ID == "" {
		return nil, nil
	}
	return &account, nil
}

// Insert creates the account unless its id or email already exists.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) (bool, error) {
	if account == nil || strings.TrimSpace(account.ID) == "" {
		return false, domain.ErrInvalidID
	}
	if strings.TrimSpace(account.Email) == "" {
		return false, domain.ErrInvalidEmail
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(account)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateBilling attaches the billing customer and active price. Empty values
// leave the stored column untouched.
func (r *repo) UpdateBilling(ctx context.Context, db *gorm.DB, id string, billingCustomerID string, priceID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET billing_customer_id = COALESCE(NULLIF(?, ''), billing_customer_id),
			price_id = COALESCE(NULLIF(?, ''), price_id),
			updated_at = ?
		 WHERE id = ?`,
		strings.TrimSpace(billingCustomerID),
		strings.TrimSpace(priceID),
		now,
		id,
	).Error
}

// ClearPrice drops the active price only while it still equals priceID.
func (r *repo) ClearPrice(ctx context.Context, db *gorm.DB, id string, priceID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET price_id = NULL, updated_at = ?
		 WHERE id = ? AND price_id = ?`,
		now,
		id,
		priceID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
