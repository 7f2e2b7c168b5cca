package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Line is one product in an account's cart. Company carts use CompanyRef as the product ref.
type Line struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID  string       `gorm:"not null" json:"account_id"`
	ProductRef string       `gorm:"not null" json:"product_ref"`
	Quantity   int          `gorm:"not null" json:"quantity"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Line) TableName() string { return "cart_lines" }

func CompanyRef(companyID, productID string) string {
	return "company:" + companyID + ":" + productID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, line *Line) error
	ListByAccount(ctx context.Context, db *gorm.DB, accountID string) ([]Line, error)
	// DeleteForAccount removes the account's lines whose ref is in refs.
	DeleteForAccount(ctx context.Context, db *gorm.DB, accountID string, refs []string) (int64, error)
	// DeleteRefs removes every line carrying one of refs, regardless of owner.
	DeleteRefs(ctx context.Context, db *gorm.DB, refs []string) (int64, error)
}
