package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Source records which checkout shape granted a purchase.
type Source string

const (
	SourceCart  Source = "cart"
	SourcePlan  Source = "plan"
	SourceItems Source = "items"
)

// Purchase grants one product to one account for one external order.
type Purchase struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID string       `gorm:"not null" json:"account_id"`
	ProductID string       `gorm:"not null" json:"product_id"`
	Quantity  int          `gorm:"not null" json:"quantity"`
	PaidAt    time.Time    `gorm:"not null" json:"paid_at"`
	OrderID   string       `gorm:"not null" json:"order_id"`
	Source    Source       `gorm:"type:text;not null" json:"source"`
	DedupeKey string       `gorm:"not null" json:"-"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Purchase) TableName() string { return "purchases" }

// CompanyPurchase grants a product to a company; AccountID is the purchasing member.
type CompanyPurchase struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID string       `gorm:"not null" json:"company_id"`
	AccountID *string      `json:"account_id,omitempty"`
	ProductID string       `gorm:"not null" json:"product_id"`
	Quantity  int          `gorm:"not null" json:"quantity"`
	PaidAt    time.Time    `gorm:"not null" json:"paid_at"`
	OrderID   string       `gorm:"not null" json:"order_id"`
	DedupeKey string       `gorm:"not null" json:"-"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (CompanyPurchase) TableName() string { return "company_purchases" }

// OrderKey identifies a cart or items purchase: the same product may be bought
// again under a later order.
func OrderKey(orderID, productID string) string {
	return "order:" + orderID + ":" + productID
}

// PlanKey identifies a plan grant: at most one per account and product.
func PlanKey(accountID, productID string) string {
	return "plan:" + accountID + ":" + productID
}

// CompanyKey identifies a company purchase.
func CompanyKey(companyID, productID, orderID string) string {
	return "company:" + companyID + ":" + productID + ":" + orderID
}
