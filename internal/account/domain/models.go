package domain

import "time"

// Account is a storefront customer. BillingCustomerID and PriceID are set once
// the payment provider has seen the customer and a plan is active.
type Account struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	Email             string    `gorm:"not null" json:"email"`
	Name              string    `json:"name,omitempty"`
	BillingCustomerID *string   `gorm:"column:billing_customer_id" json:"billing_customer_id,omitempty"`
	PriceID           *string   `gorm:"column:price_id" json:"price_id,omitempty"`
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// ActivePrice returns the active plan price or an empty string.
func (a *Account) ActivePrice() string {
	if a == nil || a.PriceID == nil {
		return ""
	}
	return *a.PriceID
}
