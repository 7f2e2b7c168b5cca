package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the durable log of every verified provider delivery.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	Attempts        int            `json:"attempts" gorm:"not null;default:0"`
	LastError       *string        `json:"last_error,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

const ProviderStripe = "stripe"

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventCheckoutExpired      = "checkout.session.expired"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Event is a verified provider envelope decoded into provider-neutral objects.
// Exactly one of Checkout, Invoice or Subscription is set for handled types.
type Event struct {
	ID           string
	Type         string
	Created      time.Time
	Checkout     *CheckoutSession
	Invoice      *Invoice
	Subscription *Subscription
}

type CheckoutSession struct {
	ID                string
	ClientReferenceID string
	CustomerID        string
	CustomerEmail     string
	SubscriptionID    string
	Metadata          map[string]string
}

// Meta returns the trimmed metadata value for key.
func (s *CheckoutSession) Meta(key string) string {
	if s == nil || s.Metadata == nil {
		return ""
	}
	return trim(s.Metadata[key])
}

// LineItem is a resolved checkout line. ProductID is the storefront product id.
type LineItem struct {
	PriceID   string
	ProductID string
	Quantity  int
}

type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	PriceIDs       []string
}

type Subscription struct {
	ID         string
	CustomerID string
	PriceIDs   []string
}

type Customer struct {
	ID    string
	Email string
	Name  string
}

// Checkout session metadata keys written at session creation.
const (
	MetaCompanyID   = "company_id"
	MetaCartItems   = "cart_items"
	MetaUserID      = "user_id"
	MetaPurchaserID = "purchaser_id"
	MetaPriceID     = "price_id"
	MetaItems       = "items"
)

// CartItem is one entry of the serialized cart_items metadata.
type CartItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}
