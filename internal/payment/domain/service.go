package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/gorm"
)

// Verifier authenticates raw deliveries and decodes stored payloads.
type Verifier interface {
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
	DecodeEvent(payload []byte) (*Event, error)
}

// Provider is the outbound payment provider API used while reconciling.
type Provider interface {
	ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// PlanLookup resolves provider prices to storefront plans.
type PlanLookup interface {
	PlanByPrice(priceID string) (config.Plan, bool)
	HasPlans() bool
}

// Outcome summarizes what reconciling one event changed.
type Outcome struct {
	Action          string
	CheckoutKind    string
	PurchasesAdded  int
	PurchasesPruned int64
	CartLinesPruned int64
}

// Reconciler applies a verified event to local state.
type Reconciler interface {
	Reconcile(ctx context.Context, event *Event) (Outcome, error)
}

// Service is the webhook entry point.
type Service interface {
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error
	Replay(ctx context.Context, providerEventID string) error
	ListFailed(ctx context.Context, page pagination.Pagination) ([]EventRecord, *pagination.PageInfo, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error
	ListFailed(ctx context.Context, db *gorm.DB, provider string, after *pagination.Cursor, limit int) ([]EventRecord, error)
}
