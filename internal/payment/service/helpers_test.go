package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountrepo "github.com/smallbiznis/storefront/internal/account/repository"
	cartrepo "github.com/smallbiznis/storefront/internal/cart/repository"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	purchaserepo "github.com/smallbiznis/storefront/internal/purchase/repository"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ListLineItems(ctx context.Context, sessionID string) ([]paymentdomain.LineItem, error) {
	args := m.Called(ctx, sessionID)
	items, _ := args.Get(0).([]paymentdomain.LineItem)
	return items, args.Error(1)
}

func (m *mockProvider) GetCustomer(ctx context.Context, customerID string) (*paymentdomain.Customer, error) {
	args := m.Called(ctx, customerID)
	cust, _ := args.Get(0).(*paymentdomain.Customer)
	return cust, args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*paymentdomain.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	sub, _ := args.Get(0).(*paymentdomain.Subscription)
	return sub, args.Error(1)
}

func testPlans(t *testing.T) *config.PlanCatalogHolder {
	t.Helper()
	catalog, err := config.NewPlanCatalog(
		config.Plan{Name: "pro", PriceID: "price_pro", ProductID: "p2"},
		config.Plan{Name: "team", PriceID: "price_team", ProductID: "p3"},
		config.Plan{Name: "supporter", PriceID: "price_supporter"},
	)
	if err != nil {
		t.Fatalf("plan catalog: %v", err)
	}
	return config.NewStaticPlanCatalogHolder(catalog)
}

func newTestService(t *testing.T, db *gorm.DB, provider paymentdomain.Provider) *Service {
	t.Helper()
	node, err := snowflake.NewNode(12)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(testNow),
		Provider:  provider,
		Plans:     testPlans(t),
		Accounts:  accountrepo.Provide(),
		Purchases: purchaserepo.Provide(),
		Carts:     cartrepo.Provide(),
	})
}

func seedAccount(t *testing.T, db *gorm.DB, id, email, billingCustomerID, priceID string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO accounts (id, email, billing_customer_id, price_id, created_at, updated_at)
		 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`,
		id, email, billingCustomerID, priceID, testNow, testNow,
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

var cartSeq int64

func seedCartLine(t *testing.T, db *gorm.DB, accountID, ref string, quantity int) {
	t.Helper()
	cartSeq++
	err := db.Exec(
		`INSERT INTO cart_lines (id, account_id, product_ref, quantity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cartSeq, accountID, ref, quantity, testNow, testNow,
	).Error
	if err != nil {
		t.Fatalf("seed cart line: %v", err)
	}
}

func seedPurchase(t *testing.T, db *gorm.DB, id int64, accountID, productID, orderID, source, dedupeKey string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO purchases (id, account_id, product_id, quantity, paid_at, order_id, source, dedupe_key, created_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)`,
		id, accountID, productID, testNow, orderID, source, dedupeKey, testNow,
	).Error
	if err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
}

func checkoutEvent(id, sessionID, clientRef string, metadata map[string]string) *paymentdomain.Event {
	return &paymentdomain.Event{
		ID:      id,
		Type:    paymentdomain.EventCheckoutCompleted,
		Created: testNow,
		Checkout: &paymentdomain.CheckoutSession{
			ID:                sessionID,
			ClientReferenceID: clientRef,
			Metadata:          metadata,
		},
	}
}
