package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountrepo "github.com/smallbiznis/storefront/internal/account/repository"
	cartrepo "github.com/smallbiznis/storefront/internal/cart/repository"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	stripeadapter "github.com/smallbiznis/storefront/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/storefront/internal/payment/repository"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	purchaserepo "github.com/smallbiznis/storefront/internal/purchase/repository"
	"github.com/smallbiznis/storefront/internal/storetest"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, event *paymentdomain.Event) (paymentdomain.Outcome, error) {
	args := m.Called(ctx, event)
	outcome, _ := args.Get(0).(paymentdomain.Outcome)
	return outcome, args.Error(1)
}

type heldLease struct {
	acquired int
	released int
	held     bool
}

func (l *heldLease) TryAcquire(ctx context.Context, eventID string) (string, bool, error) {
	if l.held {
		return "", false, nil
	}
	l.acquired++
	return "token-" + eventID, true, nil
}

func (l *heldLease) Release(ctx context.Context, eventID, token string) error {
	l.released++
	return nil
}

func newTestService(t *testing.T, db *gorm.DB, reconciler paymentdomain.Reconciler, lease Lease) *Service {
	t.Helper()
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(testNow),
		Verifier:   stripeadapter.New(stripeadapter.Config{WebhookSecret: testSecret}),
		Reconciler: reconciler,
		Repo:       paymentrepo.Provide(),
		Lease:      lease,
	}).(*Service)
}

func checkoutPayload(eventID, sessionID, clientRef, metadata string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","type":"checkout.session.completed","created":1700000000,"data":{"object":{"id":%q,"object":"checkout.session","client_reference_id":%q,"metadata":%s}}}`,
		eventID, sessionID, clientRef, metadata,
	))
}

func signedHeaders(secret string, payload []byte) http.Header {
	headers := http.Header{}
	headers.Set(SignatureHeader, buildStripeSignatureHeader(secret, payload, time.Now().Unix()))
	return headers
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	db := storetest.OpenDB(t)
	reconciler := &mockReconciler{}
	svc := newTestService(t, db, reconciler, nil)

	payload := checkoutPayload("evt_1", "cs_1", "u1", `{}`)

	err := svc.IngestWebhook(context.Background(), payload, signedHeaders("whsec_other", payload))
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	err = svc.IngestWebhook(context.Background(), payload, http.Header{})
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature without header, got %v", err)
	}

	storetest.AssertCount(t, db, 0, `SELECT COUNT(*) FROM payment_events`)
	reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestIngestWebhookRejectsUndecodableEvent(t *testing.T) {
	db := storetest.OpenDB(t)
	reconciler := &mockReconciler{}
	svc := newTestService(t, db, reconciler, nil)

	missingID := []byte(`{"object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	err := svc.IngestWebhook(context.Background(), missingID, signedHeaders(testSecret, missingID))
	if !errors.Is(err, paymentdomain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}

	badObject := checkoutPayload("evt_9", "cs_1", "u1", `5`)
	err = svc.IngestWebhook(context.Background(), badObject, signedHeaders(testSecret, badObject))
	if !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	storetest.AssertCount(t, db, 0, `SELECT COUNT(*) FROM payment_events`)
	reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestIngestWebhookProcessesOnce(t *testing.T) {
	db := storetest.OpenDB(t)
	reconciler := &mockReconciler{}
	reconciler.On("Reconcile", mock.Anything, mock.MatchedBy(func(e *paymentdomain.Event) bool {
		return e.ID == "evt_1" && e.Checkout != nil && e.Checkout.ID == "cs_1"
	})).Return(paymentdomain.Outcome{Action: "purchased"}, nil).Once()
	svc := newTestService(t, db, reconciler, nil)

	payload := checkoutPayload("evt_1", "cs_1", "u1", `{}`)
	for i := 0; i < 3; i++ {
		if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	storetest.AssertCount(t, db, 1,
		`SELECT COUNT(*) FROM payment_events WHERE provider_event_id = 'evt_1' AND processed_at IS NOT NULL AND attempts = 1 AND last_error IS NULL`)
	reconciler.AssertExpectations(t)
}

func TestIngestWebhookSwallowsProcessingFailure(t *testing.T) {
	db := storetest.OpenDB(t)
	reconciler := &mockReconciler{}
	reconciler.On("Reconcile", mock.Anything, mock.Anything).Return(paymentdomain.Outcome{}, errors.New("database is locked")).Once()
	reconciler.On("Reconcile", mock.Anything, mock.Anything).Return(paymentdomain.Outcome{Action: "purchased"}, nil).Once()
	svc := newTestService(t, db, reconciler, nil)

	payload := checkoutPayload("evt_2", "cs_2", "u1", `{}`)
	if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
		t.Fatalf("expected failure to be acknowledged, got %v", err)
	}
	storetest.AssertCount(t, db, 1,
		`SELECT COUNT(*) FROM payment_events WHERE processed_at IS NULL AND attempts = 1 AND last_error = 'database is locked'`)

	// Provider redelivery retries the unprocessed event.
	if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	storetest.AssertCount(t, db, 1,
		`SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL AND attempts = 2 AND last_error IS NULL`)
	reconciler.AssertExpectations(t)
}

func TestIngestWebhookAcknowledgesLookupMiss(t *testing.T) {
	db := storetest.OpenDB(t)
	reconciler := &mockReconciler{}
	reconciler.On("Reconcile", mock.Anything, mock.Anything).
		Return(paymentdomain.Outcome{}, fmt.Errorf("customer cus_x: %w", paymentdomain.ErrAccountNotFound)).Once()
	svc := newTestService(t, db, reconciler, nil)

	payload := checkoutPayload("evt_3", "cs_3", "", `{}`)
	if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	storetest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL AND last_error IS NULL`)
}

func TestIngestWebhookSkipsEventInFlight(t *testing.T) {
	db := storetest.OpenDB(t)
	reconciler := &mockReconciler{}
	reconciler.On("Reconcile", mock.Anything, mock.Anything).Return(paymentdomain.Outcome{Action: "purchased"}, nil)
	lease := &heldLease{held: true}
	svc := newTestService(t, db, reconciler, lease)

	payload := checkoutPayload("evt_4", "cs_4", "u1", `{}`)
	if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
	storetest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NULL AND attempts = 0`)

	lease.held = false
	if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if lease.acquired != 1 || lease.released != 1 {
		t.Fatalf("expected one acquire and release, got %d/%d", lease.acquired, lease.released)
	}
	storetest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`)
}

func TestReplay(t *testing.T) {
	db := storetest.OpenDB(t)
	reconciler := &mockReconciler{}
	reconciler.On("Reconcile", mock.Anything, mock.Anything).Return(paymentdomain.Outcome{}, errors.New("provider timeout")).Once()
	reconciler.On("Reconcile", mock.Anything, mock.MatchedBy(func(e *paymentdomain.Event) bool {
		return e.ID == "evt_5" && e.Checkout.ClientReferenceID == "u5"
	})).Return(paymentdomain.Outcome{Action: "purchased"}, nil).Once()
	svc := newTestService(t, db, reconciler, nil)

	payload := checkoutPayload("evt_5", "cs_5", "u5", `{}`)
	if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := svc.Replay(context.Background(), "evt_5"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	storetest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL AND attempts = 2`)

	if err := svc.Replay(context.Background(), "evt_5"); !errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}
	if err := svc.Replay(context.Background(), "evt_missing"); !errors.Is(err, paymentdomain.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	reconciler.AssertExpectations(t)
}

func TestListFailedPages(t *testing.T) {
	db := storetest.OpenDB(t)
	reconciler := &mockReconciler{}
	reconciler.On("Reconcile", mock.Anything, mock.Anything).Return(paymentdomain.Outcome{}, errors.New("boom"))
	svc := newTestService(t, db, reconciler, nil)

	for i := 1; i <= 3; i++ {
		payload := checkoutPayload(fmt.Sprintf("evt_f%d", i), fmt.Sprintf("cs_f%d", i), "u1", `{}`)
		if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	first, pageInfo, err := svc.ListFailed(context.Background(), pagination.Pagination{PageSize: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(first) != 2 || !pageInfo.HasMore || pageInfo.NextPageToken == "" {
		t.Fatalf("unexpected first page: %d items, %+v", len(first), pageInfo)
	}
	if first[0].ProviderEventID != "evt_f1" || first[1].ProviderEventID != "evt_f2" {
		t.Fatalf("unexpected order: %s, %s", first[0].ProviderEventID, first[1].ProviderEventID)
	}

	second, pageInfo, err := svc.ListFailed(context.Background(), pagination.Pagination{PageSize: 2, PageToken: pageInfo.NextPageToken})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second) != 1 || pageInfo.HasMore || second[0].ProviderEventID != "evt_f3" {
		t.Fatalf("unexpected second page: %+v %+v", second, pageInfo)
	}

	if _, _, err := svc.ListFailed(context.Background(), pagination.Pagination{PageSize: 500}); err == nil {
		t.Fatalf("expected page size validation error")
	}
}

func TestIngestWebhookReconcilesCartCheckout(t *testing.T) {
	db := storetest.OpenDB(t)
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	catalog, err := config.NewPlanCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	reconciler := paymentservice.NewService(paymentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(testNow),
		Plans:     config.NewStaticPlanCatalogHolder(catalog),
		Accounts:  accountrepo.Provide(),
		Purchases: purchaserepo.Provide(),
		Carts:     cartrepo.Provide(),
	})
	svc := newTestService(t, db, reconciler, nil)

	if err := db.Exec(`INSERT INTO accounts (id, email) VALUES ('u1', 'u1@example.com')`).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := db.Exec(`INSERT INTO cart_lines (id, account_id, product_ref, quantity) VALUES (1, 'u1', 'p1', 2)`).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	payload := checkoutPayload("evt_a", "cs_a", "u1", `{"cart_items":"[{\"productId\":\"p1\",\"quantity\":2}]"}`)
	for i := 0; i < 2; i++ {
		if err := svc.IngestWebhook(context.Background(), payload, signedHeaders(testSecret, payload)); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	storetest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM purchases WHERE account_id = 'u1' AND product_id = 'p1' AND quantity = 2 AND order_id = 'cs_a'`)
	storetest.AssertCount(t, db, 0, `SELECT COUNT(*) FROM cart_lines`)
	storetest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`)
}
