package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/storefront/internal/account/domain"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/storefront/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ActionPurchased = "purchased"
	ActionGranted   = "granted"
	ActionRevoked   = "revoked"
	ActionNoop      = "noop"
	ActionIgnored   = "ignored"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Provider   paymentdomain.Provider
	Plans      paymentdomain.PlanLookup
	Accounts   accountdomain.Repository
	Purchases  purchasedomain.Repository
	Carts      cartdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service reconciles verified payment events against accounts, purchases and carts.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	provider   paymentdomain.Provider
	plans      paymentdomain.PlanLookup
	accounts   accountdomain.Repository
	purchases  purchasedomain.Repository
	carts      cartdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      clk,
		provider:   p.Provider,
		plans:      p.Plans,
		accounts:   p.Accounts,
		purchases:  p.Purchases,
		carts:      p.Carts,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Reconcile(ctx context.Context, event *paymentdomain.Event) (paymentdomain.Outcome, error) {
	if event == nil || strings.TrimSpace(event.ID) == "" {
		return paymentdomain.Outcome{}, paymentdomain.ErrInvalidEvent
	}
	if _, ok := obscontext.EventFromContext(ctx); !ok {
		ctx = obscontext.WithEvent(ctx, event.ID, event.Type)
	}
	log := obslogger.WithContext(ctx, s.log)

	switch event.Type {
	case paymentdomain.EventCheckoutCompleted:
		return s.completeCheckout(ctx, log, event)
	case paymentdomain.EventInvoicePaid:
		return s.settleInvoice(ctx, log, event)
	case paymentdomain.EventSubscriptionDeleted:
		return s.cancelSubscription(ctx, log, event)
	case paymentdomain.EventCheckoutExpired,
		paymentdomain.EventSubscriptionUpdated,
		paymentdomain.EventInvoicePaymentFailed:
		log.Info("payment event acknowledged without state change")
		return paymentdomain.Outcome{Action: ActionNoop}, nil
	default:
		log.Info("ignoring unhandled payment event")
		return paymentdomain.Outcome{Action: ActionIgnored}, nil
	}
}

// paidAt uses the provider's event time so retries record the same timestamp.
func (s *Service) paidAt(event *paymentdomain.Event) time.Time {
	if event != nil && !event.Created.IsZero() {
		return event.Created.UTC()
	}
	return s.clock.Now()
}

// grantPlan creates the plan product purchase unless the account already owns the product.
func (s *Service) grantPlan(ctx context.Context, tx *gorm.DB, accountID, productID, orderID string, paidAt time.Time) (bool, error) {
	owned, err := s.purchases.HasProduct(ctx, tx, accountID, productID)
	if err != nil {
		return false, err
	}
	if owned {
		return false, nil
	}
	return s.purchases.Insert(ctx, tx, &purchasedomain.Purchase{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		ProductID: productID,
		Quantity:  1,
		PaidAt:    paidAt,
		OrderID:   orderID,
		Source:    purchasedomain.SourcePlan,
		DedupeKey: purchasedomain.PlanKey(accountID, productID),
	})
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
