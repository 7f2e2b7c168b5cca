package service

import (
	"context"
	"fmt"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// settleInvoice grants the active plan's product once the invoice for that
// plan's price is paid.
func (s *Service) settleInvoice(ctx context.Context, log *zap.Logger, event *paymentdomain.Event) (paymentdomain.Outcome, error) {
	inv := event.Invoice
	if inv == nil || inv.ID == "" {
		return paymentdomain.Outcome{}, paymentdomain.ErrInvalidEvent
	}
	if inv.CustomerID == "" {
		return paymentdomain.Outcome{}, fmt.Errorf("invoice %s without customer: %w", inv.ID, paymentdomain.ErrAccountNotFound)
	}

	prices := inv.PriceIDs
	if len(prices) == 0 && inv.SubscriptionID != "" {
		sub, err := s.provider.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return paymentdomain.Outcome{}, fmt.Errorf("get subscription %s: %w", inv.SubscriptionID, err)
		}
		prices = sub.PriceIDs
	}

	paidAt := s.paidAt(event)
	outcome := paymentdomain.Outcome{Action: ActionGranted}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accounts.FindByBillingCustomer(ctx, tx, inv.CustomerID)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("customer %s: %w", inv.CustomerID, paymentdomain.ErrAccountNotFound)
		}

		active := account.ActivePrice()
		if active == "" || !containsString(prices, active) {
			return fmt.Errorf("invoice %s prices %v, account price %q: %w", inv.ID, prices, active, paymentdomain.ErrPriceMismatch)
		}
		plan, ok := s.plans.PlanByPrice(active)
		if !ok {
			return fmt.Errorf("price %s: %w", active, paymentdomain.ErrPlanNotFound)
		}
		if plan.ProductID == "" {
			outcome.Action = ActionNoop
			return nil
		}

		granted, err := s.grantPlan(ctx, tx, account.ID, plan.ProductID, inv.ID, paidAt)
		if err != nil {
			return fmt.Errorf("grant plan product: %w", err)
		}
		if granted {
			outcome.PurchasesAdded = 1
		}
		return nil
	})
	if err != nil {
		return paymentdomain.Outcome{}, err
	}

	s.obsMetrics.RecordPurchaseGrant(ctx, KindPlan, outcome.PurchasesAdded)
	log.Info("invoice reconciled",
		zap.String("invoice_id", inv.ID),
		zap.Int("purchases_added", outcome.PurchasesAdded),
	)
	return outcome, nil
}

// cancelSubscription revokes the plan grant and clears the active price.
// A deletion for a price other than the account's active one is ignored.
func (s *Service) cancelSubscription(ctx context.Context, log *zap.Logger, event *paymentdomain.Event) (paymentdomain.Outcome, error) {
	sub := event.Subscription
	if sub == nil {
		return paymentdomain.Outcome{}, paymentdomain.ErrInvalidEvent
	}
	if sub.CustomerID == "" {
		return paymentdomain.Outcome{}, fmt.Errorf("subscription %s without customer: %w", sub.ID, paymentdomain.ErrAccountNotFound)
	}

	outcome := paymentdomain.Outcome{Action: ActionRevoked}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accounts.FindByBillingCustomer(ctx, tx, sub.CustomerID)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("customer %s: %w", sub.CustomerID, paymentdomain.ErrAccountNotFound)
		}

		priceID := account.ActivePrice()
		switch {
		case priceID == "" && len(sub.PriceIDs) > 0:
			priceID = sub.PriceIDs[0]
		case priceID != "" && len(sub.PriceIDs) > 0 && !containsString(sub.PriceIDs, priceID):
			return fmt.Errorf("subscription %s prices %v, account price %q: %w", sub.ID, sub.PriceIDs, priceID, paymentdomain.ErrPriceMismatch)
		}
		plan, ok := s.plans.PlanByPrice(priceID)
		if !ok {
			return fmt.Errorf("price %q: %w", priceID, paymentdomain.ErrPlanNotFound)
		}

		if plan.ProductID != "" {
			outcome.PurchasesPruned, err = s.purchases.DeletePlanGrant(ctx, tx, account.ID, plan.ProductID)
			if err != nil {
				return fmt.Errorf("revoke plan product: %w", err)
			}
		}
		if _, err := s.accounts.ClearPrice(ctx, tx, account.ID, plan.PriceID, s.clock.Now()); err != nil {
			return fmt.Errorf("clear active price: %w", err)
		}
		return nil
	})
	if err != nil {
		return paymentdomain.Outcome{}, err
	}

	s.obsMetrics.RecordPurchaseRevoke(ctx, outcome.PurchasesPruned)
	log.Info("subscription cancellation reconciled",
		zap.String("subscription_id", sub.ID),
		zap.Int64("purchases_removed", outcome.PurchasesPruned),
	)
	return outcome, nil
}
