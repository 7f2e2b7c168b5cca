package service

import (
	"context"
	"fmt"
	"time"

	accountdomain "github.com/smallbiznis/storefront/internal/account/domain"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/storefront/internal/purchase/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type planContact struct {
	email string
	name  string
}

func (s *Service) completeCheckout(ctx context.Context, log *zap.Logger, event *paymentdomain.Event) (paymentdomain.Outcome, error) {
	sess := event.Checkout
	if sess == nil || sess.ID == "" {
		return paymentdomain.Outcome{}, paymentdomain.ErrInvalidEvent
	}

	lines := newSessionLines(s.provider, sess.ID)
	checkout, err := s.classify(ctx, sess, lines)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	log = log.With(zap.String("checkout_kind", checkout.Kind()), zap.String("session_id", sess.ID))

	// Provider lookups finish before the transaction opens.
	var contact planContact
	if _, ok := checkout.(PlanCheckout); ok {
		contact, err = s.resolvePlanContact(ctx, sess)
		if err != nil {
			return paymentdomain.Outcome{}, err
		}
	}

	paidAt := s.paidAt(event)
	outcome := paymentdomain.Outcome{Action: ActionPurchased, CheckoutKind: checkout.Kind()}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		switch c := checkout.(type) {
		case CompanyCheckout:
			outcome.PurchasesAdded, outcome.CartLinesPruned, txErr = s.applyCompany(ctx, tx, sess, c, paidAt)
		case CartCheckout:
			outcome.PurchasesAdded, outcome.CartLinesPruned, txErr = s.applyPersonal(ctx, tx, sess, c.AccountID, c.Items, purchasedomain.SourceCart, paidAt)
		case LegacyItemsCheckout:
			outcome.PurchasesAdded, outcome.CartLinesPruned, txErr = s.applyPersonal(ctx, tx, sess, c.AccountID, c.Items, purchasedomain.SourceItems, paidAt)
		case PlanCheckout:
			outcome.Action = ActionGranted
			outcome.PurchasesAdded, txErr = s.applyPlan(ctx, tx, sess, c, contact, paidAt)
		default:
			txErr = fmt.Errorf("unknown checkout kind %q", checkout.Kind())
		}
		return txErr
	})
	if err != nil {
		return paymentdomain.Outcome{}, err
	}

	s.obsMetrics.RecordPurchaseGrant(ctx, checkout.Kind(), outcome.PurchasesAdded)
	log.Info("checkout reconciled",
		zap.Int("purchases_added", outcome.PurchasesAdded),
		zap.Int64("cart_lines_removed", outcome.CartLinesPruned),
	)
	return outcome, nil
}

func (s *Service) applyCompany(ctx context.Context, tx *gorm.DB, sess *paymentdomain.CheckoutSession, c CompanyCheckout, paidAt time.Time) (int, int64, error) {
	var purchaser *string
	if c.PurchaserID != "" {
		id := c.PurchaserID
		purchaser = &id
	}

	added := 0
	refs := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		inserted, err := s.purchases.InsertCompany(ctx, tx, &purchasedomain.CompanyPurchase{
			ID:        s.genID.Generate(),
			CompanyID: c.CompanyID,
			AccountID: purchaser,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			PaidAt:    paidAt,
			OrderID:   sess.ID,
			DedupeKey: purchasedomain.CompanyKey(c.CompanyID, item.ProductID, sess.ID),
		})
		if err != nil {
			return 0, 0, fmt.Errorf("insert company purchase %s: %w", item.ProductID, err)
		}
		if inserted {
			added++
		}
		refs = append(refs, cartdomain.CompanyRef(c.CompanyID, item.ProductID))
	}

	pruned, err := s.carts.DeleteRefs(ctx, tx, refs)
	if err != nil {
		return 0, 0, fmt.Errorf("clear company cart: %w", err)
	}
	return added, pruned, nil
}

// applyPersonal records one purchase per product under the session's order id
// and clears only those products from the account's cart.
func (s *Service) applyPersonal(
	ctx context.Context,
	tx *gorm.DB,
	sess *paymentdomain.CheckoutSession,
	accountID string,
	items []ProductQuantity,
	source purchasedomain.Source,
	paidAt time.Time,
) (int, int64, error) {
	account, err := s.accounts.FindByID(ctx, tx, accountID)
	if err != nil {
		return 0, 0, err
	}
	if account == nil {
		return 0, 0, fmt.Errorf("account %s: %w", accountID, paymentdomain.ErrAccountNotFound)
	}

	added := 0
	for _, item := range items {
		inserted, err := s.purchases.Insert(ctx, tx, &purchasedomain.Purchase{
			ID:        s.genID.Generate(),
			AccountID: account.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			PaidAt:    paidAt,
			OrderID:   sess.ID,
			Source:    source,
			DedupeKey: purchasedomain.OrderKey(sess.ID, item.ProductID),
		})
		if err != nil {
			return 0, 0, fmt.Errorf("insert purchase %s: %w", item.ProductID, err)
		}
		if inserted {
			added++
		}
	}

	pruned, err := s.carts.DeleteForAccount(ctx, tx, account.ID, productIDs(items))
	if err != nil {
		return 0, 0, fmt.Errorf("clear cart: %w", err)
	}
	return added, pruned, nil
}

func (s *Service) applyPlan(
	ctx context.Context,
	tx *gorm.DB,
	sess *paymentdomain.CheckoutSession,
	c PlanCheckout,
	contact planContact,
	paidAt time.Time,
) (int, error) {
	account, err := s.findPlanAccount(ctx, tx, sess, contact.email)
	if err != nil {
		return 0, err
	}
	if account == nil {
		if contact.email == "" {
			return 0, fmt.Errorf("plan checkout %s without payer email: %w", sess.ID, paymentdomain.ErrAccountNotFound)
		}
		account, err = s.createAccount(ctx, tx, contact, paidAt)
		if err != nil {
			return 0, err
		}
	}

	if err := s.accounts.UpdateBilling(ctx, tx, account.ID, sess.CustomerID, c.Plan.PriceID, s.clock.Now()); err != nil {
		return 0, fmt.Errorf("update billing refs: %w", err)
	}
	if c.Plan.ProductID == "" {
		return 0, nil
	}

	granted, err := s.grantPlan(ctx, tx, account.ID, c.Plan.ProductID, sess.ID, paidAt)
	if err != nil {
		return 0, fmt.Errorf("grant plan product: %w", err)
	}
	if granted {
		return 1, nil
	}
	return 0, nil
}

// findPlanAccount tries the billing customer, then the client reference, then the email.
func (s *Service) findPlanAccount(ctx context.Context, db *gorm.DB, sess *paymentdomain.CheckoutSession, email string) (*accountdomain.Account, error) {
	if sess.CustomerID != "" {
		account, err := s.accounts.FindByBillingCustomer(ctx, db, sess.CustomerID)
		if err != nil || account != nil {
			return account, err
		}
	}
	if sess.ClientReferenceID != "" {
		account, err := s.accounts.FindByID(ctx, db, sess.ClientReferenceID)
		if err != nil || account != nil {
			return account, err
		}
	}
	if email != "" {
		return s.accounts.FindByEmail(ctx, db, email)
	}
	return nil, nil
}

// resolvePlanContact finds the payer email, asking the provider only when no
// local account matches and the session carries none.
func (s *Service) resolvePlanContact(ctx context.Context, sess *paymentdomain.CheckoutSession) (planContact, error) {
	if sess.CustomerEmail != "" || sess.CustomerID == "" {
		return planContact{email: sess.CustomerEmail}, nil
	}

	account, err := s.findPlanAccount(ctx, s.db, sess, "")
	if err != nil {
		return planContact{}, err
	}
	if account != nil {
		return planContact{}, nil
	}

	cust, err := s.provider.GetCustomer(ctx, sess.CustomerID)
	if err != nil {
		return planContact{}, fmt.Errorf("get customer %s: %w", sess.CustomerID, err)
	}
	return planContact{email: cust.Email, name: cust.Name}, nil
}

func (s *Service) createAccount(ctx context.Context, tx *gorm.DB, contact planContact, now time.Time) (*accountdomain.Account, error) {
	account := &accountdomain.Account{
		ID:        s.genID.Generate().String(),
		Email:     contact.email,
		Name:      contact.name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := s.accounts.Insert(ctx, tx, account)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if inserted {
		return account, nil
	}

	// Another delivery created it first.
	existing, err := s.accounts.FindByEmail(ctx, tx, contact.email)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("account %s: %w", contact.email, paymentdomain.ErrAccountNotFound)
	}
	return existing, nil
}
