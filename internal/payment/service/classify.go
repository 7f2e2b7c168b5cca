package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/storefront/internal/config"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const (
	KindCompany     = "company"
	KindCart        = "cart"
	KindPlan        = "plan"
	KindLegacyItems = "legacy_items"
)

var validate = validator.New()

// Checkout is a completed session resolved into exactly one purchase shape.
type Checkout interface {
	Kind() string
}

type CompanyCheckout struct {
	CompanyID   string
	PurchaserID string
	Items       []ProductQuantity
}

type CartCheckout struct {
	AccountID string
	Items     []ProductQuantity
}

type PlanCheckout struct {
	Plan config.Plan
}

type LegacyItemsCheckout struct {
	AccountID string
	Items     []ProductQuantity
}

func (CompanyCheckout) Kind() string     { return KindCompany }
func (CartCheckout) Kind() string        { return KindCart }
func (PlanCheckout) Kind() string        { return KindPlan }
func (LegacyItemsCheckout) Kind() string { return KindLegacyItems }

type ProductQuantity struct {
	ProductID string
	Quantity  int
}

func productIDs(items []ProductQuantity) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// classify picks the checkout shape in fixed precedence: company, cart, plan,
// then legacy items.
func (s *Service) classify(ctx context.Context, sess *paymentdomain.CheckoutSession, lines *sessionLines) (Checkout, error) {
	if companyID := sess.Meta(paymentdomain.MetaCompanyID); companyID != "" {
		items, err := s.companyItems(ctx, sess, lines)
		if err != nil {
			return nil, err
		}
		return CompanyCheckout{
			CompanyID:   companyID,
			PurchaserID: purchaserID(sess),
			Items:       items,
		}, nil
	}

	if raw := sess.Meta(paymentdomain.MetaCartItems); raw != "" {
		items, err := parseCartItems(raw)
		if err != nil {
			return nil, err
		}
		accountID := firstNonEmpty(sess.ClientReferenceID, sess.Meta(paymentdomain.MetaUserID))
		if accountID == "" {
			return nil, fmt.Errorf("cart checkout without account reference: %w", paymentdomain.ErrMissingMetadata)
		}
		return CartCheckout{AccountID: accountID, Items: items}, nil
	}

	// Without configured plans no line item can match, so skip the provider call.
	priceID := sess.Meta(paymentdomain.MetaPriceID)
	if priceID == "" && s.plans.HasPlans() {
		items, err := lines.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("list session line items: %w", err)
		}
		for _, item := range items {
			if _, ok := s.plans.PlanByPrice(item.PriceID); ok {
				priceID = item.PriceID
				break
			}
		}
	}
	if priceID != "" {
		if plan, ok := s.plans.PlanByPrice(priceID); ok {
			return PlanCheckout{Plan: plan}, nil
		}
	}

	raw := sess.Meta(paymentdomain.MetaItems)
	if raw == "" {
		if priceID != "" {
			return nil, fmt.Errorf("price %s: %w", priceID, paymentdomain.ErrPlanNotFound)
		}
		return nil, fmt.Errorf("checkout without purchase metadata: %w", paymentdomain.ErrMissingMetadata)
	}
	items, err := parseLegacyItems(raw)
	if err != nil {
		return nil, err
	}
	accountID := firstNonEmpty(sess.Meta(paymentdomain.MetaUserID), sess.ClientReferenceID)
	if accountID == "" {
		return nil, fmt.Errorf("items checkout without account reference: %w", paymentdomain.ErrMissingMetadata)
	}
	return LegacyItemsCheckout{AccountID: accountID, Items: items}, nil
}

// companyItems prefers the provider's line items and falls back to cart_items metadata.
func (s *Service) companyItems(ctx context.Context, sess *paymentdomain.CheckoutSession, lines *sessionLines) ([]ProductQuantity, error) {
	items, err := lines.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("list session line items: %w", err)
	}

	merged := map[string]int{}
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		merged[item.ProductID] += item.Quantity
	}
	if len(merged) > 0 {
		return sortedItems(merged), nil
	}

	if raw := sess.Meta(paymentdomain.MetaCartItems); raw != "" {
		return parseCartItems(raw)
	}
	return nil, fmt.Errorf("company checkout %s: %w", sess.ID, paymentdomain.ErrNoLineItems)
}

func parseCartItems(raw string) ([]ProductQuantity, error) {
	var items []paymentdomain.CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode cart_items: %w", paymentdomain.ErrInvalidMetadata)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty cart_items: %w", paymentdomain.ErrInvalidMetadata)
	}

	merged := map[string]int{}
	for i := range items {
		items[i].ProductID = strings.TrimSpace(items[i].ProductID)
		if err := validate.Struct(items[i]); err != nil {
			return nil, fmt.Errorf("cart_items[%d]: %v: %w", i, err, paymentdomain.ErrInvalidMetadata)
		}
		merged[items[i].ProductID] += items[i].Quantity
	}
	return sortedItems(merged), nil
}

func parseLegacyItems(raw string) ([]ProductQuantity, error) {
	var items map[string]json.Number
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", paymentdomain.ErrInvalidMetadata)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty items: %w", paymentdomain.ErrInvalidMetadata)
	}

	merged := make(map[string]int, len(items))
	for key, qty := range items {
		productID := strings.TrimSpace(key)
		quantity, err := strconv.Atoi(qty.String())
		if err != nil {
			return nil, fmt.Errorf("items[%s]: %w", productID, paymentdomain.ErrInvalidMetadata)
		}
		if err := validate.Var(productID, "required"); err != nil {
			return nil, fmt.Errorf("items: empty product id: %w", paymentdomain.ErrInvalidMetadata)
		}
		if err := validate.Var(quantity, "gt=0"); err != nil {
			return nil, fmt.Errorf("items[%s]: quantity %d: %w", productID, quantity, paymentdomain.ErrInvalidMetadata)
		}
		merged[productID] = quantity
	}
	return sortedItems(merged), nil
}

func sortedItems(merged map[string]int) []ProductQuantity {
	out := make([]ProductQuantity, 0, len(merged))
	for productID, quantity := range merged {
		out = append(out, ProductQuantity{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func purchaserID(sess *paymentdomain.CheckoutSession) string {
	return firstNonEmpty(
		sess.Meta(paymentdomain.MetaUserID),
		sess.Meta(paymentdomain.MetaPurchaserID),
		sess.ClientReferenceID,
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
