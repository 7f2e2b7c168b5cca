package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// productIDMetadataKey names the Stripe product metadata entry holding the storefront product id.
const productIDMetadataKey = "product_id"

var ErrNotConfigured = errors.New("stripe_not_configured")

type Config struct {
	SecretKey     string
	WebhookSecret string
	// Backends overrides the API endpoints; nil uses Stripe's.
	Backends *stripego.Backends
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Adapter verifies Stripe deliveries and calls the Stripe API through a
// constructed client; it never touches the package-level stripe.Key.
type Adapter struct {
	api           *client.API
	webhookSecret string
	metrics       *obsmetrics.Metrics
}

func Provide(p Params) *Adapter {
	if strings.TrimSpace(p.Cfg.Stripe.WebhookSecret) == "" {
		p.Log.Warn("stripe webhook secret is empty, every delivery will be rejected")
	}
	if strings.TrimSpace(p.Cfg.Stripe.SecretKey) == "" {
		p.Log.Warn("stripe secret key is empty, provider lookups are disabled")
	}
	adapter := New(Config{
		SecretKey:     p.Cfg.Stripe.SecretKey,
		WebhookSecret: p.Cfg.Stripe.WebhookSecret,
	})
	adapter.metrics = p.ObsMetrics
	return adapter
}

func New(cfg Config) *Adapter {
	adapter := &Adapter{webhookSecret: strings.TrimSpace(cfg.WebhookSecret)}
	if key := strings.TrimSpace(cfg.SecretKey); key != "" {
		adapter.api = client.New(key, cfg.Backends)
	}
	return adapter
}

// ConstructEvent checks the Stripe-Signature header over the raw payload and decodes it.
func (a *Adapter) ConstructEvent(payload []byte, signatureHeader string) (*paymentdomain.Event, error) {
	if a.webhookSecret == "" || strings.TrimSpace(signatureHeader) == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signatureHeader,
		a.webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, paymentdomain.ErrInvalidSignature
	}
	return toEvent(event)
}

// DecodeEvent parses a payload that was verified when it was first received.
func (a *Adapter) DecodeEvent(payload []byte) (*paymentdomain.Event, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return toEvent(event)
}

func (a *Adapter) ListLineItems(ctx context.Context, sessionID string) ([]paymentdomain.LineItem, error) {
	if a.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripego.CheckoutSessionListLineItemsParams{
		Session: stripego.String(sessionID),
	}
	params.Context = ctx
	params.AddExpand("data.price.product")

	var items []paymentdomain.LineItem
	iter := a.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		line := iter.LineItem()
		if line == nil {
			continue
		}
		items = append(items, toLineItem(line))
	}
	err := iter.Err()
	a.metrics.RecordProviderCall(ctx, "list_line_items", err == nil)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (a *Adapter) GetCustomer(ctx context.Context, customerID string) (*paymentdomain.Customer, error) {
	if a.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripego.CustomerParams{}
	params.Context = ctx
	cust, err := a.api.Customers.Get(customerID, params)
	a.metrics.RecordProviderCall(ctx, "get_customer", err == nil)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.Customer{ID: cust.ID, Email: cust.Email, Name: cust.Name}, nil
}

func (a *Adapter) GetSubscription(ctx context.Context, subscriptionID string) (*paymentdomain.Subscription, error) {
	if a.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	sub, err := a.api.Subscriptions.Get(subscriptionID, params)
	a.metrics.RecordProviderCall(ctx, "get_subscription", err == nil)
	if err != nil {
		return nil, err
	}
	return toSubscription(sub), nil
}

func toEvent(event stripego.Event) (*paymentdomain.Event, error) {
	out := &paymentdomain.Event{
		ID:   strings.TrimSpace(event.ID),
		Type: strings.TrimSpace(string(event.Type)),
	}
	if out.ID == "" || out.Type == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if event.Created > 0 {
		out.Created = time.Unix(event.Created, 0).UTC()
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "checkout.session."):
		var sess stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.Checkout = toCheckout(&sess)
	case strings.HasPrefix(out.Type, "invoice."):
		var inv stripego.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.Invoice = toInvoice(&inv)
	case strings.HasPrefix(out.Type, "customer.subscription."):
		var sub stripego.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.Subscription = toSubscription(&sub)
	}
	return out, nil
}

func toCheckout(sess *stripego.CheckoutSession) *paymentdomain.CheckoutSession {
	out := &paymentdomain.CheckoutSession{
		ID:                sess.ID,
		ClientReferenceID: strings.TrimSpace(sess.ClientReferenceID),
		CustomerEmail:     strings.TrimSpace(sess.CustomerEmail),
		Metadata:          sess.Metadata,
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.CustomerDetails != nil && strings.TrimSpace(sess.CustomerDetails.Email) != "" {
		out.CustomerEmail = strings.TrimSpace(sess.CustomerDetails.Email)
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	return out
}

func toInvoice(inv *stripego.Invoice) *paymentdomain.Invoice {
	out := &paymentdomain.Invoice{ID: inv.ID}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil || line.Price == nil || line.Price.ID == "" {
				continue
			}
			out.PriceIDs = appendUnique(out.PriceIDs, line.Price.ID)
		}
	}
	return out
}

func toSubscription(sub *stripego.Subscription) *paymentdomain.Subscription {
	out := &paymentdomain.Subscription{ID: sub.ID}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil || item.Price.ID == "" {
				continue
			}
			out.PriceIDs = appendUnique(out.PriceIDs, item.Price.ID)
		}
	}
	return out
}

func toLineItem(line *stripego.LineItem) paymentdomain.LineItem {
	item := paymentdomain.LineItem{Quantity: int(line.Quantity)}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	if line.Price == nil {
		return item
	}
	item.PriceID = line.Price.ID
	if product := line.Price.Product; product != nil {
		item.ProductID = product.ID
		if local := strings.TrimSpace(product.Metadata[productIDMetadataKey]); local != "" {
			item.ProductID = local
		}
	}
	return item
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
