package service

import (
	"context"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

// sessionLines fetches a checkout session's line items at most once per event,
// including a failed fetch.
type sessionLines struct {
	provider  paymentdomain.Provider
	sessionID string

	loaded bool
	items  []paymentdomain.LineItem
	err    error
}

func newSessionLines(provider paymentdomain.Provider, sessionID string) *sessionLines {
	return &sessionLines{provider: provider, sessionID: sessionID}
}

func (l *sessionLines) Get(ctx context.Context) ([]paymentdomain.LineItem, error) {
	if l.loaded {
		return l.items, l.err
	}
	l.loaded = true
	if l.provider == nil || l.sessionID == "" {
		return nil, nil
	}
	l.items, l.err = l.provider.ListLineItems(ctx, l.sessionID)
	return l.items, l.err
}
