package payment

import (
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.Provide),
	fx.Provide(
		func(a *stripe.Adapter) paymentdomain.Verifier { return a },
		func(a *stripe.Adapter) paymentdomain.Provider { return a },
		func(h *config.PlanCatalogHolder) paymentdomain.PlanLookup { return h },
	),
	fx.Provide(
		paymentservice.NewService,
		func(s *paymentservice.Service) paymentdomain.Reconciler { return s },
	),
	fx.Provide(webhook.ProvideLease),
	fx.Provide(webhook.NewService),
)
