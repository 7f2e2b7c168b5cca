package cart

import (
	"github.com/smallbiznis/storefront/internal/cart/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("cart.repository",
	fx.Provide(repository.Provide),
)
