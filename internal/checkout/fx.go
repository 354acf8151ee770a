package checkout

import (
	"github.com/joshmstewart/bestdayministries-sub013/internal/checkout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(service.NewService),
)
