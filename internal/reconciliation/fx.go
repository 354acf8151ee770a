package reconciliation

import (
	"github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.service",
	fx.Provide(service.NewService),
)
