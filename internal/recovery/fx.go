package recovery

import (
	"github.com/joshmstewart/bestdayministries-sub013/internal/recovery/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recovery.service",
	fx.Provide(service.NewService),
)
