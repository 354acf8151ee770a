package ledger

import (
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.repository",
	fx.Provide(repository.Provide),
)
