package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ratelimit"
	"github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation"
	"github.com/joshmstewart/bestdayministries-sub013/internal/reportarchive"
	"github.com/joshmstewart/bestdayministries-sub013/internal/scheduler"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/joshmstewart/bestdayministries-sub013/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		ledger.Module,
		processor.Module,
		settings.Module,
		reportarchive.Module,
		reconciliation.Module,

		// Redis lock so replicas never overlap a run
		ratelimit.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
