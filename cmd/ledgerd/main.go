package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/checkout"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"github.com/joshmstewart/bestdayministries-sub013/internal/identity"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger"
	"github.com/joshmstewart/bestdayministries-sub013/internal/migration"
	"github.com/joshmstewart/bestdayministries-sub013/internal/newsletter"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor"
	"github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation"
	"github.com/joshmstewart/bestdayministries-sub013/internal/recovery"
	"github.com/joshmstewart/bestdayministries-sub013/internal/reportarchive"
	"github.com/joshmstewart/bestdayministries-sub013/internal/scheduler"
	"github.com/joshmstewart/bestdayministries-sub013/internal/server"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/joshmstewart/bestdayministries-sub013/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Ledger and processor
		ledger.Module,
		processor.Module,
		settings.Module,
		identity.Module,
		newsletter.Module,
		reportarchive.Module,

		// Operations
		checkout.Module,
		reconciliation.Module,
		recovery.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
