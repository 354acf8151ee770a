package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"github.com/joshmstewart/bestdayministries-sub013/internal/identity"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability"
	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability/logger"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor"
	"github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation"
	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/recovery"
	recoverydomain "github.com/joshmstewart/bestdayministries-sub013/internal/recovery/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/reportarchive"
	"github.com/joshmstewart/bestdayministries-sub013/internal/settings"
	"github.com/joshmstewart/bestdayministries-sub013/pkg/db"
	"github.com/joshmstewart/bestdayministries-sub013/pkg/telemetry/correlation"
	"go.uber.org/fx"
)

const (
	actorCLI       = "cli"
	startupTimeout = 30 * time.Second
)

type services struct {
	Reconciliation reconciliationdomain.Service
	Recovery       recoverydomain.Service
}

// withServices boots the ledger services without the HTTP server or the
// scheduler, runs fn and shuts everything down again.
func withServices(ctx context.Context, fn func(ctx context.Context, svc services) error) error {
	var svc services
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Decorate(logToStderr),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ledger.Module,
		processor.Module,
		settings.Module,
		identity.Module,
		reportarchive.Module,
		reconciliation.Module,
		recovery.Module,
		fx.Populate(&svc.Reconciliation, &svc.Recovery),
	)

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	ctx = obscontext.WithActor(ctx, actorCLI, operatorName())
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	return fn(ctx, svc)
}

// logToStderr keeps stdout free for the JSON report.
func logToStderr(cfg logger.Config) logger.Config {
	cfg.Output = "stderr"
	return cfg
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func operatorName() string {
	if name := strings.TrimSpace(os.Getenv("USER")); name != "" {
		return name
	}
	return actorCLI
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
