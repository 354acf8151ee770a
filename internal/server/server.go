package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshmstewart/bestdayministries-sub013/internal/authorization"
	checkoutdomain "github.com/joshmstewart/bestdayministries-sub013/internal/checkout/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability"
	obsmiddleware "github.com/joshmstewart/bestdayministries-sub013/internal/observability/logger"
	obsmetrics "github.com/joshmstewart/bestdayministries-sub013/internal/observability/metrics"
	obstracing "github.com/joshmstewart/bestdayministries-sub013/internal/observability/tracing"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ratelimit"
	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	recoverydomain "github.com/joshmstewart/bestdayministries-sub013/internal/recovery/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the shared middleware chain. CORS sits
// in front of routing so preflight requests never reach a handler.
func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS(cfg.CORSAllowedOrigins))
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// checkoutRateLimiter is the part of ratelimit.CheckoutLimiter the public
// routes depend on.
type checkoutRateLimiter interface {
	Enabled() bool
	AllowClient(ctx context.Context, endpoint, clientKey string) (*ratelimit.Result, error)
	AllowEndpoint(ctx context.Context, endpoint string) (*ratelimit.Result, error)
}

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	log               *zap.Logger
	checkoutSvc       checkoutdomain.Service
	reconciliationSvc reconciliationdomain.Service
	recoverySvc       recoverydomain.Service
	authzSvc          authorization.Service
	checkoutLimiter   checkoutRateLimiter
	obsMetrics        *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	Log               *zap.Logger
	CheckoutSvc       checkoutdomain.Service
	ReconciliationSvc reconciliationdomain.Service
	RecoverySvc       recoverydomain.Service
	AuthzSvc          authorization.Service
	CheckoutLimiter   *ratelimit.CheckoutLimiter `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		log:               log.Named("http.server"),
		checkoutSvc:       p.CheckoutSvc,
		reconciliationSvc: p.ReconciliationSvc,
		recoverySvc:       p.RecoverySvc,
		authzSvc:          p.AuthzSvc,
		checkoutLimiter:   p.CheckoutLimiter,
		obsMetrics:        p.ObsMetrics,
	}

	svc.registerPublicRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	checkout := s.engine.Group("/api/checkout")
	checkout.Use(s.CheckoutRateLimit())

	checkout.POST("/donation", s.CreateDonationCheckout)
	checkout.POST("/sponsorship", s.CreateSponsorshipCheckout)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.POST("/reconciliation/run",
		s.AuthRequired(authorization.ObjectReconciliation, authorization.ActionRun),
		s.RunReconciliation,
	)
	admin.POST("/recovery/run",
		s.AuthRequired(authorization.ObjectRecovery, authorization.ActionRun),
		s.RunRecovery,
	)
	admin.POST("/recovery/diagnose",
		s.AuthRequired(authorization.ObjectRecovery, authorization.ActionDiagnose),
		s.DiagnoseRecovery,
	)
}
