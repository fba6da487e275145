package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	"github.com/smallbiznis/creditline/internal/config"
	creditsdomain "github.com/smallbiznis/creditline/internal/credits/domain"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	limitsdomain "github.com/smallbiznis/creditline/internal/limits/domain"
	"github.com/smallbiznis/creditline/internal/metering"
	"github.com/smallbiznis/creditline/internal/observability"
	obsmiddleware "github.com/smallbiznis/creditline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditline/internal/observability/tracing"
	"github.com/smallbiznis/creditline/internal/pricing"
	"github.com/smallbiznis/creditline/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", obsmetrics.Handler())

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authzSvc        authorization.Service
	tenantSvc       tenantdomain.Service
	tierSvc         licensetierdomain.Service
	userSvc         userdomain.Service
	poolSvc         licensepooldomain.Service
	ledgerSvc       ledgerdomain.Service
	creditsSvc      creditsdomain.Service
	limitsSvc       limitsdomain.Service
	subscriptionSvc subscriptiondomain.Service
	meteringSvc     *metering.Service
	executions      *metering.Registry
	pricingEngine   *pricing.Engine
	pricingTable    *config.PricingTableHolder
	ingestLimiter   *ratelimit.ExecutionLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	TenantSvc       tenantdomain.Service
	TierSvc         licensetierdomain.Service
	UserSvc         userdomain.Service
	PoolSvc         licensepooldomain.Service
	LedgerSvc       ledgerdomain.Service
	CreditsSvc      creditsdomain.Service
	LimitsSvc       limitsdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	MeteringSvc     *metering.Service
	Executions      *metering.Registry
	PricingEngine   *pricing.Engine
	PricingTable    *config.PricingTableHolder  `optional:"true"`
	IngestLimiter   *ratelimit.ExecutionLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		tenantSvc:       p.TenantSvc,
		tierSvc:         p.TierSvc,
		userSvc:         p.UserSvc,
		poolSvc:         p.PoolSvc,
		ledgerSvc:       p.LedgerSvc,
		creditsSvc:      p.CreditsSvc,
		limitsSvc:       p.LimitsSvc,
		subscriptionSvc: p.SubscriptionSvc,
		meteringSvc:     p.MeteringSvc,
		executions:      p.Executions,
		pricingEngine:   p.PricingEngine,
		pricingTable:    p.PricingTable,
		ingestLimiter:   p.IngestLimiter,
	}
	svc.registerAPIRoutes()
	svc.registerFallback()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.ActorContext())

	// -------- Tenants --------
	api.POST("/tenants", s.CreateTenant)
	api.GET("/tenants", s.ListTenants)
	api.GET("/tenants/:id", s.GetTenant)
	api.PATCH("/tenants/:id", s.UpdateTenant)
	api.DELETE("/tenants/:id", s.DeleteTenant)
	api.GET("/tenants/:id/pools", s.ListTenantPools)
	api.PUT("/tenants/:id/pools/:tier_id", s.UpsertTenantPool)
	api.GET("/tenants/:id/credits", s.GetTenantCredits)

	// -------- License Tiers --------
	api.POST("/tiers", s.CreateTier)
	api.GET("/tiers", s.ListTiers)
	api.GET("/tiers/:id", s.GetTier)
	api.PATCH("/tiers/:id", s.UpdateTier)
	api.DELETE("/tiers/:id", s.DeleteTier)

	// -------- Users & Licenses --------
	api.POST("/users", s.CreateUser)
	api.GET("/users/:id", s.GetUser)
	api.POST("/users/:id/license", s.AssignLicense)
	api.DELETE("/users/:id/license", s.UnassignLicense)
	api.POST("/users/:id/license/upgrade", s.UpgradeLicense)

	// -------- Credits & Limits --------
	api.GET("/users/:id/credits", s.GetUserCredits)
	api.POST("/users/:id/credits/add", s.AddCredits)
	api.POST("/users/:id/credits/refund", s.RefundCredits)
	api.POST("/users/:id/credits/check", s.CheckCredits)
	api.GET("/users/:id/limits", s.GetUserLimits)

	// -------- Transactions --------
	api.GET("/transactions", s.ListTransactions)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscription)
	api.POST("/subscriptions/:id/renew", s.RenewSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/change-tier", s.ChangeSubscriptionTier)
	api.GET("/subscriptions/:id/history", s.ListSubscriptionHistory)

	// -------- Metering --------
	api.POST("/executions", s.StartExecution)
	api.POST("/executions/:trace_id/calls", s.RecordExecutionCall)
	api.POST("/executions/:trace_id/finalize", s.FinalizeExecution)
	api.POST("/pricing/estimate", s.EstimatePricing)
	api.POST("/pricing/reload", s.ReloadPricing)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
