package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/quota/internal/config"
	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"github.com/smallbiznis/quota/internal/observability"
	obsmiddleware "github.com/smallbiznis/quota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	obstracing "github.com/smallbiznis/quota/internal/observability/tracing"
	"github.com/smallbiznis/quota/internal/ratelimit"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
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
	entitlementSvc  entitlementdomain.Service
	usageSvc        usagedomain.Service
	couponSvc       coupondomain.Service
	limiter         *ratelimit.Limiter
	rateLimitEnable bool
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	EntitlementSvc entitlementdomain.Service
	UsageSvc       usagedomain.Service
	CouponSvc      coupondomain.Service
	Limiter        *ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		entitlementSvc:  p.EntitlementSvc,
		usageSvc:        p.UsageSvc,
		couponSvc:       p.CouponSvc,
		limiter:         p.Limiter,
		rateLimitEnable: p.Cfg.RateLimit.Enabled && p.Limiter != nil,
	}
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.TenantContext(), s.RateLimit(config.ProfileAPI))

	// -------- Usage --------
	api.GET("/usage/current", s.GetCurrentUsage)
	api.GET("/usage/periods", s.ListBillingPeriods)
	api.POST("/usage/records", s.RecordUsage)

	// -------- Entitlements --------
	api.GET("/entitlements/modules/:module", s.HasModule)
	api.POST("/entitlements/check", s.CheckAllowance)

	// -------- Subscription --------
	api.POST("/subscription", s.Subscribe)
	api.POST("/subscription/plan", s.ChangePlan)
	api.GET("/subscription/plan-changes", s.ListPlanChanges)

	// -------- Coupons --------
	coupons := s.engine.Group("/v1/coupons", s.TenantContext(), s.RateLimit(config.ProfilePayment))
	coupons.POST("/validate", s.ValidateCoupon)
	coupons.POST("/redeem", s.RedeemCoupon)
}

// registerAdminRoutes exposes operator endpoints. Access control belongs to
// the gateway in front of the engine.
func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.RateLimit(config.ProfileAuth))

	admin.PUT("/plans/:id", s.UpsertPlan)
	admin.GET("/plans/:id", s.GetPlan)

	admin.POST("/coupons", s.CreateCoupon)
	admin.GET("/coupons/:code", s.GetCoupon)
	admin.POST("/coupons/:code/activate", s.ActivateCoupon)
	admin.POST("/coupons/:code/deactivate", s.DeactivateCoupon)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
