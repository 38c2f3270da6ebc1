package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	binanceclient "dcaladder/internal/client/binance"
	"dcaladder/internal/config"
	cronrunner "dcaladder/internal/cron"
	"dcaladder/internal/db"
	"dcaladder/internal/handler"
	"dcaladder/internal/logger"
	"dcaladder/internal/metrics"
	gormrepository "dcaladder/internal/repository/gorm"
	"dcaladder/internal/service"
)

func main() {
	cfgPath := os.Getenv("DCA_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("DCA_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	m := metrics.New(prometheus.DefaultRegisterer)

	binance := binanceclient.New(cfg.Binance.APIKey, cfg.Binance.SecretKey, logger)

	lifecycleSvc := &service.LifecycleService{Repo: store, Logger: logger, Metrics: m}
	statusSvc := &service.StatusService{Repo: store}

	var executor *service.ExecutorService
	if cfg.Executor.Live() {
		executor = &service.ExecutorService{
			Repo:      store,
			Gateway:   binance,
			Lifecycle: lifecycleSvc,
			Logger:    logger,
			Metrics:   m,
			Config: service.ExecutorConfig{
				MaxStepAmount: cfg.Risk.MaxStepAmountDecimal(),
			},
		}
	} else {
		logger.Info("executor in dry-run mode, live order placement disabled")
	}

	planSvc := &service.PlanService{
		Repo:      store,
		Market:    binance,
		Conformer: binance,
		Executor:  executor,
		Logger:    logger,
		Metrics:   m,
	}
	expirySvc := &service.ExpiryService{
		Repo:      store,
		Lifecycle: lifecycleSvc,
		Logger:    logger,
		Metrics:   m,
		MaxAge:    cfg.Expiry.MaxAge,
		BatchSize: cfg.Expiry.BatchSize,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	planHandler := &handler.PlanHandler{
		Plans:     planSvc,
		Status:    statusSvc,
		Lifecycle: lifecycleSvc,
		Executor:  executor,
	}
	planHandler.Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled && cfg.Expiry.Enabled {
		_, err = cronRunner.Add(cfg.Cron.ExpirySweep, func(ctx context.Context) {
			if _, err := expirySvc.SweepOnce(ctx); err != nil {
				logger.Warn("cron expiry sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register expiry sweep failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Owner-ID")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
