package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/salestack/dealsense/config"
	"github.com/salestack/dealsense/internal/analyst"
	"github.com/salestack/dealsense/internal/analyst/telemetry"
	"github.com/salestack/dealsense/internal/memory"
	"github.com/salestack/dealsense/internal/runtime"
	"github.com/salestack/dealsense/internal/scoring"
	"github.com/salestack/dealsense/internal/store"
	"github.com/salestack/dealsense/provider"
)

// Run wires the full service and serves HTTP until the process exits.
func Run(cfgPath, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	cfg := config.LoadConfig(cfgPath)

	dsn := cfg.Storage.Postgres.DSN()
	_ = Migrate("file://migrations", dsn, "up", 0)

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}
	st.EpisodicCapacity = cfg.Memory.Episodic.Capacity

	e.GET("/healthz", func(c echo.Context) error {
		if err := st.DB.PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "database": "connected"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	mem := memory.NewSQL(st)
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	scorer, err := scoring.NewAgent(cfg, llm, tele)
	if err != nil {
		return err
	}
	loop := analyst.NewLoop(cfg, mem, scorer, tele)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	auth := &AuthHandler{Store: st, Secret: secret}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(auth.Secret))
	me.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, MeResponse{UserID: c.Get("user_id").(string)})
	})

	dh := &DealsHandler{Loop: loop, Memory: mem, Store: st, HistoryLimit: cfg.Memory.Episodic.RecallLimit, SimilarLimit: cfg.Memory.Episodic.SimilarLimit, DefaultCron: cfg.Scheduler.DefaultCron}
	dh.Register(api.Group("/deals"), auth.Secret)
	api.GET("/watchlist", dh.watchlist, runtime.EchoAuthMiddleware(auth.Secret))

	mh := &MemoryHandler{Memory: mem, MinConfidence: cfg.Memory.Semantic.PlanMinConfidence}
	mh.Register(api, auth.Secret)

	ih := &IntegrationsHandler{}
	ih.Register(api.Group("/integrations"), auth.Secret)

	if cfg.Scheduler.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		sched := &Scheduler{
			Store:       st,
			Loop:        loop,
			Rdb:         rdb,
			Stop:        make(chan struct{}),
			Interval:    cfg.Scheduler.Interval,
			DefaultCron: cfg.Scheduler.DefaultCron,
		}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":8090"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
