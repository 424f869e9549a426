package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habito/internal/auth"
	"github.com/habito/internal/cache"
	"github.com/habito/internal/config"
	"github.com/habito/internal/db"
	"github.com/habito/internal/handler"
	"github.com/habito/internal/logger"
	"github.com/habito/internal/observability"
	"github.com/habito/internal/router"
	"github.com/habito/internal/service"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const serviceName = "habito"

// App 持有进程内共享的连接与服务，server 与 habitctl 共用
type App struct {
	Log     *logger.Logger
	Cfg     config.AppConfig
	DB      *gorm.DB
	Cache   cache.Cache
	Tokens  *auth.TokenService
	Users   *service.UserService
	Habits  *service.HabitService
	Reps    *service.RepetitionService
	Derived *service.DerivedService
	Stats   *service.StatisticsService

	closers []func() error
}

// New 连接数据库与缓存并装配服务
func New(ctx context.Context, cfg config.AppConfig, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	scoring, err := config.LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		return nil, err
	}

	if err := db.Init(db.Options{
		Driver: cfg.DatabaseDriver,
		Path:   cfg.DatabasePath,
		DSN:    cfg.DatabaseURL,
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	a := &App{Log: log, Cfg: cfg, DB: db.DB}
	if sqlDB, err := db.DB.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		ServiceName: serviceName,
		Environment: cfg.GinMode,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: 1,
	})
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	a.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(cache.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Warn("redis unavailable, falling back to in-process cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			a.Cache = rc
			a.closers = append(a.closers, rc.Close)
			log.Info("statistics cache backed by redis", "addr", cfg.RedisAddr)
		}
	}

	loc := cfg.Location()
	a.Tokens = auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	a.Users = service.NewUserService(a.DB)
	a.Derived = service.NewDerivedService(a.DB, scoring, loc, log)
	a.Habits = service.NewHabitService(a.DB, a.Derived)
	a.Reps = service.NewRepetitionService(a.DB, a.Derived)
	a.Stats = service.NewStatisticsService(a.Habits, a.Reps, service.StatisticsOptions{
		Cache:       a.Cache,
		CacheTTL:    cfg.StatsCacheTTL,
		Scoring:     scoring,
		Location:    loc,
		Concurrency: cfg.OverviewConcurrency,
		Log:         log,
	})

	if err := db.EnsureUser(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure root user: %w", err)
	}

	return a, nil
}

// Router 构造 HTTP 路由
func (a *App) Router() *gin.Engine {
	api := handler.NewAPI(handler.Options{
		Log:         a.Log,
		Tokens:      a.Tokens,
		Users:       a.Users,
		Habits:      a.Habits,
		Repetitions: a.Reps,
		Derived:     a.Derived,
		Statistics:  a.Stats,
		Location:    a.Cfg.Location(),
	})

	return router.SetupRouter(router.Options{
		API:         api,
		Log:         a.Log,
		CORSOrigins: a.Cfg.CORSOrigins,
		RateLimiter: handler.NewRateLimiter(a.Cfg.RateLimitRPS, a.Cfg.RateLimitBurst),
		ServiceName: serviceName,
		Ping: func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})
}

// Close 释放连接
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close resource failed", "error", err)
		}
	}
	a.closers = nil
}
