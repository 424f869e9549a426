package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/habito/internal/handler"
	"github.com/habito/internal/logger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Options 描述路由依赖
type Options struct {
	API         *handler.API
	Log         *logger.Logger
	CORSOrigins []string
	RateLimiter *handler.RateLimiter
	ServiceName string
	// Ping 用于健康检查，通常探测数据库连接
	Ping func(ctx context.Context) error
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(opts Options) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "habito"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(opts.ServiceName))
	r.Use(handler.RequestLogger(opts.Log))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		if opts.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := opts.API
	v1 := r.Group("/api/v1")
	{
		v1.POST("/auth/login", api.Login)

		// 需要认证的路由
		auth := v1.Group("")
		auth.Use(api.AuthRequired(), opts.RateLimiter.Middleware())
		{
			auth.GET("/auth/me", api.Me)

			habits := auth.Group("/habits")
			{
				habits.GET("", api.ListHabits)
				habits.POST("", api.CreateHabit)
				habits.GET("/:id", api.GetHabit)
				habits.GET("/:id/with-stats", api.GetHabitWithStats)
				habits.PUT("/:id", api.UpdateHabit)
				habits.DELETE("/:id", api.DeleteHabit)
				habits.POST("/:id/archive", api.ArchiveHabit)
				habits.POST("/:id/unarchive", api.UnarchiveHabit)
			}

			reps := auth.Group("/repetitions")
			{
				reps.GET("", api.ListRepetitions)
				reps.POST("", api.CreateRepetition)
				reps.GET("/:id", api.GetRepetition)
				reps.PUT("/:id", api.UpdateRepetition)
				reps.DELETE("/:id", api.DeleteRepetition)
				reps.GET("/habit/:id/today", api.GetTodayRepetition)
				reps.POST("/habit/:id/toggle", api.ToggleRepetition)
			}

			auth.GET("/streaks/habit/:id", api.GetHabitStreaks)
			auth.POST("/streaks/habit/:id/recalculate", api.RecalculateHabitStreaks)

			auth.GET("/scores/habit/:id/current", api.GetCurrentScore)
			auth.GET("/scores/habit/:id/history", api.GetScoreHistory)
			auth.POST("/scores/habit/:id/recalculate", api.RecalculateScores)

			auth.GET("/statistics/overview", api.GetOverviewStatistics)
			auth.GET("/statistics/habit/:id", api.GetHabitStatistics)
			auth.GET("/statistics/habit/:id/detailed", api.GetDetailedHabitStatistics)
		}
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
