package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/d60-Lab/publish-scheduler/docs"
	"github.com/d60-Lab/publish-scheduler/config"
	"github.com/d60-Lab/publish-scheduler/internal/api/handler"
	"github.com/d60-Lab/publish-scheduler/internal/api/middleware"
)

// HealthCheck 依赖探活
type HealthCheck func(ctx context.Context) error

// NewRouter 注册全部路由
func NewRouter(cfg *config.Config, h *handler.Handler, health HealthCheck) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	registerValidators()

	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logger())
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if health != nil {
			if err := health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Server.Mode != gin.ReleaseMode {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1", middleware.Auth(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	{
		s := v1.Group("/schedules")
		s.POST("", h.CreateSchedule)
		s.GET("", h.ListSchedules)
		s.GET("/calendar", h.Calendar)
		s.GET("/:id", h.GetSchedule)
		s.PATCH("/:id", h.UpdateSchedule)
		s.POST("/:id/cancel", h.CancelSchedule)
		s.DELETE("/:id", h.DeleteSchedule)
	}
	return r
}

func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
		tz := fl.Field().String()
		if tz == "" {
			return true
		}
		_, err := time.LoadLocation(tz)
		return err == nil
	})
}
