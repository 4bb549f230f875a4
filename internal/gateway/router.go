package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
)

// Routes collects what NewRouter wires together.
type Routes struct {
	Handler *Handler
	Stream  *StreamHandler
	JWT     *auth.JWTManager
	Logger  *logging.Logger
	// Ready reports whether dependencies are reachable. Nil means always
	// ready.
	Ready func(ctx context.Context) error
}

// NewRouter builds the gin engine with health, API, websocket and swagger
// routes.
func NewRouter(r Routes) *gin.Engine {
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Health endpoints stay at the root, outside /api.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if r.Ready != nil {
			if err := r.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not ready",
					"error":  err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api")
	api.POST("/auth/login", r.Handler.Login)

	protected := api.Group("")
	protected.Use(auth.RequireAuth(r.JWT, logger))

	protected.POST("/projects", r.Handler.CreateProject)
	protected.GET("/projects/:id", r.Handler.GetProject)
	protected.POST("/projects/:id/generations", r.Handler.StartGeneration)
	protected.GET("/generations/:id", r.Handler.GetGeneration)

	if r.Stream != nil {
		protected.GET("/ws/generations/:id", r.Stream.StreamGeneration)
	}

	return router
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID, ok := auth.UserID(c); ok {
			fields = append(fields, zap.String("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error(c.Request.Context(), "Request failed", fields...)
			return
		}
		logger.Info(c.Request.Context(), "Request handled", fields...)
	}
}
