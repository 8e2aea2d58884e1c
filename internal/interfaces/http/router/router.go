// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/interfaces/http/handler"
	"z-content-ai-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器集合
type Handlers struct {
	Health     *handler.HealthHandler
	Generation *handler.GenerationHandler
	Provider   *handler.ProviderHandler
	Usage      *handler.UsageHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers *Handlers
}

// New 创建新的路由器
func New(cfg *config.Config, handlers *Handlers) *Router {
	// 设置 Gin 模式
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// systemPaths 不参与追踪与指标
func (r *Router) systemPaths() []string {
	return []string{"/health", "/ready", "/live", r.cfg.Observability.Metrics.Path}
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, r.systemPaths()...))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics(r.systemPaths()...))
	}
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	if h := r.handlers.Health; h != nil {
		r.engine.GET("/health", h.Health)
		r.engine.GET("/ready", h.Ready)
		r.engine.GET("/live", h.Live)
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	RegisterV1Routes(r.engine.Group("/v1"), r.handlers)
}
