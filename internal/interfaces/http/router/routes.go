package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h *Handlers) {
	// 内容生成；静态段 code 优先于 :content_type
	if h.Generation != nil {
		generate := v1.Group("/generate")
		{
			generate.POST("", h.Generation.Generate)
			generate.POST("/code", h.Generation.GenerateCode)
			generate.POST("/:content_type", h.Generation.GenerateForType)
		}
		v1.GET("/content-types", h.Generation.ListContentTypes)
	}

	if h.Provider != nil {
		v1.GET("/providers", h.Provider.ListProviders)
	}

	// 用量查询
	if h.Usage != nil {
		usage := v1.Group("/usage")
		{
			usage.GET("/summary", h.Usage.Summary)
			usage.GET("/records", h.Usage.Records)
		}
	}
}
