// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diagram-submissions/internal/common/logger"
)

// NewRouter builds the gin engine for the tutoring UI. There is no auth
// middleware; the service sits behind the session gateway.
func NewRouter(a *API) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.log))

	r.GET("/health", a.Health)
	r.GET("/ready", a.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		questions := v1.Group("/sessions/:sessionId/questions/:cardId")
		questions.GET("", a.RenderQuestion)
		questions.POST("/submissions", a.Submit)

		v1.GET("/files/:fileId/url", a.FileURL)
		v1.GET("/templates", a.ListTemplates)
	}
	return r
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latencyMs": time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= 500 {
			log.Error("request failed", fields)
			return
		}
		log.Debug("request served", fields)
	}
}
