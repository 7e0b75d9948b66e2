// Package httpapi implements the REST + WebSocket surface (§6 External
// Interfaces), generalizing the teacher's _teacher_ref/router.go resource
// grouping and middleware-stack layering from its stdlib ServeMux/SSE
// shape to this spec's gin-gonic/gin + gorilla/websocket stack.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"alex/internal/agentloop"
	"alex/internal/auth"
	"alex/internal/logging"
	"alex/internal/registry"
	"alex/internal/search"
	"alex/internal/toolstore"
)

// Deps bundles everything the router's handlers need.
type Deps struct {
	Loop     *agentloop.Loop
	Registry *registry.Registry
	Store    *toolstore.Store
	Search   *search.Engine
	Auth     *auth.Manager
	Logger   logging.Logger
}

// NewRouter builds the gin engine with the full route table: the query
// endpoints, tool CRUD (admin-authed), registry introspection, and
// login — mirroring the teacher's resource-by-resource grouping with a
// CORS layer up front and an auth-required group for mutating endpoints.
func NewRouter(deps Deps) http.Handler {
	logger := logging.OrNop(deps.Logger)
	h := &handlers{deps: deps, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLoggingMiddleware(logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", h.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/auth/login", h.handleLogin)

		api.POST("/query", h.handleQuery)
		api.GET("/query/stream", h.handleQueryStream)

		api.GET("/tools", h.handleListTools)
		api.GET("/tools/context", h.handleToolsContext)
		api.GET("/tools/:name", h.handleGetTool)

		admin := api.Group("/tools")
		admin.Use(h.requireAdmin)
		{
			admin.POST("", h.handleCreateTool)
			admin.PUT("/:name", h.handleUpdateTool)
			admin.DELETE("/:name", h.handleDeleteTool)
			admin.POST("/:name/clear-bug", h.handleClearBug)
		}

		api.GET("/registry/status", h.handleRegistryStatus)
		adminRegistry := api.Group("/registry")
		adminRegistry.Use(h.requireAdmin)
		{
			adminRegistry.POST("/reload", h.handleReload)
		}
	}

	return r
}

func requestLoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
