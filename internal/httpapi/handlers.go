package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"alex/internal/logging"
	"alex/internal/registry"
	"alex/internal/search"
)

type handlers struct {
	deps   Deps
	logger logging.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, expiresAt, err := h.deps.Auth.Authenticate(body.Username, body.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt})
}

func (h *handlers) requireAdmin(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if _, err := h.deps.Auth.ParseToken(token); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

func (h *handlers) handleQuery(c *gin.Context) {
	var body struct {
		Question string `json:"question"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	result := h.deps.Loop.Process(c.Request.Context(), body.Question)
	c.JSON(http.StatusOK, result)
}

// handleQueryStream upgrades to a WebSocket connection and streams back a
// single query result (and would stream incremental events in a fuller
// implementation); the wire shape matches the non-streaming /api/query
// response so clients can share one decoder.
func (h *handlers) handleQueryStream(c *gin.Context) {
	question := c.Query("question")
	if strings.TrimSpace(question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("httpapi: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	result := h.deps.Loop.Process(c.Request.Context(), question)
	if err := conn.WriteJSON(result); err != nil {
		h.logger.Warn("httpapi: websocket write failed: %v", err)
	}
}

func (h *handlers) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.deps.Registry.List()})
}

func (h *handlers) handleToolsContext(c *gin.Context) {
	query := c.Query("q")
	var results []search.SearchResult
	var err error
	if strings.TrimSpace(query) == "" {
		for _, t := range h.deps.Registry.List() {
			if !t.Executable() {
				continue
			}
			tt := t
			results = append(results, search.SearchResult{Tool: &tt})
		}
	} else {
		results, err = h.deps.Search.Search(query, 10, c.Query("category"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.String(http.StatusOK, search.FormatForLLMContext(results))
}

func (h *handlers) handleGetTool(c *gin.Context) {
	t, err := h.deps.Registry.Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *handlers) handleCreateTool(c *gin.Context) {
	var t registry.Tool
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Store.Create(c.Request.Context(), &t); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Registry.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rebuildSearchIndex(h.deps.Search, h.deps.Registry)
	c.JSON(http.StatusCreated, t)
}

func (h *handlers) handleUpdateTool(c *gin.Context) {
	name := c.Param("name")
	var patch struct {
		Description string         `json:"description"`
		Code        string         `json:"code"`
		Active      *bool          `json:"active"`
		Tags        []string       `json:"tags"`
	}
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.deps.Store.Update(c.Request.Context(), name, func(t *registry.Tool) {
		if patch.Description != "" {
			t.Description = patch.Description
		}
		if patch.Code != "" {
			t.Code = patch.Code
		}
		if patch.Active != nil {
			t.Active = *patch.Active
		}
		if patch.Tags != nil {
			t.Tags = patch.Tags
		}
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Registry.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rebuildSearchIndex(h.deps.Search, h.deps.Registry)
	c.JSON(http.StatusOK, gin.H{"updated": name})
}

func (h *handlers) handleDeleteTool(c *gin.Context) {
	name := c.Param("name")
	if err := h.deps.Store.Delete(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Registry.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rebuildSearchIndex(h.deps.Search, h.deps.Registry)
	c.Status(http.StatusNoContent)
}

func (h *handlers) handleClearBug(c *gin.Context) {
	name := c.Param("name")
	if err := h.deps.Registry.ClearBug(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Store.ClearBug(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": name})
}

func (h *handlers) handleRegistryStatus(c *gin.Context) {
	available, unavailable := h.deps.Registry.AvailabilityStatus()
	c.JSON(http.StatusOK, gin.H{"available": available, "unavailable": unavailable})
}

func (h *handlers) handleReload(c *gin.Context) {
	if err := h.deps.Registry.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rebuildSearchIndex(h.deps.Search, h.deps.Registry)
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}

// rebuildSearchIndex bridges Registry.List()'s value-typed []Tool to the
// []*Tool shape the search engine's Build expects, shared by every
// mutating endpoint that must keep the search index in sync with the
// registry's latest reload.
func rebuildSearchIndex(engine *search.Engine, reg *registry.Registry) {
	tools := reg.List()
	ptrs := make([]*registry.Tool, len(tools))
	for i := range tools {
		ptrs[i] = &tools[i]
	}
	engine.Build(ptrs)
}
