package vault

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Server exposes the vault HTTP surface.
type Server struct {
	manager *Manager
	engine  *gin.Engine
}

// NewServer builds the gin engine and wires the routes.
func NewServer(manager *Manager) *Server {
	s := &Server{manager: manager}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.health)
	engine.POST("/worktrees", s.createWorktree)
	engine.GET("/worktrees/:theater/:order_id", s.getWorktree)
	engine.POST("/worktrees/:theater/:order_id/archive", s.archiveWorktree)
	engine.POST("/worktrees/:theater/:order_id/remove", s.removeWorktree)

	s.engine = engine
	return s
}

// Handler returns the underlying http.Handler (used by tests and main).
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps manager errors onto HTTP statuses: invalid input is
// the caller's fault, a missing theater or worktree is 404, anything
// else is a vault-side failure.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		slog.Error("Vault operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) createWorktree(c *gin.Context) {
	var req models.WorktreeCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Theater == "" || req.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "theater and order_id are required"})
		return
	}

	path, created, err := s.manager.CreateWorktree(c.Request.Context(), req.Theater, req.OrderID, req.BaseRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.WorktreeResponse{
		OrderID: req.OrderID,
		Path:    path,
		Exists:  true,
		Created: created,
	})
}

func (s *Server) getWorktree(c *gin.Context) {
	path, exists, err := s.manager.GetWorktree(c.Param("theater"), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.WorktreeResponse{
		OrderID: c.Param("order_id"),
		Path:    path,
		Exists:  exists,
	})
}

func (s *Server) archiveWorktree(c *gin.Context) {
	archivePath, err := s.manager.ArchiveWorktree(c.Param("theater"), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ArchiveResponse{
		OrderID:     c.Param("order_id"),
		ArchivePath: archivePath,
		Success:     true,
	})
}

func (s *Server) removeWorktree(c *gin.Context) {
	archivePath, err := s.manager.RemoveWorktree(c.Request.Context(), c.Param("theater"), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.RemoveResponse{
		Status:      "removed",
		ArchivePath: archivePath,
	})
}
