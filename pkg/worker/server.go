package worker

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Server exposes the worker HTTP surface.
type Server struct {
	runner *Runner
	engine *gin.Engine
}

// NewServer builds the gin engine and wires the routes.
func NewServer(runner *Runner) *Server {
	s := &Server{runner: runner}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.health)
	engine.POST("/execute", s.execute)

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

// execute rejects only malformed requests and bad worktree paths with
// HTTP errors; every domain failure is a 200 with status=failed.
func (s *Server) execute(c *gin.Context) {
	var req models.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.runner.Execute(c.Request.Context(), req)
	if errors.Is(err, ErrInvalidWorktree) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
