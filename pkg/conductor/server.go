package conductor

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Server exposes the conductor HTTP surface.
type Server struct {
	orchestrator *Orchestrator
	limiter      *rate.Limiter
	engine       *gin.Engine
}

// NewServer builds the gin engine with a process-wide chat rate limit.
func NewServer(orchestrator *Orchestrator, cfg Config) *Server {
	s := &Server{
		orchestrator: orchestrator,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.health)
	engine.POST("/chat", s.rateLimit, s.chat)

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

func (s *Server) rateLimit(c *gin.Context) {
	if !s.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}
	c.Next()
}

// chat returns HTTP 400 only for malformed bodies and policy violations;
// every downstream failure travels as 200 with status=failed.
func (s *Server) chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.orchestrator.Chat(c.Request.Context(), req)
	if errors.Is(err, ErrBadRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
