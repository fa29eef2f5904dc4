package observer

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Server exposes the observer HTTP surface: liveness, monitor stats, and
// the alert dedupe cache.
type Server struct {
	monitor *Monitor
	signals *Signals
	engine  *gin.Engine
}

// NewServer builds the gin engine and wires the routes.
func NewServer(monitor *Monitor, signals *Signals) *Server {
	s := &Server{monitor: monitor, signals: signals}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.healthz)
	engine.GET("/status", s.status)
	engine.GET("/alerts", s.alerts)

	s.engine = engine
	return s
}

// Handler returns the underlying http.Handler (used by tests and main).
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Stats())
}

func (s *Server) alerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.signals.Snapshot())
}
