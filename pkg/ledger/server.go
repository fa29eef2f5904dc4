package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Server exposes the ledger HTTP surface.
type Server struct {
	store  *Store
	engine *gin.Engine
}

// NewServer builds the gin engine and wires the routes.
func NewServer(store *Store) *Server {
	s := &Server{store: store}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.health)
	engine.POST("/events", s.createEvent)
	engine.GET("/events", s.listEvents)
	engine.GET("/runs", s.listRuns)
	engine.GET("/runs/:id", s.getRun)
	engine.GET("/orders/:id", s.getOrder)
	engine.POST("/rebuild", s.rebuild)

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

func (s *Server) createEvent(c *gin.Context) {
	var req models.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.store.InsertEvent(c.Request.Context(), req)
	if err != nil {
		slog.Error("Event insert failed", "event_type", req.EventType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event insert failed"})
		return
	}

	status := models.EventStatusCreated
	if !res.Created {
		status = models.EventStatusExists
	}
	c.JSON(http.StatusOK, models.CreateEventResponse{Status: status, EventID: res.EventID})
}

func (s *Server) listEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	events, err := s.store.ListEvents(c.Request.Context(), EventFilter{
		RunID:   c.Query("run_id"),
		OrderID: c.Query("order_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		slog.Error("Event listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event listing failed"})
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.store.ListRuns(c.Request.Context())
	if err != nil {
		slog.Error("Run listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run listing failed"})
		return
	}
	if runs == nil {
		runs = []models.RunSnapshot{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		slog.Error("Run lookup failed", "run_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run lookup failed"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.store.GetOrder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		slog.Error("Order lookup failed", "order_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order lookup failed"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) rebuild(c *gin.Context) {
	if err := s.store.Rebuild(c.Request.Context()); err != nil {
		slog.Error("Snapshot rebuild failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rebuild failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}
