package broker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// Server serves the broker's REST and WebSocket endpoints.
type Server struct {
	broker *Broker
	srv    *http.Server
}

// NewServer builds the HTTP server for a broker on the given listen address.
func NewServer(b *Broker, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/microgrids", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"microgrids": b.Microgrids()})
	})
	api.GET("/microgrids/:name/state", func(c *gin.Context) {
		snap, ok := b.Latest(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no state recorded for microgrid"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})
	api.GET("/microgrids/:name/history", func(c *gin.Context) {
		start, err := parseTimeParam(c.Query("start"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
			return
		}
		end, err := parseTimeParam(c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
			return
		}
		snaps := b.History(c.Param("name"), start, end)
		c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
	})
	api.PUT("/microgrids/:name/parameters", func(c *gin.Context) {
		var body struct {
			Key   string `json:"key" binding:"required"`
			Value any    `json:"value" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req := SetRequest{Microgrid: c.Param("name"), Key: body.Key, Value: body.Value}
		if err := b.QueueSetRequest(req); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": req})
	})

	router.GET("/ws", func(c *gin.Context) {
		b.Hub().ServeWS(c.Writer, c.Request)
	})

	handler := cors.AllowAll().Handler(router)
	return &Server{
		broker: b,
		srv:    &http.Server{Addr: addr, Handler: handler},
	}
}

// Handler exposes the assembled HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		logrus.Infof("SiL API listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("SiL API server failed")
		}
	}()
}

// Shutdown stops the server, waiting up to the context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
