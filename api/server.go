// Package api exposes a read-only status surface over HTTP and websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"PresenceSensor/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	iface "PresenceSensor/interface"
)

type StatusProvider interface {
	Status() iface.Status
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	Router *gin.Engine

	status StatusProvider
	hub    *Hub
}

func NewServer(status StatusProvider, hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{Router: r, status: status, hub: hub}
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.status.Status()})
	})
	r.GET("/ws/status", s.serveStatusFeed)
	return s
}

func (s *Server) serveStatusFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := s.hub.add(conn)
	go cl.writePump()
	// the feed is push only; reads just detect the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.remove(cl)
			logger.Log().Debug("status subscriber left", zap.Error(err))
			return
		}
	}
}

// Run serves on port until ctx is done.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
