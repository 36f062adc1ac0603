// Package controlapi exposes the device registry to external control planes
// as a JSON API.
package controlapi

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/registry"
)

// Server is the HTTP control plane.
type Server struct {
	registry *registry.Registry
	engine   *gin.Engine
	logger   *zap.Logger

	mu   sync.Mutex
	http *http.Server
}

// PatchRequest selects a device by name and carries the mutation.
type PatchRequest struct {
	Name   string               `json:"name" binding:"required"`
	Device registry.DevicePatch `json:"device"`
}

// New creates the control API for a registry.
func New(reg *registry.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		registry: reg,
		engine:   gin.New(),
		logger:   logging.With(zap.String("component", "controlapi")),
	}
	s.engine.Use(gin.Recovery())

	v1 := s.engine.Group("/v1")
	v1.GET("/devices", s.listDevices)
	v1.PATCH("/devices", s.patchDevice)
	v1.PUT("/devices/reset", s.resetDevices)

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve runs the API on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	srv := &http.Server{Handler: s.engine}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("Control API listening", zap.String("address", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the API down.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv != nil {
		_ = srv.Close()
	}
}

func (s *Server) listDevices(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) patchDevice(c *gin.Context) {
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.registry.PatchDevice(req.Name, req.Device); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) resetDevices(c *gin.Context) {
	s.registry.Reset()
	c.Status(http.StatusOK)
}

// statusFor maps registry errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAmbiguous), errors.Is(err, registry.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
