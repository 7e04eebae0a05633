package handler

import (
	"fmt"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"

	"github.com/pdfbot/slack-pdf-backend/pkg/middleware"
	"github.com/pdfbot/slack-pdf-backend/pkg/service"
)

// PublicHandler handles public API
type PublicHandler struct {
	service service.Service
	log     *zap.Logger
}

// NewPublicHandler initiates a handler instance
func NewPublicHandler(s service.Service, log *zap.Logger) *PublicHandler {
	return &PublicHandler{
		service: s,
		log:     log,
	}
}

// Register adds the public routes to mux.
func (h *PublicHandler) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/health", h.Health},
		{http.MethodPost, "/sync/{channel_id}", h.Sync},
		{http.MethodGet, "/documents", h.ListDocuments},
	}

	for _, route := range routes {
		if err := mux.HandlePath(route.method, route.pattern, middleware.AccessLog(h.log, route.handler)); err != nil {
			return fmt.Errorf("registering %s %s: %w", route.method, route.pattern, err)
		}
	}
	return nil
}
