package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// RouterOptions configures the HTTP middleware stack.
type RouterOptions struct {
	// RequestTimeout cancels the request context after the duration. Zero
	// disables the timeout.
	RequestTimeout time.Duration
	// CORSOrigins lists the allowed origins. Empty allows any origin.
	CORSOrigins []string
}

// NewRouter serves the public routes of h through a gateway mux, behind the
// request ID, real IP, recovery, timeout and CORS middleware.
func NewRouter(h *PublicHandler, opts RouterOptions) (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := h.Register(mux); err != nil {
		return nil, err
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/*", mux)
	return r, nil
}
