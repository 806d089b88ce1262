package iiif

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the cache key to use.
type ContextKey string

// WithService sets the service answering the requests.
func WithService(h http.Handler, service *Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = context.WithValue(ctx, ContextKey("service"), service)
		r = r.WithContext(ctx)
		h.ServeHTTP(w, r)
	})
}

// WithLogger gives each request a logger tagged with a request id.
func WithLogger(h http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logger.With().
			Str("request", uuid.NewString()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		r = r.WithContext(l.WithContext(r.Context()))
		l.Debug().Msg("request")
		h.ServeHTTP(w, r)
	})
}

func serviceFrom(r *http.Request) *Service {
	s, _ := r.Context().Value(ContextKey("service")).(*Service)
	return s
}
