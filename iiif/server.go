package iiif

import (
	"net/http"

	"github.com/gorilla/mux"
)

// MakeRouter construct the basic router (no middlewares)
func MakeRouter() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/{identifier:.*}/info.json", InfoHandler).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/{identifier:.*}/{region}/{size}/{rotation}/{quality}.{format}", ImageHandler).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/{identifier:.*}", RedirectHandler).Methods(http.MethodGet, http.MethodHead)

	return router
}

// NewHandler wraps the router with the service and logging middlewares.
func NewHandler(service *Service) http.Handler {
	return WithLogger(WithService(MakeRouter(), service), service.logger)
}
