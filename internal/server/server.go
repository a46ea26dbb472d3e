package server

import (
	"log"
	"net/http"
	"time"
)

func Handler(hub *Hub, deps Deps) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, deps)

	return mux
}

// NewServer returns an HTTP server for the API. Write timeouts are left
// unset so the WebSocket stream is not cut off.
func NewServer(addr string, hub *Hub, deps Deps) *http.Server {
	log.Printf("API at http://%s/api", addr)
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(hub, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
