package websocket

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"https://localhost:3000",
	"http://127.0.0.1:3000",
}

// NewUpgrader accepts the default development origins, any localhost
// variation, and the configured origins.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(defaultAllowedOrigins)+len(allowedOrigins))
	for _, origin := range defaultAllowedOrigins {
		allowed[origin] = true
	}
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = true
		}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin header.
			if origin == "" || allowed[origin] {
				return true
			}
			return strings.Contains(origin, "://localhost") || strings.Contains(origin, "://127.0.0.1")
		},
	}
}
