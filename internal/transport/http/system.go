package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"quiz-room-service/internal/app"
)

// NewRouter mounts the WebSocket endpoint and the operational endpoints.
func NewRouter(ws *WSHandler, coordinator *app.Coordinator, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /usage", func(w http.ResponseWriter, r *http.Request) {
		usage, err := coordinator.Snapshot(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("sample usage")
			http.Error(w, "usage unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(usage)
	})
	mux.HandleFunc("GET /ws", ws.ServeWS)
	return mux
}
