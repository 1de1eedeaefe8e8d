package events

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the bracket frontend origin once it is deployed.
		return true
	},
}

// SubscribeHandler upgrades the connection and registers the client in the
// room of the requested tournament. Clients connect with ?tournament_id=N.
func SubscribeHandler(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tournamentID, err := strconv.Atoi(r.URL.Query().Get("tournament_id"))
		if err != nil || tournamentID <= 0 {
			http.Error(w, "missing or invalid tournament_id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logger.Warn("websocket upgrade failed",
				slog.Int("tournament_id", tournamentID),
				slog.Any("error", err))
			return
		}

		client := &Client{
			Hub:  hub,
			Conn: conn,
			Send: make(chan []byte, 256),
			Room: strconv.Itoa(tournamentID),
		}
		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()

		logger.Info("event subscriber connected", slog.Int("tournament_id", tournamentID))
	}
}
