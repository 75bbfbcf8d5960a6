package http

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
)

// WatchHandler streams leaderboard snapshots over a websocket. Clients get
// the current standings on connect and a fresh snapshot whenever an attempt
// for the quiz finishes.
type WatchHandler struct {
	leaderboard *app.LeaderboardService
	upgrader    websocket.Upgrader
}

func NewWatchHandler(leaderboard *app.LeaderboardService) *WatchHandler {
	return &WatchHandler{
		leaderboard: leaderboard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWatch upgrades the request and forwards leaderboard updates until
// the client disconnects.
func (h *WatchHandler) ServeWatch(w http.ResponseWriter, r *http.Request) {
	quizID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || quizID <= 0 {
		http.Error(w, "invalid quiz id", http.StatusBadRequest)
		return
	}

	updates, cancel, err := h.leaderboard.Watch(r.Context(), quizID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Reads only serve to detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case lb, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(lb); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
