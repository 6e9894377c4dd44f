package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The feed is read-only; cross-origin subscribers are fine
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	changeFeedPollInterval = 100 * time.Millisecond
	changeFeedBatchSize    = 256
	changeFeedWriteWait    = 10 * time.Second
)

// handleChanges upgrades the connection and streams change events as
// JSON messages. The optional "from" query parameter resumes the feed
// after a sequence number.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if s.changeLog == nil {
		writeError(w, http.StatusNotFound, "change feed disabled")
		return
	}

	cursor := uint64(0)
	if from := r.URL.Query().Get("from"); from != "" {
		parsed, err := strconv.ParseUint(from, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from parameter")
			return
		}
		cursor = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log.Debug().Str("remote", conn.RemoteAddr().String()).Uint64("from", cursor).Msg("Change feed subscribed")

	// Reader goroutine notices client disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(changeFeedPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}

		events := s.changeLog.ReadFrom(cursor, changeFeedBatchSize)
		for _, event := range events {
			conn.SetWriteDeadline(time.Now().Add(changeFeedWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Msg("Change feed write failed")
				return
			}
			cursor = event.Seq
		}
	}
}
