package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Interval between keepalive pings.
	pingPeriod = 30 * time.Second
)

// Stream message types.
const (
	StreamHistory      = "history"
	StreamNotification = "notification"
)

// StreamMessage is one websocket frame. The first frame of a stream carries
// the session as currently stored; later frames carry live notifications.
type StreamMessage struct {
	Type         string                     `json:"type"`
	Session      *schemas.AutomationSession `json:"session,omitempty"`
	Notification *schemas.Notification      `json:"notification,omitempty"`
	Timestamp    string                     `json:"timestamp"`
}

// HandleSessionEvents streams a session's notifications over a websocket.
// Events emitted between the history frame and a notification may arrive
// twice; clients fold them with the toolUseId merge rule.
func (h *Handlers) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	log := h.log.With(zap.String("session_id", id))

	// Subscribe before reading history so nothing falls between the two.
	notes, unsubscribe := h.engine.Subscribe(id)
	defer unsubscribe()

	session, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Reads are only needed to observe the peer closing.
	ctx := conn.CloseRead(r.Context())

	if err := writeFrame(ctx, conn, StreamMessage{Type: StreamHistory, Session: session}); err != nil {
		log.Debug("Websocket client went away", zap.Error(err))
		return
	}
	if session.Status.Terminal() {
		conn.Close(websocket.StatusNormalClosure, "session finished")
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case n, ok := <-notes:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
			if err := writeFrame(ctx, conn, StreamMessage{Type: StreamNotification, Notification: &n}); err != nil {
				log.Debug("Websocket client went away", zap.Error(err))
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Debug("Websocket ping failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.Canceled) {
				log.Debug("Websocket stream ended", zap.Error(ctx.Err()))
			}
			return
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
