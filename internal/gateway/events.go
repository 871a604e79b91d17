package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
)

// handleJobEvents streams job state changes over a websocket as JSON text
// messages. owner_id, when given, limits the stream to that owner's jobs.
// A client that reads too slowly misses events rather than stalling the
// scheduler.
func (g *Gateway) handleJobEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner_id")

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("gateway: websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		events, unsubscribe := g.deps.Jobs.Subscribe(eventBuffer)
		defer unsubscribe()

		// Incoming messages are ignored; ctx ends when the client goes away.
		ctx := conn.CloseRead(r.Context())
		g.logger.Debug("gateway: job stream opened", "owner_id", owner, "remote_addr", r.RemoteAddr)

		for {
			select {
			case <-ctx.Done():
				g.logger.Debug("gateway: job stream closed", "owner_id", owner)
				return
			case e, ok := <-events:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if owner != "" && e.Job.OwnerID != owner {
					continue
				}
				data, err := json.Marshal(e)
				if err != nil {
					g.logger.Error("gateway: encode job event", "error", err)
					continue
				}
				if err := writeEvent(ctx, conn, data); err != nil {
					g.logger.Debug("gateway: job stream write failed", "error", err)
					return
				}
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
