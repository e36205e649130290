package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"fluxpay/core/types"
	"fluxpay/crypto"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 64

	// EventStreamReady is the first frame sent on every event stream once the
	// subscription is active.
	EventStreamReady = "stream.ready"
)

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	filter := strings.TrimSpace(r.URL.Query().Get("address"))
	if filter != "" {
		addr, err := crypto.ParseAddress(filter)
		if err != nil {
			http.Error(w, "invalid address filter", http.StatusBadRequest)
			return
		}
		filter = addr.String()
	}
	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(s.cfg.AllowedOrigins)})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The client never sends data frames; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("event stream ended", "requestId", RequestIDFromContext(r.Context()), "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter string) error {
	updates, cancel := s.ledger.Subscribe(wsBuffer)
	defer cancel()

	ready := &types.Event{Type: EventStreamReady, Attributes: map[string]string{}}
	if filter != "" {
		ready.Attributes["address"] = filter
	}
	if err := writeEvent(ctx, conn, ready); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if !matchesAddress(evt, filter) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

// matchesAddress reports whether any attribute of evt names addr.
func matchesAddress(evt *types.Event, addr string) bool {
	if addr == "" {
		return true
	}
	if evt == nil {
		return false
	}
	for _, value := range evt.Attributes {
		if value == addr {
			return true
		}
	}
	return false
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
