package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/raffle_layer/internal/app/events"
)

const eventWriteTimeout = 10 * time.Second

// streamEvents relays engine notifications to a websocket client. The
// optional events query parameter is a comma separated filter.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	names, err := eventFilter(r.URL.Query().Get("events"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the handshake completes so nothing published after
	// the client connects is missed.
	stream, err := h.app.Events.Subscribe(ctx, names...)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for env := range stream {
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(env); err != nil {
			h.log.WithError(err).Debug("event stream closed")
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
		time.Now().Add(time.Second))
}

func eventFilter(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	known := make(map[string]bool, len(events.AllEvents))
	for _, name := range events.AllEvents {
		known[name] = true
	}
	var names []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown event %q", name)
		}
		names = append(names, name)
	}
	return names, nil
}
