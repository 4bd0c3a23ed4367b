package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/rolefusion/internal/service"
)

// DefaultEventsHeartbeat is how often an idle event stream sends a keepalive comment.
const DefaultEventsHeartbeat = 25 * time.Second

// EventHandlers streams auth views as server-sent events.
type EventHandlers struct {
	Facade    *service.AuthFacade
	Heartbeat time.Duration
	Logger    *slog.Logger
}

func (h *EventHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Stream handles GET /auth/events. The current view is sent first, then one
// "auth" event per committed mutation. A slow client only ever misses
// intermediate views; the latest one is always delivered.
func (h *EventHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "streaming_unsupported",
			Err:     errors.New("response writer does not support streaming"),
		})
		return
	}

	updates := make(chan service.View, 1)
	unsubscribe := h.Facade.Subscribe(func(v service.View) {
		offerLatest(updates, v)
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var id uint64
	if err := writeEvent(w, id, h.Facade.Current(r.Context())); err != nil {
		return
	}
	flusher.Flush()

	interval := h.Heartbeat
	if interval <= 0 {
		interval = DefaultEventsHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case v := <-updates:
			id++
			if err := writeEvent(w, id, v); err != nil {
				h.logger().DebugContext(r.Context(), "auth event stream closed", "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// offerLatest replaces any undelivered view with v without blocking the publisher.
func offerLatest(ch chan service.View, v service.View) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func writeEvent(w http.ResponseWriter, id uint64, v service.View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal auth view: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: auth\ndata: %s\n\n", id, data); err != nil {
		return fmt.Errorf("write auth event: %w", err)
	}
	return nil
}
