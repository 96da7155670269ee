package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"lendpool/core/events"
	"lendpool/core/types"
	"lendpool/observability"
)

const (
	wsWriteTimeout     = 10 * time.Second
	subscriberCapacity = 64
)

type subscriber struct {
	asset string
	ch    chan *types.Event
}

// Hub fans committed lending events out to websocket subscribers. Slow
// subscribers lose events instead of blocking the engine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	rendered := events.Render(evt)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.asset != "" && sub.asset != rendered.Asset() {
			continue
		}
		select {
		case sub.ch <- rendered:
		default:
			h.logger.Warn("lending stream subscriber lagging, event dropped",
				slog.String("type", rendered.Type))
		}
	}
}

// Subscribe registers a listener filtered to asset (empty for all assets).
func (h *Hub) Subscribe(asset string) (<-chan *types.Event, func()) {
	sub := &subscriber{asset: strings.ToUpper(strings.TrimSpace(asset)), ch: make(chan *types.Event, subscriberCapacity)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Unavailable", Message: "event stream disabled"})
		return
	}
	asset := r.URL.Query().Get("asset")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	metrics := observability.Lending()
	metrics.StreamOpened()
	defer metrics.StreamClosed()

	// The stream is write-only; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.hub.Subscribe(asset)
	defer cancel()

	if err := streamEvents(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
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
