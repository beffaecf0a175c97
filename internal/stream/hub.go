// Package stream pushes bridge status events to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/metrics"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 32
)

// SnapshotFunc returns the stored record of a request. It decides who may
// subscribe and greets new subscribers with the current state.
type SnapshotFunc func(ctx context.Context, requestID string) (*model.BridgeRecord, error)

// Hub keeps websocket subscribers per request id.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	snapshot SnapshotFunc

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	requestID string
	conn      *websocket.Conn
	send      chan []byte
	delivered bool // guarded by Hub.mu
}

// NewHub creates a hub. A nil snapshot skips ownership checks and greetings.
func NewHub(logger *zap.Logger, snapshot SnapshotFunc) *Hub {
	return &Hub{
		logger:   logger,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades GET /ws/status?requestId=...&clientId=... and streams that
// request's events. Requests of other clients look the same as unknown ones.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requestID := q.Get("requestId")
	clientID := q.Get("clientId")
	if requestID == "" {
		http.Error(w, `{"error":"requestId is required"}`, http.StatusBadRequest)
		return
	}
	if clientID == "" {
		http.Error(w, `{"error":"clientId is required"}`, http.StatusBadRequest)
		return
	}

	if h.snapshot != nil {
		rec, err := h.snapshot(r.Context(), requestID)
		if err != nil || rec == nil || (rec.ClientID != "" && rec.ClientID != clientID) {
			if err != nil {
				h.logger.Debug("stream.snapshot_failed", zap.String("request_id", requestID), zap.Error(err))
			}
			http.Error(w, `{"error":"bridge record not found"}`, http.StatusNotFound)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream.upgrade_failed", zap.Error(err))
		return
	}

	sub := &subscriber{requestID: requestID, conn: conn, send: make(chan []byte, sendBuffer)}

	// Register before reading the greeting so no broadcast falls in between.
	h.register(sub)
	go sub.writePump()
	go h.readPump(sub)
	h.greet(r.Context(), sub)
}

// greet queues the stored state of the request unless a broadcast already
// reached the subscriber. A final state ends the subscription.
func (h *Hub) greet(ctx context.Context, sub *subscriber) {
	if h.snapshot == nil {
		return
	}
	rec, err := h.snapshot(ctx, sub.requestID)
	if err != nil || rec == nil || rec.Status == "" {
		return
	}
	msg, err := json.Marshal(model.StatusEvent{
		RequestID:  rec.RequestID,
		ClientID:   rec.ClientID,
		Flow:       rec.Flow,
		Status:     rec.Status,
		InTxHashes: rec.InTxHashes,
		TxHashes:   rec.TxHashes,
		Final:      rec.Final,
		Timestamp:  rec.UpdatedAt,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.requestID][sub]; !ok || sub.delivered {
		return
	}
	select {
	case sub.send <- msg:
		sub.delivered = true
		if rec.Final {
			h.removeLocked(sub)
		}
	default:
	}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	set, ok := h.subs[sub.requestID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sub.requestID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	metrics.StreamSubscribers.Inc()
	h.logger.Debug("stream.subscribed", zap.String("request_id", sub.requestID))
}

// unregister removes sub and closes its send channel. Safe to call twice.
func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *subscriber) {
	set, ok := h.subs[sub.requestID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.requestID)
	}
	close(sub.send)
	metrics.StreamSubscribers.Dec()
}

// Broadcast sends evt to the subscribers of its request. Subscribers are
// dropped after the final event or when their buffer is full.
func (h *Hub) Broadcast(_ context.Context, evt model.StatusEvent) {
	msg, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("stream.marshal_failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[evt.RequestID] {
		select {
		case sub.send <- msg:
			sub.delivered = true
			if evt.Final {
				h.removeLocked(sub)
			}
		default:
			h.logger.Warn("stream.subscriber_slow", zap.String("request_id", evt.RequestID))
			h.removeLocked(sub)
		}
	}
}

// SubscriberCount returns the number of subscribers of requestID.
func (h *Hub) SubscriberCount(requestID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[requestID])
}

// readPump discards client frames and unregisters on disconnect.
func (h *Hub) readPump(sub *subscriber) {
	defer h.unregister(sub)

	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream.read_failed", zap.Error(err))
			}
			return
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "final"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
