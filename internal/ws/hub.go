package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"carefeed/internal/constants"
	"carefeed/internal/metrics"
	"carefeed/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Topic returns the per-recipient live push destination.
func Topic(recipientID string) string {
	return constants.LiveTopicPrefix + recipientID
}

// Hub is the live delivery channel: it tracks each recipient's active
// WebSocket connections and pushes envelopes to them. Delivery is
// fire-and-forget at the transport level; a successful push means the
// payload was handed to the transport, not that a client received it.
type Hub struct {
	pushTimeout  time.Duration
	onConnect    func(recipientID string)
	onDisconnect func(recipientID string)
	logger       *logrus.Logger

	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

// NewHub creates a hub. onConnect fires when a recipient gains their first
// active connection (the reconnect trigger); onDisconnect fires when their
// last connection goes away.
func NewHub(pushTimeout time.Duration, onConnect, onDisconnect func(recipientID string), logger *logrus.Logger) *Hub {
	if pushTimeout <= 0 {
		pushTimeout = time.Duration(constants.DefaultLivePushTimeoutSec) * time.Second
	}
	return &Hub{
		pushTimeout:  pushTimeout,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		logger:       logger,
		conns:        make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Attach upgrades the request to a WebSocket connection for the recipient
// and blocks until the connection closes.
func (h *Hub) Attach(w http.ResponseWriter, r *http.Request, recipientID string) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to accept websocket: %w", err)
	}

	h.register(recipientID, conn)
	defer h.unregister(recipientID, conn)

	h.logger.WithField("topic", Topic(recipientID)).Debug("Recipient attached to live channel")

	// The hub never expects inbound frames; the read loop only detects
	// close and keeps control frames flowing.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	conn.CloseNow()
	return nil
}

// Push delivers an envelope to every active connection of the recipient,
// bounded by the hub's send timeout. It fails when the recipient has no
// active connection or every write failed, so the caller can fall back to
// the durable mailbox.
func (h *Hub) Push(ctx context.Context, recipientID string, env *models.DeliveryEnvelope) error {
	payload, err := json.Marshal(models.NewLivePayload(env))
	if err != nil {
		return fmt.Errorf("failed to marshal live payload: %w", err)
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns[recipientID]))
	for conn := range h.conns[recipientID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("no active connection for %s", Topic(recipientID))
	}

	ctx, cancel := context.WithTimeout(ctx, h.pushTimeout)
	defer cancel()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			// A dead connection is dropped here; its read loop unregisters it.
			h.logger.WithError(err).WithField("topic", Topic(recipientID)).
				Debug("Dropping dead live connection")
			conn.CloseNow()
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("all live pushes failed for %s", Topic(recipientID))
	}

	metrics.IncrementCounter("live_pushes_total", nil, "Envelopes handed to the live transport")
	return nil
}

func (h *Hub) register(recipientID string, conn *websocket.Conn) {
	h.mu.Lock()
	first := len(h.conns[recipientID]) == 0
	if h.conns[recipientID] == nil {
		h.conns[recipientID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[recipientID][conn] = struct{}{}
	h.mu.Unlock()

	if first && h.onConnect != nil {
		h.onConnect(recipientID)
	}
}

func (h *Hub) unregister(recipientID string, conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns[recipientID], conn)
	last := len(h.conns[recipientID]) == 0
	if last {
		delete(h.conns, recipientID)
	}
	h.mu.Unlock()

	if last && h.onDisconnect != nil {
		h.onDisconnect(recipientID)
	}
}

// ActiveConnections reports the number of open connections for a recipient.
func (h *Hub) ActiveConnections(recipientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[recipientID])
}
