package streamhub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// pingInterval matches §4.13's 25s keepalive.
const pingInterval = 25 * time.Second

// flushInterval is the base of Run's sweep cadence: the sweep ticker
// fires every flushInterval*10 (1s). The hub keeps no frame buffer.
const flushInterval = 100 * time.Millisecond

// backpressureThreshold is the room membership count above which
// broadcastRoom replaces the outgoing frame with a `backpressure` frame
// naming the dropped event type, sent to every member (§4.13). Frames
// are not buffered.
const backpressureThreshold = 256

// compressThreshold is the frame size (1KB, §4.13) at or above which the
// WebSocket transport's Send enables per-message compression
// (gorilla/websocket's deflate). The hub itself neither tags nor
// compresses frames.
const compressThreshold = 1024

// Frame is one event pushed to a room.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub is the session registry + room broadcaster, grounded on
// ODSapper-CLIAIMONITOR's Hub (register/unregister/broadcast over a
// client map) generalized to per-room subscriptions, with §4.13's
// backpressure policy applied per broadcast by room size (no frames are
// buffered).
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]struct{} // roomKey -> set of sessionID
	tokens   map[string]string              // reconnectToken -> sessionID, one-shot

	idgen  core.IDGen
	clock  core.Clock
	logger core.ComponentLogger
}

func NewHub(idgen core.IDGen, clock core.Clock, logger core.ComponentLogger) *Hub {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]struct{}),
		tokens:   make(map[string]string),
		idgen:    idgen,
		clock:    clock,
		logger:   logger.WithComponent("streamhub"),
	}
}

// Welcome is the frame sent immediately after CreateSession.
type Welcome struct {
	SessionID      string   `json:"sessionId"`
	ReconnectToken string   `json:"reconnectToken"`
	Capabilities   []string `json:"capabilities"`
}

// CreateSession registers client and sends a welcome frame.
func (h *Hub) CreateSession(client Client) (*Session, error) {
	s := newSession(client, h.idgen, h.clock)

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.tokens[s.ReconnectToken] = s.ID
	h.mu.Unlock()

	return s, h.send(client, Frame{Type: "welcome", Data: Welcome{
		SessionID: s.ID, ReconnectToken: s.ReconnectToken,
		Capabilities: []string{"task:progress", "agent:streaming", "retry:*"},
	}})
}

// Subscribe joins sessionID to the room described by sub.
func (h *Hub) Subscribe(sessionID string, sub core.Subscription) error {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return core.NewTaskError("streamhub.Subscribe", core.CodeNotFound, core.ErrNotFound)
	}
	sub.CreatedAt = h.clock.Now()
	sub.LastActivity = sub.CreatedAt
	key := roomKey(sub)
	if h.rooms[key] == nil {
		h.rooms[key] = make(map[string]struct{})
	}
	h.rooms[key][sessionID] = struct{}{}
	h.mu.Unlock()

	s.subscribe(sub)
	return h.send(s.client, Frame{Type: "subscribed", Data: sub})
}

// Unsubscribe leaves the room, per §4.13.
func (h *Hub) Unsubscribe(sessionID string, subType core.SubscriptionType, resourceID string) error {
	key := string(subType) + ":" + resourceID

	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.rooms[key], sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return core.NewTaskError("streamhub.Unsubscribe", core.CodeNotFound, core.ErrNotFound)
	}

	s.unsubscribe(subType, resourceID)
	return h.send(s.client, Frame{Type: "unsubscribed", Data: map[string]string{"type": string(subType), "resourceId": resourceID}})
}

// StreamToTask broadcasts eventType/data to everyone subscribed to
// task:<taskID>.
func (h *Hub) StreamToTask(taskID, eventType string, data interface{}) {
	h.broadcastRoom("task:"+taskID, Frame{Type: eventType, Data: data})
}

// StreamToAgent broadcasts to everyone subscribed to agent:<agentID>.
func (h *Hub) StreamToAgent(agentID, eventType string, data interface{}) {
	h.broadcastRoom("agent:"+agentID, Frame{Type: eventType, Data: data})
}

// Broadcast sends to every connected session regardless of subscription,
// used for global events.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	frame := Frame{Type: eventType, Data: data}
	for _, s := range sessions {
		_ = h.send(s.client, frame)
	}
}

func (h *Hub) broadcastRoom(key string, frame Frame) {
	h.mu.RLock()
	members := h.rooms[key]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := h.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	h.mu.RUnlock()

	if len(sessions) > backpressureThreshold {
		h.logger.Warn("room broadcast exceeds backpressure threshold", map[string]interface{}{"room": key, "members": len(sessions)})
		frame = Frame{Type: "backpressure", Data: map[string]interface{}{"room": key, "droppedEventType": frame.Type}}
	}

	for _, s := range sessions {
		s.touch(h.clock, key)
		_ = h.send(s.client, frame)
	}
}

// Reconnect restores a session's subscriptions onto a new client
// connection, consuming the one-shot reconnectToken (§4.13).
func (h *Hub) Reconnect(reconnectToken, oldSessionID string, client Client) (*Session, error) {
	h.mu.Lock()
	boundID, ok := h.tokens[reconnectToken]
	if !ok || boundID != oldSessionID {
		h.mu.Unlock()
		return nil, core.NewTaskError("streamhub.Reconnect", core.CodeValidation, core.ErrValidation)
	}
	delete(h.tokens, reconnectToken) // one-shot
	old, ok := h.sessions[oldSessionID]
	h.mu.Unlock()
	if !ok {
		return nil, core.NewTaskError("streamhub.Reconnect", core.CodeNotFound, core.ErrNotFound)
	}

	newSess := newSession(client, h.idgen, h.clock)

	h.mu.Lock()
	h.sessions[newSess.ID] = newSess
	h.tokens[newSess.ReconnectToken] = newSess.ID
	delete(h.sessions, oldSessionID)
	h.mu.Unlock()

	for _, key := range old.roomKeys() {
		old.mu.Lock()
		sub := old.subscriptions[key]
		old.mu.Unlock()
		if sub != nil {
			_ = h.Subscribe(newSess.ID, *sub)
		}
	}

	return newSess, nil
}

// Disconnect marks sessionID disconnected; it is fully removed after
// sessionGrace by the periodic sweep.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		s.mu.Lock()
		s.connected = false
		s.disconnectedAt = h.clock.Now()
		s.mu.Unlock()
	}
}

// Sweep runs the periodic maintenance described in §4.13: idle
// subscription eviction (20min) and disconnected-session removal after
// sessionGrace (5min). Intended to run on a ticker alongside the ping
// loop.
func (h *Hub) Sweep() {
	now := h.clock.Now()

	h.mu.Lock()
	var toRemove []string
	for id, s := range h.sessions {
		s.mu.Lock()
		disconnected := !s.connected
		grace := now.Sub(s.disconnectedAt)
		s.mu.Unlock()
		if disconnected && grace >= sessionGrace {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		delete(h.sessions, id)
		for key, members := range h.rooms {
			delete(members, id)
			if len(members) == 0 {
				delete(h.rooms, key)
			}
		}
	}
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.sweepIdle(h.clock)
	}
}

// Ping sends a pong-eliciting keepalive to every connected session; run
// this on a pingInterval ticker.
func (h *Hub) Ping(ctx context.Context) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		_ = h.send(s.client, Frame{Type: "pong"})
	}
}

// Run drives the hub's background maintenance: a pingInterval keepalive
// and a sweep every flushInterval*10 for idle subscriptions and expired
// disconnected sessions. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pingTicker := time.NewTicker(pingInterval)
	sweepTicker := time.NewTicker(flushInterval * 10)
	defer pingTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			h.Ping(ctx)
		case <-sweepTicker.C:
			h.Sweep()
		}
	}
}

func (h *Hub) send(client Client, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return client.Send(data)
}
