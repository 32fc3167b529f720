// Package streamhub implements StreamHub (C13): session registry, room
// subscriptions, backpressured broadcast to WebSocket clients, and
// reconnect tokens. Grounded on ODSapper-CLIAIMONITOR's internal/server
// Hub (a channel-driven register/unregister/broadcast loop over a
// client-set map) generalized from one flat broadcast to per-room
// subscriptions, and extended with the session/reconnect bookkeeping
// spec §4.13 and §3's Session entity require.
package streamhub

import (
	"sync"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// subscriptionIdleEvict matches §4.13's 20-minute idle sweep.
const subscriptionIdleEvict = 20 * time.Minute

// sessionGrace is how long a disconnected session's reconnect token
// stays valid (§4.13/§3).
const sessionGrace = 5 * time.Minute

// roomKey renders the task:<id> / agent:<id> room keys from §4.13.
func roomKey(sub core.Subscription) string {
	return string(sub.Type) + ":" + sub.ResourceID
}

// Client abstracts the underlying transport connection so Session isn't
// coupled to gorilla/websocket directly; transport.go implements this
// over a *websocket.Conn.
type Client interface {
	Send(frame []byte) error
	Close() error
}

// Session is one connected subscriber (§3's Session entity).
type Session struct {
	ID             string
	ReconnectToken string
	client         Client

	mu             sync.Mutex
	subscriptions  map[string]*core.Subscription // keyed by roomKey
	lastPing       time.Time
	disconnectedAt time.Time
	connected      bool
}

func newSession(client Client, idgen core.IDGen, clock core.Clock) *Session {
	return &Session{
		ID:             idgen.NewID("sess"),
		ReconnectToken: idgen.NewID("rtok"),
		client:         client,
		subscriptions:  make(map[string]*core.Subscription),
		lastPing:       clock.Now(),
		connected:      true,
	}
}

func (s *Session) subscribe(sub core.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomKey(sub)
	s.subscriptions[key] = &sub
}

func (s *Session) unsubscribe(subType core.SubscriptionType, resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, string(subType)+":"+resourceID)
}

func (s *Session) roomKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.subscriptions))
	for k := range s.subscriptions {
		keys = append(keys, k)
	}
	return keys
}

func (s *Session) touch(clock core.Clock, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscriptions[key]; ok {
		sub.LastActivity = clock.Now()
	}
}

func (s *Session) sweepIdle(clock core.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := clock.Now()
	for key, sub := range s.subscriptions {
		if now.Sub(sub.LastActivity) >= subscriptionIdleEvict {
			delete(s.subscriptions, key)
		}
	}
}
