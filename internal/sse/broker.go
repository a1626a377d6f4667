package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/homeyield/selection-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	EventSelectionsInvalidated = "selections_invalidated"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type InvalidationData struct {
	Owner  string    `json:"owner"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// NewInvalidationEvent tells read-side consumers of owner to refetch.
func NewInvalidationEvent(ownerKey, reason string) Event {
	data, _ := json.Marshal(InvalidationData{
		Owner:  ownerKey,
		Reason: reason,
		At:     time.Now().UTC(),
	})
	return Event{Type: EventSelectionsInvalidated, Data: data}
}

type Client struct {
	OwnerKey string
	Events   chan Event
	Done     chan struct{}
}

// Broker fans out events published on Redis to the SSE clients of this
// instance, grouped by owner key.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // ownerKey -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(ownerKey string) *Client {
	client := &Client{
		OwnerKey: ownerKey,
		Events:   make(chan Event, 16),
		Done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[ownerKey] == nil {
		b.clients[ownerKey] = make(map[*Client]bool)
		go b.subscribeToRedis(ownerKey)
	}
	b.clients[ownerKey][client] = true
	clientCount := len(b.clients[ownerKey])
	b.mu.Unlock()

	log.Debug().
		Str("owner", ownerKey).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.OwnerKey]; ok {
		if _, present := clients[client]; !present {
			return
		}
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.OwnerKey)
		}

		log.Debug().
			Str("owner", client.OwnerKey).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, ownerKey string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.redis.Publish(ctx, redisclient.InvalidationChannel(ownerKey), data).Err()
}

func (b *Broker) subscribeToRedis(ownerKey string) {
	channel := redisclient.InvalidationChannel(ownerKey)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("channel", channel).Msg("failed to unmarshal event")
				continue
			}

			if !b.broadcast(ownerKey, event) {
				return
			}
		}
	}
}

// broadcast delivers event to every local client of ownerKey. It reports
// false once no client is left, so the Redis subscription can end.
func (b *Broker) broadcast(ownerKey string, event Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	clients, ok := b.clients[ownerKey]
	if !ok {
		return false
	}

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			// One pending invalidation is enough for a refetch.
			log.Debug().Str("owner", ownerKey).Msg("client event buffer full, dropping event")
		}
	}
	return true
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(ownerKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[ownerKey])
}
