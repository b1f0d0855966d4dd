package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/model"
	redisclient "github.com/tradesignal/billing-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 16

	EventTypeEntitlement = "entitlement"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	AccountID string
	Events    chan Event
	Done      chan struct{}
}

type accountStream struct {
	clients map[*Client]struct{}
	cancel  context.CancelFunc
}

// Broker fans entitlement changes out to open event streams. Publishing goes
// through Redis so every instance behind the load balancer sees every change.
type Broker struct {
	redis   *redisclient.Client
	streams map[string]*accountStream
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		streams: make(map[string]*accountStream),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(accountID string) *Client {
	client := &Client{
		AccountID: accountID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	stream, ok := b.streams[accountID]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		stream = &accountStream{clients: make(map[*Client]struct{}), cancel: cancel}
		b.streams[accountID] = stream
		if b.redis != nil {
			go b.subscribeToRedis(ctx, accountID)
		}
	}
	stream.clients[client] = struct{}{}
	clientCount := len(stream.clients)
	b.mu.Unlock()

	log.Info().
		Str("account_id", accountID).
		Int("client_count", clientCount).
		Msg("sse client subscribed")

	return client
}

// Unsubscribe drops the client and, with it, the account's Redis subscription
// once no local client is left.
func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.streams[client.AccountID]
	if !ok {
		return
	}
	if _, ok := stream.clients[client]; !ok {
		return
	}
	delete(stream.clients, client)
	close(client.Done)

	if len(stream.clients) == 0 {
		stream.cancel()
		delete(b.streams, client.AccountID)
	}

	log.Info().
		Str("account_id", client.AccountID).
		Int("client_count", len(stream.clients)).
		Msg("sse client unsubscribed")
}

// PublishEntitlement satisfies service.EntitlementPublisher.
func (b *Broker) PublishEntitlement(ctx context.Context, update model.EntitlementUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return b.Publish(ctx, update.AccountID, Event{Type: EventTypeEntitlement, Data: data})
}

func (b *Broker) Publish(ctx context.Context, accountID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EntitlementChannel(accountID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, accountID string) {
	channel := redisclient.EntitlementChannel(accountID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("account_id", accountID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(accountID, event)
		}
	}
}

// broadcast never blocks; a client that stops reading loses events, and the
// next GET /usage gives it the current state anyway.
func (b *Broker) broadcast(accountID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stream, ok := b.streams[accountID]
	if !ok {
		return
	}
	for client := range stream.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("account_id", accountID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, stream := range b.streams {
		for client := range stream.clients {
			close(client.Done)
		}
	}
	b.streams = make(map[string]*accountStream)
}

func (b *Broker) ClientCount(accountID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if stream, ok := b.streams[accountID]; ok {
		return len(stream.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, stream := range b.streams {
		total += len(stream.clients)
	}
	return total
}
