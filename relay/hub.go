// Package relay fans document events out to the sessions joined to the
// document, on this instance and, through the cache, on the others.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/cache"
	"github.com/zlnvch/layerlink/metrics"
	"github.com/zlnvch/layerlink/models"
)

var ErrHubClosed = errors.New("relay hub is closed")

// Subscriber is one receiving session. Deliver must not block: it returns
// false when the message had to be dropped. Implementations must be
// comparable (pointer types).
type Subscriber interface {
	UserID() string
	Deliver(message []byte) bool
	Close()
}

const (
	roomPublishBuffer = 256
	outboxShards      = 8
	outboxBuffer      = 1024
	remotePublishWait = 2 * time.Second
)

// envelope is the cross-instance wire format on the document channel.
type envelope struct {
	Origin  string          `json:"origin"`
	Exclude string          `json:"exclude"`
	Event   json.RawMessage `json:"event"`
}

type outbound struct {
	channel string
	message []byte
}

// Hub owns one room goroutine per document with local subscribers. Rooms
// are created on first subscribe and evicted when the last subscriber
// leaves.
type Hub struct {
	mu         sync.Mutex
	rooms      map[string]*room
	cache      cache.LayerlinkCache
	metrics    *metrics.Metrics
	instanceId string
	ctx        context.Context
	outboxes   []chan outbound
}

type Option func(*Hub)

// WithCache enables cross-instance fan-out over the cache pub/sub.
func WithCache(c cache.LayerlinkCache) Option {
	return func(h *Hub) { h.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub whose rooms live until ctx is done.
func NewHub(ctx context.Context, opts ...Option) *Hub {
	h := &Hub{
		rooms:      make(map[string]*room),
		instanceId: xid.New().String(),
		ctx:        ctx,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.cache != nil {
		// Each document maps to one shard, so remote publishes of one
		// document leave this instance in publish order.
		h.outboxes = make([]chan outbound, outboxShards)
		for i := range h.outboxes {
			h.outboxes[i] = make(chan outbound, outboxBuffer)
			go h.runOutbox(h.outboxes[i])
		}
	}
	return h
}

func (h *Hub) InstanceId() string {
	return h.instanceId
}

// Rooms returns the number of documents with local subscribers.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) room(documentId string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[documentId]
	if !ok {
		r = newRoom(h, documentId)
		h.rooms[documentId] = r
		h.metrics.AddRelayRoom(1)
		go r.run()
	}
	return r
}

// Subscribe adds sub to the document. A subscriber with the same user id is
// replaced and returned so the caller can close it.
func (h *Hub) Subscribe(documentId string, sub Subscriber) (Subscriber, error) {
	for {
		if h.ctx.Err() != nil {
			return nil, ErrHubClosed
		}

		r := h.room(documentId)
		req := subscribeRequest{sub: sub, reply: make(chan Subscriber, 1)}
		select {
		case r.subscribeCh <- req:
			return <-req.reply, nil
		case <-r.done:
			// Evicted between lookup and send; look it up again.
		}
	}
}

// Unsubscribe removes sub from the document. It reports false when sub is
// not the current subscriber for its user, e.g. after being replaced.
func (h *Hub) Unsubscribe(documentId string, sub Subscriber) bool {
	return h.unsubscribe(documentId, unsubscribeRequest{sub: sub}) != nil
}

// Drop removes whichever subscriber userId has in the document and returns
// it, or nil when there is none.
func (h *Hub) Drop(documentId string, userId string) Subscriber {
	return h.unsubscribe(documentId, unsubscribeRequest{userId: userId})
}

func (h *Hub) unsubscribe(documentId string, req unsubscribeRequest) Subscriber {
	h.mu.Lock()
	r, ok := h.rooms[documentId]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	req.reply = make(chan Subscriber, 1)
	select {
	case r.unsubscribeCh <- req:
		return <-req.reply
	case <-r.done:
		return nil
	}
}

// Publish delivers ev to every subscriber of the document except the ones
// with user id excludeUserId. Delivery is best-effort; events published by
// one goroutine reach each recipient in publish order.
func (h *Hub) Publish(ctx context.Context, documentId string, ev models.Event, excludeUserId string) error {
	message, err := models.Encode(ev)
	if err != nil {
		return err
	}
	h.metrics.AddRelayPublished(string(ev.EventType()))

	h.mu.Lock()
	r, ok := h.rooms[documentId]
	h.mu.Unlock()

	if ok {
		select {
		case r.publishCh <- delivery{message: message, exclude: excludeUserId}:
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if h.cache != nil {
		h.forward(documentId, message, excludeUserId)
	}
	return nil
}

// SendTo delivers ev to the local subscriber of userId only. It is ordered
// with the document's publishes and never leaves this instance.
func (h *Hub) SendTo(ctx context.Context, documentId string, userId string, ev models.Event) error {
	message, err := models.Encode(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	r, ok := h.rooms[documentId]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case r.publishCh <- delivery{message: message, target: userId}:
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (h *Hub) forward(documentId string, message []byte, excludeUserId string) {
	payload, err := json.Marshal(envelope{Origin: h.instanceId, Exclude: excludeUserId, Event: message})
	if err != nil {
		log.Error().Err(err).Str("documentId", documentId).Msg("Failed to encode relay envelope")
		return
	}

	hasher := fnv.New32a()
	hasher.Write([]byte(documentId))
	shard := h.outboxes[hasher.Sum32()%outboxShards]

	select {
	case shard <- outbound{channel: cache.DocumentChannel(documentId), message: payload}:
	default:
		h.metrics.AddRelayDropped()
		log.Warn().Str("documentId", documentId).Msg("Relay outbox full, dropping remote publish")
	}
}

func (h *Hub) runOutbox(ch chan outbound) {
	for {
		select {
		case msg := <-ch:
			ctx, cancel := context.WithTimeout(context.Background(), remotePublishWait)
			if err := h.cache.Publish(ctx, msg.channel, msg.message); err != nil {
				log.Error().Err(err).Str("channel", msg.channel).Msg("Remote publish failed")
			}
			cancel()

		case <-h.ctx.Done():
			return
		}
	}
}
