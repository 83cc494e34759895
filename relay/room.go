package relay

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/cache"
)

// delivery goes to every subscriber except exclude, or only to target when
// target is set.
type delivery struct {
	message []byte
	exclude string
	target  string
}

type subscribeRequest struct {
	sub   Subscriber
	reply chan Subscriber
}

// unsubscribeRequest removes sub, or whichever subscriber userId has when
// sub is nil.
type unsubscribeRequest struct {
	sub    Subscriber
	userId string
	reply  chan Subscriber
}

// room is the single owner of one document's subscriber set. All access
// to subscribers happens on the run goroutine.
type room struct {
	hub           *Hub
	documentId    string
	subscribers   map[string]Subscriber
	publishCh     chan delivery
	subscribeCh   chan subscribeRequest
	unsubscribeCh chan unsubscribeRequest
	done          chan struct{}
}

func newRoom(h *Hub, documentId string) *room {
	return &room{
		hub:           h,
		documentId:    documentId,
		subscribers:   make(map[string]Subscriber),
		publishCh:     make(chan delivery, roomPublishBuffer),
		subscribeCh:   make(chan subscribeRequest),
		unsubscribeCh: make(chan unsubscribeRequest),
		done:          make(chan struct{}),
	}
}

func (r *room) run() {
	ctx, cancel := context.WithCancel(r.hub.ctx)
	defer cancel()

	if r.hub.cache != nil {
		r.subscribeRemote(ctx)
	}

	for {
		select {
		case req := <-r.subscribeCh:
			id := req.sub.UserID()
			prev := r.subscribers[id]
			r.subscribers[id] = req.sub
			req.reply <- prev

		case req := <-r.unsubscribeCh:
			id := req.userId
			if req.sub != nil {
				id = req.sub.UserID()
			}
			current, ok := r.subscribers[id]
			if ok && (req.sub == nil || current == req.sub) {
				delete(r.subscribers, id)
				req.reply <- current
			} else {
				req.reply <- nil
			}

			if len(r.subscribers) == 0 {
				r.evict()
				return
			}

		case d := <-r.publishCh:
			r.deliver(d)

		case <-ctx.Done():
			r.evict()
			return
		}
	}
}

func (r *room) deliver(d delivery) {
	if d.target != "" {
		if sub, ok := r.subscribers[d.target]; ok && !sub.Deliver(d.message) {
			r.hub.metrics.AddRelayDropped()
			log.Debug().Str("documentId", r.documentId).Str("userId", d.target).Msg("Recipient buffer full, event dropped")
		}
		return
	}

	for id, sub := range r.subscribers {
		if id == d.exclude {
			continue
		}
		if !sub.Deliver(d.message) {
			r.hub.metrics.AddRelayDropped()
			log.Debug().Str("documentId", r.documentId).Str("userId", id).Msg("Recipient buffer full, event dropped")
		}
	}
}

// evict removes the room from the hub before closing done, so a caller that
// observes done and retries always finds a fresh room.
func (r *room) evict() {
	r.hub.mu.Lock()
	if r.hub.rooms[r.documentId] == r {
		delete(r.hub.rooms, r.documentId)
	}
	r.hub.mu.Unlock()

	close(r.done)
	r.hub.metrics.AddRelayRoom(-1)
}

func (r *room) subscribeRemote(ctx context.Context) {
	channel := cache.DocumentChannel(r.documentId)
	err := r.hub.cache.Subscribe(ctx, channel, func(message []byte) {
		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("Invalid relay envelope")
			return
		}
		if env.Origin == r.hub.instanceId {
			return
		}

		select {
		case r.publishCh <- delivery{message: env.Event, exclude: env.Exclude}:
		case <-r.done:
		}
	})
	if err != nil {
		// Local fan-out keeps working without the remote channel.
		log.Error().Err(err).Str("documentId", r.documentId).Msg("Failed to subscribe to remote relay channel")
	}
}
