package service

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/cache"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/presence"
	"github.com/zlnvch/layerlink/relay"
	"github.com/zlnvch/layerlink/store"
	"github.com/zlnvch/layerlink/worker"
)

type Service struct {
	Store          store.LayerlinkStore
	Cache          cache.LayerlinkCache
	Presence       *presence.Registry
	Relay          *relay.Hub
	CommentBatcher *worker.CommentBatcher
	IdentitySecret []byte
}

// NewService wires the registry's membership notifications to the relay.
// cache may be nil when running a single instance.
func NewService(
	store store.LayerlinkStore,
	cache cache.LayerlinkCache,
	registry *presence.Registry,
	hub *relay.Hub,
	commentBatcher *worker.CommentBatcher,
	identitySecret []byte,
) *Service {
	registry.SetNotifier(&presenceNotifier{hub: hub})

	return &Service{
		Store:          store,
		Cache:          cache,
		Presence:       registry,
		Relay:          hub,
		CommentBatcher: commentBatcher,
		IdentitySecret: identitySecret,
	}
}

// presenceNotifier turns membership changes into relay events for the other
// members of the document.
type presenceNotifier struct {
	hub *relay.Hub
}

func (n *presenceNotifier) UserJoined(documentId string, user models.User) {
	ev := models.UserJoined{DocumentId: documentId, User: user}
	if err := n.hub.Publish(context.Background(), documentId, ev, user.Id); err != nil {
		log.Error().Err(err).Str("documentId", documentId).Str("userId", user.Id).Msg("Failed to publish user joined")
	}
}

func (n *presenceNotifier) UserLeft(documentId string, userId string) {
	ev := models.UserLeft{DocumentId: documentId, UserId: userId}
	if err := n.hub.Publish(context.Background(), documentId, ev, userId); err != nil {
		log.Error().Err(err).Str("documentId", documentId).Str("userId", userId).Msg("Failed to publish user left")
	}
}
