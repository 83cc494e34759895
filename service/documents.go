package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/presence"
	"github.com/zlnvch/layerlink/relay"
)

// JoinDocument subscribes sub to documentId and registers user as present.
// current is the document the connection is joined to, if any; it is left
// first. The joining user receives current-users, then current-comments,
// ordered with the document's other events.
func (s *Service) JoinDocument(ctx context.Context, sub relay.Subscriber, current string, documentId string, user models.User) error {
	if current != "" && current != documentId {
		if err := s.LeaveDocument(ctx, sub, current); err != nil {
			return err
		}
	}

	// Subscribing before the presence snapshot means no membership change
	// can fall between the snapshot and the subscription.
	replaced, err := s.Relay.Subscribe(documentId, sub)
	if err != nil {
		return err
	}
	if replaced != nil && replaced != sub {
		log.Info().Str("documentId", documentId).Str("userId", user.Id).Msg("Connection superseded")
		replaced.Close()
	}

	prior, err := s.Presence.JoinWith(documentId, user, func(others []models.User) {
		ev := models.CurrentUsers{DocumentId: documentId, Users: others}
		if err := s.Relay.SendTo(ctx, documentId, user.Id, ev); err != nil {
			log.Warn().Err(err).Str("documentId", documentId).Str("userId", user.Id).Msg("Failed to send current users")
		}
	})
	if err != nil {
		s.Relay.Unsubscribe(documentId, sub)
		return err
	}

	// Another connection of the same user was joined elsewhere; the registry
	// already moved the user, so that connection is closed.
	if prior != "" {
		if old := s.Relay.Drop(prior, user.Id); old != nil && old != sub {
			old.Close()
		}
	}

	comments, err := s.LoadComments(ctx, documentId)
	if err != nil {
		log.Error().Err(err).Str("documentId", documentId).Msg("Failed to load comments")
		comments = []models.Comment{}
	}
	ev := models.CurrentComments{DocumentId: documentId, Comments: comments}
	if err := s.Relay.SendTo(ctx, documentId, user.Id, ev); err != nil {
		log.Warn().Err(err).Str("documentId", documentId).Str("userId", user.Id).Msg("Failed to send current comments")
	}

	log.Info().Str("documentId", documentId).Str("userId", user.Id).Msg("User joined document")
	return nil
}

// LeaveDocument removes the connection from documentId. A connection that was
// superseded by a newer one of the same user leaves silently.
func (s *Service) LeaveDocument(ctx context.Context, sub relay.Subscriber, documentId string) error {
	if !s.Relay.Unsubscribe(documentId, sub) {
		return nil
	}

	err := s.Presence.Leave(documentId, sub.UserID())
	if err != nil && !isNotMember(err) {
		return err
	}
	log.Info().Str("documentId", documentId).Str("userId", sub.UserID()).Msg("User left document")
	return nil
}

func (s *Service) MoveCursor(ctx context.Context, userId string, documentId string, position models.Point) error {
	if err := s.Presence.UpdateCursor(documentId, userId, position); err != nil {
		return err
	}

	ev := models.CursorMoved{DocumentId: documentId, UserId: userId, Position: position}
	return s.Relay.Publish(ctx, documentId, ev, userId)
}

// UpdateLayer relays a full layer payload. The server keeps no layer state:
// whichever update a recipient applies last wins.
func (s *Service) UpdateLayer(ctx context.Context, userId string, documentId string, layer models.Layer) error {
	if err := s.requireMember(documentId, userId); err != nil {
		return err
	}
	if layer.Payload != nil && len(*layer.Payload) > models.MaxPayloadSize {
		return fmt.Errorf("%w: %w", models.ErrInvalidEvent, models.ErrPayloadTooLarge)
	}

	ev := models.LayerUpdated{DocumentId: documentId, UserId: userId, Layer: layer}
	return s.Relay.Publish(ctx, documentId, ev, userId)
}

func (s *Service) DocumentUsers(documentId string) []models.User {
	return s.Presence.Members(documentId)
}

func (s *Service) requireMember(documentId string, userId string) error {
	if joined, ok := s.Presence.DocumentOf(userId); !ok || joined != documentId {
		return fmt.Errorf("%s in %s: %w", userId, documentId, presence.ErrNotMember)
	}
	return nil
}
