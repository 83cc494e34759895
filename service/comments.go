package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/cache"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/worker"
)

// maxDocumentComments caps what a join snapshot carries.
const maxDocumentComments = 2000

// AddComment archives and relays a new comment. The author is always the
// sending user; a missing timestamp is set to now. Comment ids are write-once,
// so an id the document already has is refused.
func (s *Service) AddComment(ctx context.Context, userId string, documentId string, comment models.Comment) (models.Comment, error) {
	if err := s.requireMember(documentId, userId); err != nil {
		return models.Comment{}, err
	}
	if err := models.ValidateComment(comment); err != nil {
		return models.Comment{}, err
	}
	if _, err := uuid.FromString(comment.Id); err != nil {
		return models.Comment{}, fmt.Errorf("%w: comment id: %w", models.ErrInvalidEvent, err)
	}
	if comment.Resolved {
		return models.Comment{}, fmt.Errorf("%w: a new comment cannot be resolved", models.ErrInvalidEvent)
	}

	comment.Author = userId
	if comment.Timestamp.IsZero() {
		comment.Timestamp = time.Now().UTC()
	}

	// The store only inserts absent ids, so a failed lookup here is not fatal.
	existing, err := s.LoadComments(ctx, documentId)
	if err != nil {
		log.Warn().Err(err).Str("documentId", documentId).Msg("Failed to load comments for id check")
	}
	if slices.ContainsFunc(existing, func(c models.Comment) bool { return c.Id == comment.Id }) {
		return models.Comment{}, fmt.Errorf("comment %s: %w", comment.Id, ErrDuplicateComment)
	}

	if s.Cache != nil {
		if commentBytes, err := json.Marshal(comment); err == nil {
			added, err := s.Cache.AddComment(ctx, documentId, comment.Id, comment.Timestamp.UnixMilli(), commentBytes)
			if err != nil {
				log.Error().Err(err).Str("documentId", documentId).Str("commentId", comment.Id).Msg("Failed to cache comment")
			} else if !added {
				return models.Comment{}, fmt.Errorf("comment %s: %w", comment.Id, ErrDuplicateComment)
			}
		}
	}

	select {
	case s.CommentBatcher.WriteCh <- models.CommentRecord{DocumentId: documentId, Comment: comment}:
	case <-ctx.Done():
		return models.Comment{}, ctx.Err()
	}

	ev := models.NewComment{DocumentId: documentId, Comment: comment}
	return comment, s.Relay.Publish(ctx, documentId, ev, userId)
}

// ResolveComment marks a comment resolved everywhere. Resolving twice is
// harmless.
func (s *Service) ResolveComment(ctx context.Context, userId string, documentId string, commentId string) error {
	if err := s.requireMember(documentId, userId); err != nil {
		return err
	}

	select {
	case s.CommentBatcher.ResolveCh <- worker.ResolveCommentRequest{DocumentId: documentId, CommentId: commentId}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.Cache != nil {
		if err := s.Cache.ResolveComment(ctx, documentId, commentId); err != nil {
			log.Error().Err(err).Str("documentId", documentId).Str("commentId", commentId).Msg("Failed to resolve cached comment")
		}
	}

	ev := models.CommentResolved{DocumentId: documentId, CommentId: commentId, UserId: userId}
	return s.Relay.Publish(ctx, documentId, ev, userId)
}

// LoadComments returns the comments of a document ordered by id. Recent
// comments may only exist in the cache until the batcher flushes them, so
// an incomplete cache is merged with the store and then refilled.
func (s *Service) LoadComments(ctx context.Context, documentId string) ([]models.Comment, error) {
	if s.Cache == nil {
		comments, err := s.Store.GetComments(ctx, documentId)
		if err != nil {
			return nil, err
		}
		sortComments(comments)
		return limitComments(comments), nil
	}

	cachedRaw, err := s.Cache.GetComments(ctx, documentId)
	cached := []models.Comment{}
	if err == nil {
		for _, b := range cachedRaw {
			var comment models.Comment
			if err := json.Unmarshal(b, &comment); err == nil {
				cached = append(cached, comment)
			}
		}
	}
	sortComments(cached)

	isComplete, _ := s.Cache.IsDocumentComplete(ctx, documentId)
	if isComplete && err == nil {
		return limitComments(cached), nil
	}

	stored, err := s.Store.GetComments(ctx, documentId)
	if err != nil {
		return nil, err
	}
	sortComments(stored)

	merged := limitComments(mergeComments(stored, cached))

	batchItems := make([]cache.CommentCacheItem, 0, len(merged))
	for _, comment := range merged {
		commentBytes, _ := json.Marshal(comment)
		batchItems = append(batchItems, cache.CommentCacheItem{
			CommentId: comment.Id,
			Score:     comment.Timestamp.UnixMilli(),
			Data:      commentBytes,
		})
	}
	if err := s.Cache.AddCommentsBatch(ctx, documentId, batchItems); err != nil {
		log.Error().Err(err).Str("documentId", documentId).Msg("Failed to refill comment cache")
	} else {
		s.Cache.SetDocumentComplete(ctx, documentId)
	}

	return merged, nil
}

func sortComments(comments []models.Comment) {
	slices.SortFunc(comments, func(a, b models.Comment) int {
		return strings.Compare(a.Id, b.Id)
	})
}

// limitComments keeps the newest comments. Ids are UUIDv7, so id order is
// creation order.
func limitComments(comments []models.Comment) []models.Comment {
	if len(comments) > maxDocumentComments {
		return comments[len(comments)-maxDocumentComments:]
	}
	return comments
}

// mergeComments merges two id-ordered lists. For a comment in both, the
// cached copy wins but a resolve on either side is kept.
func mergeComments(stored []models.Comment, cached []models.Comment) []models.Comment {
	merged := make([]models.Comment, 0, len(stored)+len(cached))
	i, j := 0, 0
	for i < len(stored) && j < len(cached) {
		storedId := stored[i].Id
		cachedId := cached[j].Id

		if storedId == cachedId {
			comment := cached[j]
			comment.Resolved = comment.Resolved || stored[i].Resolved
			merged = append(merged, comment)
			i++
			j++
		} else if storedId < cachedId {
			merged = append(merged, stored[i])
			i++
		} else {
			merged = append(merged, cached[j])
			j++
		}
	}
	if i < len(stored) {
		merged = append(merged, stored[i:]...)
	}
	if j < len(cached) {
		merged = append(merged, cached[j:]...)
	}
	return merged
}
