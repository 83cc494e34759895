package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/metrics"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/store"
)

// maxBatchSize matches the DynamoDB BatchWriteItem limit.
const maxBatchSize = 25

type ResolveCommentRequest struct {
	DocumentId string
	CommentId  string
}

type CommentBatcher struct {
	WriteCh        chan models.CommentRecord
	ResolveCh      chan ResolveCommentRequest
	layerlinkStore store.LayerlinkStore
	metrics        *metrics.Metrics
	flushInterval  time.Duration
	done           chan struct{}
}

// Resolves are not batched: BatchWriteItem cannot express a conditional
// update. A resolve of a comment still waiting in the batch is folded into
// the pending write instead.
func NewCommentBatcher(layerlinkStore store.LayerlinkStore, flushInterval time.Duration, m *metrics.Metrics) *CommentBatcher {
	return &CommentBatcher{
		WriteCh:        make(chan models.CommentRecord, 1024), // buffer to absorb bursts
		ResolveCh:      make(chan ResolveCommentRequest, 1024),
		layerlinkStore: layerlinkStore,
		metrics:        m,
		flushInterval:  flushInterval,
		done:           make(chan struct{}),
	}
}

// Done is closed once Run has made its final flush.
func (b *CommentBatcher) Done() <-chan struct{} {
	return b.done
}

func batchKey(documentId string, commentId string) string {
	return documentId + "/" + commentId
}

func (b *CommentBatcher) Run(shutdownCtx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]models.CommentRecord, 0, maxBatchSize)
	batchIndices := make(map[string]int, maxBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not derived from shutdownCtx so the final flush can still complete.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unprocessed, err := b.layerlinkStore.WriteCommentBatch(ctx, batch)
		if err != nil {
			log.Error().Err(err).Int("comments", len(batch)).Int("unprocessed", len(unprocessed)).Msg("Error writing comment batch")
		}
		b.metrics.AddCommentsWritten(len(batch)-len(unprocessed), len(unprocessed))

		batch = batch[:0]
		clear(batchIndices)
	}

	// Comment ids are write-once: a pending comment keeps its first write and
	// later writes of the same id are dropped.
	add := func(record models.CommentRecord) {
		key := batchKey(record.DocumentId, record.Comment.Id)
		if _, ok := batchIndices[key]; ok {
			log.Debug().Str("documentId", record.DocumentId).Str("commentId", record.Comment.Id).Msg("Dropped repeated write of pending comment")
			return
		}
		batch = append(batch, record)
		batchIndices[key] = len(batch) - 1
		if len(batch) == maxBatchSize {
			flush()
		}
	}

	drainWrites := func() {
		for {
			select {
			case record := <-b.WriteCh:
				add(record)
			default:
				return
			}
		}
	}

	// Writes queued before the resolve are taken first so the resolve cannot
	// overtake the write of its own comment.
	resolve := func(req ResolveCommentRequest) {
		drainWrites()
		if idx, ok := batchIndices[batchKey(req.DocumentId, req.CommentId)]; ok {
			batch[idx].Comment.Resolved = true
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := b.layerlinkStore.ResolveComment(ctx, req.DocumentId, req.CommentId)
		if errors.Is(err, store.ErrItemNotFound) {
			log.Debug().Str("documentId", req.DocumentId).Str("commentId", req.CommentId).Msg("Resolve of unarchived comment")
		} else if err != nil {
			log.Error().Err(err).Str("documentId", req.DocumentId).Str("commentId", req.CommentId).Msg("Error resolving comment")
		}
	}

	for {
		select {
		case record := <-b.WriteCh:
			add(record)

		case req := <-b.ResolveCh:
			resolve(req)

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			drainWrites()
			for len(b.ResolveCh) > 0 {
				resolve(<-b.ResolveCh)
			}
			flush()
			return
		}
	}
}
