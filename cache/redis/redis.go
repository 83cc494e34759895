package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/cache"
)

type RedisLayerlinkCache struct {
	client redis.UniversalClient
}

func NewRedisLayerlinkCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisLayerlinkCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisLayerlinkCache{client: client}, nil
}

func (redisCache *RedisLayerlinkCache) Publish(ctx context.Context, channel string, message []byte) error {
	return redisCache.client.Publish(ctx, channel, message).Err()
}

// Subscribe blocks until the subscription is confirmed, then delivers
// messages to handler from a single goroutine until ctx is done.
func (redisCache *RedisLayerlinkCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Error().Err(err).Str("channel", channel).Msg("Pubsub subscribe failed")
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Keys share the {documentId} hash tag so one document stays in one cluster slot.
func buildCommentsKey(documentId string) string {
	return "comments:{" + documentId + "}"
}

func buildCommentsDataKey(documentId string) string {
	return "comments:{" + documentId + "}:data"
}

func buildCommentsCompleteKey(documentId string) string {
	return "comments:{" + documentId + "}:complete"
}

const cacheTTL = 10 * time.Minute

// Comments use a split index/data layout: a ZSet of comment ids scored by
// creation time keeps the order, and a Hash maps each id to its JSON.
// The hash entry is claimed with HSETNX so an id is only ever written once.
func (redisCache *RedisLayerlinkCache) AddComment(ctx context.Context, documentId string, commentId string, score int64, commentData []byte) (bool, error) {
	added, err := redisCache.client.HSetNX(ctx, buildCommentsDataKey(documentId), commentId, commentData).Result()
	if err != nil || !added {
		return false, err
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAddNX(ctx, buildCommentsKey(documentId), redis.Z{Score: float64(score), Member: commentId})
	redisCache.refreshTTL(ctx, pipe, documentId)
	_, err = pipe.Exec(ctx)
	return true, err
}

func (redisCache *RedisLayerlinkCache) AddCommentsBatch(ctx context.Context, documentId string, comments []cache.CommentCacheItem) error {
	if len(comments) == 0 {
		return nil
	}

	key := buildCommentsKey(documentId)
	dataKey := buildCommentsDataKey(documentId)

	zMembers := make([]redis.Z, len(comments))
	hValues := make([]any, 0, len(comments)*2)
	for i, c := range comments {
		zMembers[i] = redis.Z{Score: float64(c.Score), Member: c.CommentId}
		hValues = append(hValues, c.CommentId, c.Data)
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, zMembers...)
	pipe.HSet(ctx, dataKey, hValues...)
	redisCache.refreshTTL(ctx, pipe, documentId)
	_, err := pipe.Exec(ctx)
	return err
}

// ResolveComment flips the resolved flag of a cached comment. A comment that
// is not cached is left alone; the store holds the authoritative copy.
func (redisCache *RedisLayerlinkCache) ResolveComment(ctx context.Context, documentId string, commentId string) error {
	dataKey := buildCommentsDataKey(documentId)

	return redisCache.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, dataKey, commentId).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return err
		}
		fields["resolved"] = json.RawMessage("true")
		updated, err := json.Marshal(fields)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, dataKey, commentId, updated)
			redisCache.refreshTTL(ctx, pipe, documentId)
			return nil
		})
		return err
	}, dataKey)
}

func (redisCache *RedisLayerlinkCache) GetComments(ctx context.Context, documentId string) ([][]byte, error) {
	key := buildCommentsKey(documentId)
	dataKey := buildCommentsDataKey(documentId)

	ids, err := redisCache.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	values, err := redisCache.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	comments := make([][]byte, 0, len(ids))
	for _, item := range values {
		if s, ok := item.(string); ok {
			comments = append(comments, []byte(s))
		}
	}

	pipe := redisCache.client.Pipeline()
	redisCache.refreshTTL(ctx, pipe, documentId)
	_, _ = pipe.Exec(ctx)

	return comments, nil
}

func (redisCache *RedisLayerlinkCache) SetDocumentComplete(ctx context.Context, documentId string) error {
	return redisCache.client.Set(ctx, buildCommentsCompleteKey(documentId), "true", cacheTTL).Err()
}

func (redisCache *RedisLayerlinkCache) IsDocumentComplete(ctx context.Context, documentId string) (bool, error) {
	val, err := redisCache.client.Exists(ctx, buildCommentsCompleteKey(documentId)).Result()
	if err != nil {
		return false, err
	}
	return val > 0, nil
}

func (redisCache *RedisLayerlinkCache) refreshTTL(ctx context.Context, pipe redis.Pipeliner, documentId string) {
	pipe.Expire(ctx, buildCommentsCompleteKey(documentId), cacheTTL)
	pipe.Expire(ctx, buildCommentsKey(documentId), cacheTTL)
	pipe.Expire(ctx, buildCommentsDataKey(documentId), cacheTTL)
}
