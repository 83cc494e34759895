package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	cachemocks "github.com/zlnvch/layerlink/cache/mocks"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/presence"
	"github.com/zlnvch/layerlink/relay"
	"github.com/zlnvch/layerlink/service"
	storemocks "github.com/zlnvch/layerlink/store/mocks"
	"github.com/zlnvch/layerlink/worker"
)

// Helper to setup the service with mocks. The batcher is real but not
// running; tests read its channels directly.
func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *worker.CommentBatcher) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// The relay runs without the cache so local fan-out is observable
	// without remote expectations.
	hub := relay.NewHub(ctx)
	registry := presence.NewRegistry(nil, 3)
	commentBatcher := worker.NewCommentBatcher(mockStore, time.Hour, nil)

	svc := service.NewService(mockStore, mockCache, registry, hub, commentBatcher, []byte("secret"))
	return svc, mockStore, mockCache, commentBatcher
}

// expectEmptyComments sets up an empty, complete comment cache for documentId.
func expectEmptyComments(mockCache *cachemocks.MockCache, documentId string) {
	mockCache.On("GetComments", mock.Anything, documentId).Return([][]byte{}, nil)
	mockCache.On("IsDocumentComplete", mock.Anything, documentId).Return(true, nil)
}

type connection struct {
	user   models.User
	ch     chan []byte
	closed atomic.Bool
}

func newConnection(id string) *connection {
	return &connection{
		user: models.User{Id: id, Name: "User " + id, Color: "#123456"},
		ch:   make(chan []byte, 64),
	}
}

func (c *connection) UserID() string { return c.user.Id }

func (c *connection) Deliver(message []byte) bool {
	select {
	case c.ch <- message:
		return true
	default:
		return false
	}
}

func (c *connection) Close() { c.closed.Store(true) }

func (c *connection) next(t *testing.T) models.Event {
	t.Helper()
	select {
	case message := <-c.ch:
		ev, err := models.Decode(message)
		require.NoError(t, err)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("%s: timed out waiting for event", c.user.Id)
		return nil
	}
}

func (c *connection) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case message := <-c.ch:
		t.Fatalf("%s: unexpected event %s", c.user.Id, message)
	case <-time.After(50 * time.Millisecond):
	}
}

var _ relay.Subscriber = (*connection)(nil)
