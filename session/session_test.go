package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/layerlink/canvas"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/session"
)

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	readErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case message := <-c.in:
		return message, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(message []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	case c.out <- message:
		return nil
	}
}

func (c *fakeConn) WriteClose() error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away with err.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.Close()
}

func (c *fakeConn) push(t *testing.T, ev models.Event) {
	t.Helper()
	message, err := models.Encode(ev)
	require.NoError(t, err)
	c.in <- message
}

func (c *fakeConn) next(t *testing.T) models.Event {
	t.Helper()
	select {
	case message := <-c.out:
		ev, err := models.Decode(message)
		require.NoError(t, err)
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound event")
		return nil
	}
}

type fakeTransport struct {
	dialed chan *fakeConn
	mu     sync.Mutex
	err    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialed: make(chan *fakeConn, 8)}
}

func (f *fakeTransport) Dial(ctx context.Context) (session.Conn, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	f.dialed <- c
	return c, nil
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTransport) conn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-f.dialed:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func testUser(id string) models.User {
	return models.User{Id: id, Name: "User " + id, Color: "#336699"}
}

func fastReconnect() session.Option {
	return session.WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}, time.Second)
}

func TestConnect_JoinsAndAppliesPresence(t *testing.T) {
	transport := newFakeTransport()
	sess := session.New(transport, nil, nil)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	assert.Equal(t, session.StateConnected, sess.State())
	assert.Equal(t, "d1", sess.DocumentId())

	conn := transport.conn(t)
	assert.Equal(t, models.JoinDocument{DocumentId: "d1", User: testUser("u1")}, conn.next(t))

	conn.push(t, models.CurrentUsers{DocumentId: "d1", Users: []models.User{testUser("u2")}})
	conn.push(t, models.UserJoined{DocumentId: "d1", User: testUser("u3")})
	conn.push(t, models.CursorMoved{DocumentId: "d1", UserId: "u2", Position: models.Point{X: 1, Y: 2}})
	conn.push(t, models.UserLeft{DocumentId: "d1", UserId: "u3"})

	u2 := testUser("u2")
	u2.Cursor = models.Point{X: 1, Y: 2}
	assert.Eventually(t, func() bool {
		users := sess.Users()
		return len(users) == 1 && users[0] == u2
	}, time.Second, 5*time.Millisecond)

	// Same document again is a no-op.
	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	select {
	case <-transport.dialed:
		t.Fatal("reconnecting to the same document dialed again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnect_DialFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.failWith(errors.New("refused"))
	sess := session.New(transport, nil, nil)

	err := sess.Connect(context.Background(), "d1", testUser("u1"))
	assert.ErrorIs(t, err, session.ErrTransport)
	assert.Equal(t, session.StateDisconnected, sess.State())
}

func TestConnect_InvalidUser(t *testing.T) {
	sess := session.New(newFakeTransport(), nil, nil)
	err := sess.Connect(context.Background(), "d1", models.User{Id: "u1"})
	assert.ErrorIs(t, err, models.ErrInvalidEvent)
}

func TestSendCursor_SendsLatestOnly(t *testing.T) {
	transport := newFakeTransport()
	sess := session.New(transport, nil, nil, session.WithCursorInterval(30*time.Millisecond))
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	conn := transport.conn(t)
	conn.next(t)

	for i := 1; i <= 5; i++ {
		require.NoError(t, sess.SendCursor(models.Point{X: float64(i), Y: float64(i)}))
	}

	ev := conn.next(t)
	assert.Equal(t, models.CursorMove{DocumentId: "d1", UserId: "u1", Position: models.Point{X: 5, Y: 5}}, ev)

	select {
	case message := <-conn.out:
		t.Fatalf("unexpected extra message %s", message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSend_NotConnected(t *testing.T) {
	sess := session.New(newFakeTransport(), nil, nil)
	assert.ErrorIs(t, sess.SendCursor(models.Point{}), session.ErrNotConnected)
	assert.ErrorIs(t, sess.SendLayerUpdate(models.Layer{Id: "L1"}), session.ErrNotConnected)
}

func TestLayers_LocalEmittedRemoteApplied(t *testing.T) {
	transport := newFakeTransport()
	layers := canvas.NewStore("u1", []models.Layer{{Id: "L1", Visible: true, Opacity: 100, Type: models.LayerRaster}})
	comments := canvas.NewCommentBoard("u1", nil)
	sess := session.New(transport, layers, comments)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	conn := transport.conn(t)
	conn.next(t)

	require.NoError(t, layers.SetPayload("L1", "data:image/png;base64,AA=="))
	update := conn.next(t).(models.LayerUpdate)
	assert.Equal(t, "d1", update.DocumentId)
	require.NotNil(t, update.Layer.Payload)
	assert.Equal(t, "data:image/png;base64,AA==", *update.Layer.Payload)

	comment, err := sess.AddComment(10, 20, "looks off")
	require.NoError(t, err)
	assert.Equal(t, models.NewComment{DocumentId: "d1", Comment: comment}, conn.next(t))
	require.NoError(t, sess.ResolveComment(comment.Id))
	assert.Equal(t, models.ResolveComment{DocumentId: "d1", CommentId: comment.Id}, conn.next(t))

	historyLen := layers.HistoryLen()
	conn.push(t, models.LayerUpdated{DocumentId: "d1", UserId: "u2", Layer: models.Layer{Id: "L1", Visible: true, Opacity: 40, Type: models.LayerRaster}})
	conn.push(t, models.LayerUpdated{DocumentId: "d1", UserId: "u2", Layer: models.Layer{Id: "gone", Opacity: 40, Type: models.LayerRaster}})

	assert.Eventually(t, func() bool {
		layer, err := layers.Layer("L1")
		return err == nil && layer.Opacity == 40
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, historyLen, layers.HistoryLen())
	assert.Len(t, layers.Layers(), 1)
}

func TestDisconnect_LeavesOnceAndIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	var states []session.State
	var mu sync.Mutex
	sess := session.New(transport, nil, nil, session.WithStateHandler(func(s session.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	conn := transport.conn(t)
	conn.next(t)

	require.NoError(t, sess.SendLayerUpdate(models.Layer{Id: "L1", Opacity: 10, Type: models.LayerRaster}))
	require.NoError(t, sess.Disconnect())
	require.NoError(t, sess.Disconnect())

	// Queued updates are flushed before leaving.
	assert.IsType(t, models.LayerUpdate{}, conn.next(t))
	assert.Equal(t, models.LeaveDocument{DocumentId: "d1"}, conn.next(t))
	assert.Len(t, conn.out, 0)
	assert.Equal(t, session.StateDisconnected, sess.State())
	assert.Empty(t, sess.Users())

	require.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.Connect(context.Background(), "d1", testUser("u1")), session.ErrClosed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []session.State{
		session.StateConnecting,
		session.StateConnected,
		session.StateDisconnected,
		session.StateClosed,
	}, states)
}

func TestConnect_OtherDocumentLeavesFirst(t *testing.T) {
	transport := newFakeTransport()
	sess := session.New(transport, nil, nil)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	first := transport.conn(t)
	first.next(t)

	require.NoError(t, sess.Connect(context.Background(), "d2", testUser("u1")))
	assert.Equal(t, models.LeaveDocument{DocumentId: "d1"}, first.next(t))

	second := transport.conn(t)
	assert.Equal(t, models.JoinDocument{DocumentId: "d2", User: testUser("u1")}, second.next(t))
}

func TestReconnect_Rejoins(t *testing.T) {
	transport := newFakeTransport()
	sess := session.New(transport, nil, nil, fastReconnect())
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	first := transport.conn(t)
	first.next(t)
	first.push(t, models.CurrentUsers{DocumentId: "d1", Users: []models.User{testUser("u2")}})
	assert.Eventually(t, func() bool { return len(sess.Users()) == 1 }, time.Second, 5*time.Millisecond)

	first.drop(errors.New("connection reset"))

	second := transport.conn(t)
	assert.Equal(t, models.JoinDocument{DocumentId: "d1", User: testUser("u1")}, second.next(t))
	assert.Eventually(t, func() bool { return sess.State() == session.StateConnected }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sess.Users())
}

func TestReconnect_NotAfterPolicyClose(t *testing.T) {
	transport := newFakeTransport()
	sess := session.New(transport, nil, nil, fastReconnect())
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	conn := transport.conn(t)
	conn.next(t)

	conn.drop(&websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "Superseded by another connection"})

	assert.Eventually(t, func() bool { return sess.State() == session.StateDisconnected }, time.Second, 5*time.Millisecond)
	select {
	case <-transport.dialed:
		t.Fatal("session redialed after a policy close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnect_GivesUp(t *testing.T) {
	transport := newFakeTransport()
	sess := session.New(transport, nil, nil, session.WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}, 50*time.Millisecond))
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	conn := transport.conn(t)
	conn.next(t)

	transport.failWith(errors.New("refused"))
	conn.drop(errors.New("connection reset"))

	assert.Eventually(t, func() bool { return sess.State() == session.StateDisconnected }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, sess.SendLayerUpdate(models.Layer{Id: "L1"}), session.ErrNotConnected)
}

func TestSendLayerUpdate_RefusesOversizedMessage(t *testing.T) {
	transport := newFakeTransport()
	sess := session.New(transport, nil, nil)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	conn := transport.conn(t)
	conn.next(t)

	// Control characters are escaped on the wire, so the encoded update is
	// several times the payload length.
	payload := strings.Repeat("\x01", models.MaxPayloadSize)
	err := sess.SendLayerUpdate(models.Layer{Id: "L1", Opacity: 100, Type: models.LayerRaster, Payload: &payload})
	assert.ErrorIs(t, err, models.ErrPayloadTooLarge)

	select {
	case message := <-conn.out:
		t.Fatalf("oversized update was sent: %d bytes", len(message))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnqueue_NeverBlocksOnStalledConnection(t *testing.T) {
	transport := newFakeTransport()
	layers := canvas.NewStore("u1", []models.Layer{{Id: "L1", Visible: true, Opacity: 100, Type: models.LayerRaster}})
	sess := session.New(transport, layers, nil)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	conn := transport.conn(t)
	// Nothing reads conn.out, so the writer stalls once its buffer is full.
	// Closing the connection first lets Close finish.
	t.Cleanup(func() { conn.Close() })

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 1000; i++ {
			if err := layers.SetPayload("L1", fmt.Sprintf("frame %d", i)); err != nil {
				done <- err
				return
			}
		}
		done <- sess.SendLayerUpdate(models.Layer{Id: "L1", Opacity: 100, Type: models.LayerRaster})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, session.ErrOutboundFull)
	case <-time.After(2 * time.Second):
		t.Fatal("local edits blocked on a stalled connection")
	}
}

func TestDisconnect_WaitsForInboundDispatch(t *testing.T) {
	transport := newFakeTransport()
	entered := make(chan struct{})
	release := make(chan struct{})
	sess := session.New(transport, nil, nil, session.WithEventHandler(func(ev models.Event) {
		if _, ok := ev.(models.UserJoined); ok {
			close(entered)
			<-release
		}
	}))
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), "d1", testUser("u1")))
	conn := transport.conn(t)
	conn.next(t)
	conn.push(t, models.UserJoined{DocumentId: "d1", User: testUser("u2")})

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("user-joined was not dispatched")
	}

	disconnected := make(chan struct{})
	go func() {
		sess.Disconnect()
		close(disconnected)
	}()

	select {
	case <-disconnected:
		t.Fatal("Disconnect returned while an inbound event was still being applied")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("Disconnect did not return")
	}
	assert.Empty(t, sess.Users())
}
