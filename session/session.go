// Package session is the client side of a document collaboration: it joins
// a document through the relay server, sends local changes and applies
// remote ones to the local canvas.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/canvas"
	"github.com/zlnvch/layerlink/models"
)

var (
	ErrTransport    = errors.New("relay transport failure")
	ErrNotConnected = errors.New("session is not connected")
	ErrClosed       = errors.New("session is closed")
	ErrOutboundFull = errors.New("outbound queue full, message dropped")
)

const (
	// Half of the server's per-connection message rate, leaving the rest
	// for layer updates and comments while the cursor moves.
	defaultCursorInterval   = 100 * time.Millisecond
	defaultMaxReconnectTime = 5 * time.Minute
	outboundBuffer          = 256
)

type Option func(*Session)

// WithCursorInterval sets how often the latest cursor position is sent.
func WithCursorInterval(interval time.Duration) Option {
	return func(s *Session) { s.cursorInterval = interval }
}

// WithStateHandler is called on every connection state change.
func WithStateHandler(handler func(State)) Option {
	return func(s *Session) { s.onStateChange = handler }
}

// WithEventHandler is called with every inbound event after it has been
// applied. It runs on the connection's reader and must not call Disconnect
// or Close.
func WithEventHandler(handler func(models.Event)) Option {
	return func(s *Session) { s.onEvent = handler }
}

// WithBackOff sets the reconnect policy. newBackOff is called once per
// reconnect.
func WithBackOff(newBackOff func() backoff.BackOff, maxReconnectTime time.Duration) Option {
	return func(s *Session) {
		s.newBackOff = newBackOff
		s.maxReconnectTime = maxReconnectTime
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

// link is the outbound side of one live connection.
type link struct {
	out  chan []byte
	done chan struct{}
}

// Session is one explicitly owned connection to one document at a time.
// Connect and Disconnect are idempotent; callers defer Disconnect (or Close)
// so the document is left on every teardown path.
type Session struct {
	transport Transport
	layers    *canvas.Store
	comments  *canvas.CommentBoard
	roster    *Roster

	cursorInterval   time.Duration
	newBackOff       func() backoff.BackOff
	maxReconnectTime time.Duration
	onStateChange    func(State)
	onEvent          func(models.Event)

	// lifecycle serializes Connect, Disconnect and Close.
	lifecycle sync.Mutex

	mu         sync.Mutex
	state      State
	documentId string
	user       models.User
	link       *link
	cursor     *models.Point
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a disconnected session. Local payload changes of layers and
// new comments of comments are sent through it; either may be nil.
func New(transport Transport, layers *canvas.Store, comments *canvas.CommentBoard, opts ...Option) *Session {
	s := &Session{
		transport:        transport,
		layers:           layers,
		comments:         comments,
		roster:           NewRoster(),
		cursorInterval:   defaultCursorInterval,
		newBackOff:       defaultBackOff,
		maxReconnectTime: defaultMaxReconnectTime,
	}
	for _, opt := range opts {
		opt(s)
	}

	if layers != nil {
		layers.SetEmitter(s)
	}
	if comments != nil {
		comments.SetEmitter(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) DocumentId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentId
}

// Users returns the other users present in the document.
func (s *Session) Users() []models.User {
	return s.roster.Users()
}

// Connect dials the relay and joins documentId as user. Connecting to the
// current document again is a no-op; connecting to another one leaves the
// current document first.
func (s *Session) Connect(ctx context.Context, documentId string, user models.User) error {
	if documentId == "" {
		return fmt.Errorf("%w: empty document id", models.ErrInvalidEvent)
	}
	if err := models.ValidateUser(user); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidEvent, err)
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	state, current := s.state, s.documentId
	s.mu.Unlock()

	switch {
	case state == StateClosed:
		return ErrClosed
	case state.active() && current == documentId:
		return nil
	}
	s.disconnect()

	s.mu.Lock()
	s.documentId = documentId
	s.user = user
	notify := s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	notify()

	conn, err := s.transport.Dial(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	l := s.attach()
	go s.supervise(runCtx, conn, l, done)

	log.Info().Str("documentId", documentId).Str("userId", user.Id).Msg("Session connected")
	return nil
}

// Disconnect leaves the document and releases the connection. It is safe to
// call any number of times.
func (s *Session) Disconnect() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.disconnect()
	return nil
}

// Close disconnects and makes the session unusable.
func (s *Session) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.disconnect()
	s.setState(StateClosed)
	return nil
}

func (s *Session) disconnect() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.roster.Reset(nil)
	s.setState(StateDisconnected)
	log.Info().Str("documentId", s.DocumentId()).Msg("Session disconnected")
}

// attach installs a fresh outbound queue and marks the session connected.
func (s *Session) attach() *link {
	l := &link{out: make(chan []byte, outboundBuffer), done: make(chan struct{})}

	s.mu.Lock()
	s.link = l
	s.cursor = nil
	notify := s.setStateLocked(StateConnected)
	s.mu.Unlock()
	notify()
	return l
}

func (s *Session) detach(l *link) {
	s.mu.Lock()
	if s.link == l {
		s.link = nil
	}
	s.mu.Unlock()
	close(l.done)
}

// supervise serves conn until ctx is cancelled, redialing and re-joining
// with backoff whenever the connection is lost.
func (s *Session) supervise(ctx context.Context, conn Conn, l *link, done chan struct{}) {
	defer close(done)

	for {
		err := s.serve(ctx, conn, l)
		if ctx.Err() != nil {
			return
		}
		if rejected(err) {
			log.Warn().Err(err).Msg("Connection rejected by server, not reconnecting")
			s.roster.Reset(nil)
			s.setState(StateDisconnected)
			return
		}

		log.Warn().Err(err).Msg("Connection lost, reconnecting")
		s.roster.Reset(nil)
		s.setState(StateReconnecting)

		dial := func() (Conn, error) {
			return s.transport.Dial(ctx)
		}
		notify := func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("retryIn", next).Msg("Reconnect attempt failed")
		}
		conn, err = backoff.Retry(ctx, dial,
			backoff.WithBackOff(s.newBackOff()),
			backoff.WithMaxElapsedTime(s.maxReconnectTime),
			backoff.WithNotify(notify),
		)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("Giving up reconnecting")
				s.setState(StateDisconnected)
			}
			return
		}
		l = s.attach()
	}
}

// rejected reports a policy close from the server, e.g. a failed identity
// check or a newer connection of the same user. Reconnecting would only
// repeat it.
func rejected(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation
}

// serve writes the join, then the outbound queue and coalesced cursor
// positions, until the connection fails or ctx is cancelled. On cancel it
// flushes the queue and leaves the document.
func (s *Session) serve(ctx context.Context, conn Conn, l *link) error {
	s.mu.Lock()
	documentId, user := s.documentId, s.user
	s.mu.Unlock()

	readErr := make(chan error, 1)
	readDone := false
	go func() { readErr <- s.readLoop(conn) }()

	// The reader is finished before serve returns, so no inbound event is
	// applied after a disconnect.
	defer func() {
		s.detach(l)
		conn.Close()
		if !readDone {
			<-readErr
		}
	}()

	if err := s.write(conn, models.JoinDocument{DocumentId: documentId, User: user}); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cursorInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-l.out:
			if err := conn.WriteMessage(message); err != nil {
				return fmt.Errorf("%w: %w", ErrTransport, err)
			}

		case <-ticker.C:
			if position, ok := s.takeCursor(); ok {
				ev := models.CursorMove{DocumentId: documentId, UserId: user.Id, Position: position}
				if err := s.write(conn, ev); err != nil {
					return err
				}
			}

		case err := <-readErr:
			readDone = true
			return fmt.Errorf("%w: %w", ErrTransport, err)

		case <-ctx.Done():
			for len(l.out) > 0 {
				if err := conn.WriteMessage(<-l.out); err != nil {
					return nil
				}
			}
			if err := s.write(conn, models.LeaveDocument{DocumentId: documentId}); err == nil {
				conn.WriteClose()
			}
			return nil
		}
	}
}

func (s *Session) write(conn Conn, ev models.Event) error {
	message, err := models.Encode(ev)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(message); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (s *Session) readLoop(conn Conn) error {
	for {
		message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := models.Decode(message)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping invalid inbound event")
			continue
		}
		s.dispatch(ev)
	}
}

// dispatch applies one inbound event. Remote layer updates go through
// ApplyRemote and never create local undo points.
func (s *Session) dispatch(ev models.Event) {
	switch e := ev.(type) {
	case models.CurrentUsers:
		s.roster.Reset(e.Users)

	case models.UserJoined:
		s.roster.Add(e.User)

	case models.UserLeft:
		s.roster.Remove(e.UserId)

	case models.CursorMoved:
		if !s.roster.MoveCursor(e.UserId, e.Position) {
			log.Debug().Str("userId", e.UserId).Msg("Cursor of unknown user ignored")
		}

	case models.LayerUpdated:
		if s.layers == nil {
			break
		}
		if err := s.layers.ApplyRemote(e.Layer); err != nil {
			if errors.Is(err, canvas.ErrStaleApply) {
				log.Debug().Err(err).Str("layerId", e.Layer.Id).Msg("Stale remote layer update ignored")
			} else {
				log.Warn().Err(err).Str("layerId", e.Layer.Id).Msg("Remote layer update failed")
			}
		}

	case models.CurrentComments:
		if s.comments != nil {
			s.comments.Seed(e.Comments)
		}

	case models.NewComment:
		if s.comments != nil {
			s.comments.ApplyRemote(e.Comment)
		}

	case models.CommentResolved:
		if s.comments != nil {
			if err := s.comments.ApplyRemoteResolve(e.CommentId); err != nil {
				log.Debug().Err(err).Str("commentId", e.CommentId).Msg("Resolve of unknown comment ignored")
			}
		}

	case models.Error:
		log.Warn().Str("code", e.Code).Msg(e.Message)

	default:
		log.Debug().Str("eventType", string(ev.EventType())).Msg("Unexpected inbound event")
	}

	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Session) takeCursor() (models.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor == nil {
		return models.Point{}, false
	}
	position := *s.cursor
	s.cursor = nil
	return position, true
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	notify := s.setStateLocked(state)
	s.mu.Unlock()
	notify()
}

// setStateLocked returns the state handler call to make once s.mu is
// released. Closed is final.
func (s *Session) setStateLocked(state State) func() {
	if s.state == state || s.state == StateClosed {
		return func() {}
	}
	s.state = state
	log.Debug().Stringer("state", state).Str("documentId", s.documentId).Msg("Session state changed")

	handler := s.onStateChange
	if handler == nil {
		return func() {}
	}
	return func() { handler(state) }
}

// enqueue appends an event to the outbound queue of the live connection. It
// never blocks: when the queue is full the event is dropped. Layer updates
// carry the full layer, so the next one repairs a dropped one.
func (s *Session) enqueue(ev models.Event) error {
	message, err := models.Encode(ev)
	if err != nil {
		return err
	}
	if len(message) > models.MaxClientMessageSize {
		return fmt.Errorf("%s of %d bytes: %w", ev.EventType(), len(message), models.ErrPayloadTooLarge)
	}

	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}

	select {
	case l.out <- message:
		return nil
	default:
		log.Warn().Str("eventType", string(ev.EventType())).Msg("Outbound queue full, event dropped")
		return ErrOutboundFull
	}
}

// SendCursor records the latest local cursor position. Only the most
// recent position per cursor interval is sent.
func (s *Session) SendCursor(position models.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link == nil {
		return ErrNotConnected
	}
	s.cursor = &position
	return nil
}

// SendLayerUpdate sends the full layer. Recipients apply whichever update
// arrives last. A layer whose update would exceed the server's message limit
// is refused with models.ErrPayloadTooLarge.
func (s *Session) SendLayerUpdate(layer models.Layer) error {
	return s.enqueue(models.LayerUpdate{DocumentId: s.DocumentId(), Layer: layer})
}

// AddComment adds a comment to the local board and sends it.
func (s *Session) AddComment(x float64, y float64, text string) (models.Comment, error) {
	if s.comments == nil {
		return models.Comment{}, errors.New("session has no comment board")
	}
	return s.comments.Add(x, y, text)
}

func (s *Session) ResolveComment(commentId string) error {
	if s.comments == nil {
		return errors.New("session has no comment board")
	}
	return s.comments.Resolve(commentId)
}

func (s *Session) EmitLayerUpdate(layer models.Layer) error {
	return s.SendLayerUpdate(layer)
}

func (s *Session) EmitComment(comment models.Comment) error {
	return s.enqueue(models.NewComment{DocumentId: s.DocumentId(), Comment: comment})
}

func (s *Session) EmitResolve(commentId string) error {
	return s.enqueue(models.ResolveComment{DocumentId: s.DocumentId(), CommentId: commentId})
}

var (
	_ canvas.LayerEmitter   = (*Session)(nil)
	_ canvas.CommentEmitter = (*Session)(nil)
)
