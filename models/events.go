package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	EventJoinDocument    EventType = "join-document"
	EventLeaveDocument   EventType = "leave-document"
	EventCurrentUsers    EventType = "current-users"
	EventCurrentComments EventType = "current-comments"
	EventUserJoined      EventType = "user-joined"
	EventUserLeft        EventType = "user-left"
	EventCursorMove      EventType = "cursor-move"
	EventCursorMoved     EventType = "cursor-moved"
	EventLayerUpdate     EventType = "layer-update"
	EventLayerUpdated    EventType = "layer-updated"
	EventNewComment      EventType = "new-comment"
	EventResolveComment  EventType = "resolve-comment"
	EventCommentResolved EventType = "comment-resolved"
	EventError           EventType = "error"
)

// Subprotocol is negotiated on the websocket handshake. An identity token,
// when used, follows it as a second protocol entry.
const Subprotocol = "layerlink-v1"

// Codes carried by Error events.
const (
	CodeInvalidEvent     = "invalid-event"
	CodeUnknownEvent     = "unknown-event"
	CodeRateLimited      = "rate-limited"
	CodeNotJoined        = "not-joined"
	CodeDocumentFull     = "document-full"
	CodeIdentityMismatch = "identity-mismatch"
	CodeInternal         = "internal"
)

// Message size limits. A relayed event carries more fields than the message
// it came from and current-comments holds a document's whole comment
// snapshot, so clients read far more than they may send.
const (
	MaxPayloadSize       = 192 * 1024
	MaxClientMessageSize = 256 * 1024
	MaxServerMessageSize = 16 * 1024 * 1024
)

var (
	ErrUnknownEvent    = errors.New("unknown event type")
	ErrInvalidEvent    = errors.New("invalid event")
	ErrPayloadTooLarge = errors.New("layer payload too large")
)

// Event is one of the closed set of wire variants declared in this file.
type Event interface {
	EventType() EventType
	Validate() error
}

type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Struct tags are checked by Validate at the relay boundary.

type JoinDocument struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	User       User   `json:"user"`
}

type LeaveDocument struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
}

type CurrentUsers struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	Users      []User `json:"users" validate:"dive"`
}

type CurrentComments struct {
	DocumentId string    `json:"documentId" validate:"required,max=128"`
	Comments   []Comment `json:"comments" validate:"dive"`
}

type UserJoined struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	User       User   `json:"user"`
}

type UserLeft struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	UserId     string `json:"userId" validate:"required,max=128"`
}

type CursorMove struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	UserId     string `json:"userId" validate:"required,max=128"`
	Position   Point  `json:"position"`
}

type CursorMoved struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	UserId     string `json:"userId" validate:"required,max=128"`
	Position   Point  `json:"position"`
}

type LayerUpdate struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	Layer      Layer  `json:"layer"`
}

type LayerUpdated struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	UserId     string `json:"userId" validate:"max=128"`
	Layer      Layer  `json:"layer"`
}

type NewComment struct {
	DocumentId string  `json:"documentId" validate:"required,max=128"`
	Comment    Comment `json:"comment"`
}

type ResolveComment struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	CommentId  string `json:"commentId" validate:"required,max=128"`
}

type CommentResolved struct {
	DocumentId string `json:"documentId" validate:"required,max=128"`
	CommentId  string `json:"commentId" validate:"required,max=128"`
	UserId     string `json:"userId" validate:"max=128"`
}

type Error struct {
	Code    string `json:"code" validate:"required"`
	Message string `json:"message"`
}

func (JoinDocument) EventType() EventType    { return EventJoinDocument }
func (LeaveDocument) EventType() EventType   { return EventLeaveDocument }
func (CurrentUsers) EventType() EventType    { return EventCurrentUsers }
func (CurrentComments) EventType() EventType { return EventCurrentComments }
func (UserJoined) EventType() EventType      { return EventUserJoined }
func (UserLeft) EventType() EventType        { return EventUserLeft }
func (CursorMove) EventType() EventType      { return EventCursorMove }
func (CursorMoved) EventType() EventType     { return EventCursorMoved }
func (LayerUpdate) EventType() EventType     { return EventLayerUpdate }
func (LayerUpdated) EventType() EventType    { return EventLayerUpdated }
func (NewComment) EventType() EventType      { return EventNewComment }
func (ResolveComment) EventType() EventType  { return EventResolveComment }
func (CommentResolved) EventType() EventType { return EventCommentResolved }
func (Error) EventType() EventType           { return EventError }

func (e JoinDocument) Validate() error    { return validateStruct(e) }
func (e LeaveDocument) Validate() error   { return validateStruct(e) }
func (e CurrentUsers) Validate() error    { return validateStruct(e) }
func (e CurrentComments) Validate() error { return validateStruct(e) }
func (e UserJoined) Validate() error      { return validateStruct(e) }
func (e UserLeft) Validate() error        { return validateStruct(e) }
func (e CursorMove) Validate() error      { return validateStruct(e) }
func (e CursorMoved) Validate() error     { return validateStruct(e) }
func (e LayerUpdate) Validate() error     { return validateStruct(e) }
func (e LayerUpdated) Validate() error    { return validateStruct(e) }
func (e NewComment) Validate() error      { return validateStruct(e) }
func (e ResolveComment) Validate() error  { return validateStruct(e) }
func (e CommentResolved) Validate() error { return validateStruct(e) }
func (e Error) Validate() error           { return validateStruct(e) }

// Encode wraps the event in its {type, data} envelope.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: ev.EventType(), Data: data})
}

// Decode parses an envelope into its concrete variant and validates it, so a
// malformed payload fails here instead of propagating.
func Decode(messageBytes []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(messageBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data for %q", ErrInvalidEvent, env.Type)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventJoinDocument:
		ev, err = decodeAs[JoinDocument](env.Data)
	case EventLeaveDocument:
		ev, err = decodeAs[LeaveDocument](env.Data)
	case EventCurrentUsers:
		ev, err = decodeAs[CurrentUsers](env.Data)
	case EventCurrentComments:
		ev, err = decodeAs[CurrentComments](env.Data)
	case EventUserJoined:
		ev, err = decodeAs[UserJoined](env.Data)
	case EventUserLeft:
		ev, err = decodeAs[UserLeft](env.Data)
	case EventCursorMove:
		ev, err = decodeAs[CursorMove](env.Data)
	case EventCursorMoved:
		ev, err = decodeAs[CursorMoved](env.Data)
	case EventLayerUpdate:
		ev, err = decodeAs[LayerUpdate](env.Data)
	case EventLayerUpdated:
		ev, err = decodeAs[LayerUpdated](env.Data)
	case EventNewComment:
		ev, err = decodeAs[NewComment](env.Data)
	case EventResolveComment:
		ev, err = decodeAs[ResolveComment](env.Data)
	case EventCommentResolved:
		ev, err = decodeAs[CommentResolved](env.Data)
	case EventError:
		ev, err = decodeAs[Error](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Type, err)
	}

	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Type, err)
	}
	return ev, nil
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
