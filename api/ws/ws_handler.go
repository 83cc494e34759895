package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/metrics"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/presence"
	"github.com/zlnvch/layerlink/service"
)

type Handler struct {
	Service *service.Service
	Metrics *metrics.Metrics
}

func NewHandler(svc *service.Service, m *metrics.Metrics) *Handler {
	return &Handler{
		Service: svc,
		Metrics: m,
	}
}

// NewWsUpgrader accepts any origin when allowedOrigin is empty.
func (h *Handler) NewWsUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return allowedOrigin == "" || r.Header.Get("Origin") == allowedOrigin
		},
		Subprotocols: []string{models.Subprotocol},
	}
}

// ServeWS handles websocket requests from the peer. The identity token, when
// required, is the second entry of the Sec-WebSocket-Protocol header.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	var token string
	protocols := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	if len(protocols) == 2 {
		token = strings.TrimSpace(protocols[1])
	}

	var identity *models.User
	var authErr error
	if h.Service.IdentityRequired() {
		var user models.User
		user, authErr = h.Service.VerifyIdentity(token)
		identity = &user
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade ws connection")
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		log.Warn().Err(authErr).Msg("Rejected unauthenticated connection")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(conn, identity, h.HandleWsMessage, h.Metrics)
	h.Metrics.AddConnection(1)

	go client.ReadPump(h.teardown)
	go client.WritePump(shutdownCtx)
}

func (h *Handler) teardown(client *Client) {
	h.Metrics.AddConnection(-1)
	documentId := client.DocumentId()
	if documentId == "" {
		return
	}
	if err := h.Service.LeaveDocument(context.Background(), client, documentId); err != nil {
		log.Error().Err(err).Str("documentId", documentId).Str("userId", client.UserID()).Msg("Leave on disconnect failed")
	}
}

func (h *Handler) HandleWsMessage(client *Client, messageBytes []byte) {
	ev, err := models.Decode(messageBytes)
	if err != nil {
		if errors.Is(err, models.ErrUnknownEvent) {
			h.reject(client, models.CodeUnknownEvent, err)
		} else {
			h.reject(client, models.CodeInvalidEvent, err)
		}
		return
	}

	ctx := client.ctx
	switch e := ev.(type) {
	case models.JoinDocument:
		h.handleJoin(ctx, client, e)

	case models.LeaveDocument:
		if client.DocumentId() != e.DocumentId {
			h.reject(client, models.CodeNotJoined, presence.ErrNotMember)
			return
		}
		if err := h.Service.LeaveDocument(ctx, client, e.DocumentId); err != nil {
			h.fail(client, err)
			return
		}
		client.setDocumentId("")

	case models.CursorMove:
		if !h.ownsEvent(client, e.UserId) {
			return
		}
		if err := h.Service.MoveCursor(ctx, e.UserId, e.DocumentId, e.Position); err != nil {
			h.fail(client, err)
		}

	case models.LayerUpdate:
		if err := h.Service.UpdateLayer(ctx, client.UserID(), e.DocumentId, e.Layer); err != nil {
			h.fail(client, err)
		}

	case models.NewComment:
		if _, err := h.Service.AddComment(ctx, client.UserID(), e.DocumentId, e.Comment); err != nil {
			h.fail(client, err)
		}

	case models.ResolveComment:
		if err := h.Service.ResolveComment(ctx, client.UserID(), e.DocumentId, e.CommentId); err != nil {
			h.fail(client, err)
		}

	default:
		// Server to client variants are never accepted.
		h.reject(client, models.CodeUnknownEvent, models.ErrUnknownEvent)
	}
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, e models.JoinDocument) {
	user := e.User
	user.Cursor = models.Point{}

	// A connection is bound to one user: the identity token's, or the first
	// one it joined as.
	if bound := client.User(); bound.Id != "" {
		if user.Id != bound.Id {
			h.reject(client, models.CodeIdentityMismatch, errors.New("join user does not match connection user"))
			return
		}
		if client.identity != nil {
			user = bound
		}
	}
	client.setUser(user)

	current := client.DocumentId()
	if err := h.Service.JoinDocument(ctx, client, current, e.DocumentId, user); err != nil {
		if current != e.DocumentId {
			client.setDocumentId("")
		}
		h.fail(client, err)
		return
	}
	client.setDocumentId(e.DocumentId)
}

func (h *Handler) ownsEvent(client *Client, userId string) bool {
	if userId != client.UserID() {
		h.reject(client, models.CodeIdentityMismatch, errors.New("event user does not match connection user"))
		return false
	}
	return true
}

// fail maps a service error to the error event sent back to the client.
func (h *Handler) fail(client *Client, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, presence.ErrNotMember):
		h.reject(client, models.CodeNotJoined, err)
	case errors.Is(err, presence.ErrDocumentFull):
		h.reject(client, models.CodeDocumentFull, err)
	case errors.Is(err, models.ErrInvalidEvent), errors.As(err, &validationErrs):
		h.reject(client, models.CodeInvalidEvent, err)
	default:
		log.Error().Err(err).Str("userId", client.UserID()).Msg("Failed to handle message")
		h.reject(client, models.CodeInternal, errors.New("internal error"))
	}
}

func (h *Handler) reject(client *Client, code string, err error) {
	h.Metrics.AddRejected(code)
	client.reject(code, err.Error())
}
