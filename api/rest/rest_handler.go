package rest

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/service"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type documentUsersResponse struct {
	DocumentId string        `json:"documentId"`
	Users      []models.User `json:"users"`
}

type documentCommentsResponse struct {
	DocumentId string           `json:"documentId"`
	Comments   []models.Comment `json:"comments"`
}

func (h *Handler) HandleDocumentUsers(w http.ResponseWriter, r *http.Request) {
	documentId, ok := h.documentId(w, r)
	if !ok {
		return
	}

	resp := documentUsersResponse{
		DocumentId: documentId,
		Users:      h.Service.DocumentUsers(documentId),
	}
	h.sendResponse(w, resp)
}

func (h *Handler) HandleDocumentComments(w http.ResponseWriter, r *http.Request) {
	documentId, ok := h.documentId(w, r)
	if !ok {
		return
	}

	comments, err := h.Service.LoadComments(r.Context(), documentId)
	if err != nil {
		log.Error().Err(err).Str("documentId", documentId).Msg("LoadComments failed")
		http.Error(w, "failed to load comments", http.StatusInternalServerError)
		return
	}

	resp := documentCommentsResponse{
		DocumentId: documentId,
		Comments:   comments,
	}
	h.sendResponse(w, resp)
}

func (h *Handler) documentId(w http.ResponseWriter, r *http.Request) (string, bool) {
	documentId := r.PathValue("documentId")
	if documentId == "" || len(documentId) > 128 {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return "", false
	}
	return documentId, true
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
