package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/layerlink/api/rest"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/presence"
	"github.com/zlnvch/layerlink/relay"
	"github.com/zlnvch/layerlink/service"
	"github.com/zlnvch/layerlink/store/memory"
	"github.com/zlnvch/layerlink/worker"
)

func setupHandler(t *testing.T) (*http.ServeMux, *service.Service, *memory.MemoryLayerlinkStore) {
	commentStore, err := memory.NewMemoryLayerlinkStore()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc := service.NewService(
		commentStore,
		nil,
		presence.NewRegistry(nil, 10),
		relay.NewHub(ctx),
		worker.NewCommentBatcher(commentStore, time.Hour, nil),
		nil,
	)
	h := rest.NewHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /documents/{documentId}/users", h.HandleDocumentUsers)
	mux.HandleFunc("GET /documents/{documentId}/comments", h.HandleDocumentComments)
	return mux, svc, commentStore
}

func get(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleDocumentUsers(t *testing.T) {
	mux, svc, _ := setupHandler(t)
	user := models.User{Id: "u1", Name: "Ada", Color: "#112233"}
	_, _, err := svc.Presence.Join("d1", user)
	require.NoError(t, err)

	rec := get(mux, "/documents/d1/users")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		DocumentId string        `json:"documentId"`
		Users      []models.User `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "d1", resp.DocumentId)
	assert.Equal(t, []models.User{user}, resp.Users)
}

func TestHandleDocumentComments(t *testing.T) {
	mux, _, commentStore := setupHandler(t)
	_, err := commentStore.WriteCommentBatch(context.Background(), []models.CommentRecord{
		{DocumentId: "d1", Comment: models.Comment{Id: "c1", Text: "fix the shadow", Author: "u1"}},
	})
	require.NoError(t, err)

	rec := get(mux, "/documents/d1/comments")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Comments []models.Comment `json:"comments"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Comments, 1)
	assert.Equal(t, "fix the shadow", resp.Comments[0].Text)
}

func TestHandleDocumentUsers_InvalidId(t *testing.T) {
	mux, _, _ := setupHandler(t)
	rec := get(mux, "/documents/"+strings.Repeat("x", 129)+"/users")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
