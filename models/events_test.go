package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/layerlink/models"
)

func TestEncode_Envelope(t *testing.T) {
	b, err := models.Encode(models.UserLeft{DocumentId: "d1", UserId: "u1"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "user-left", raw["type"])
	assert.Equal(t, map[string]any{"documentId": "d1", "userId": "u1"}, raw["data"])
}

func TestDecode_LayerUpdate(t *testing.T) {
	msg := []byte(`{"type":"layer-update","data":{"documentId":"d1","layer":{"id":"L1","name":"Sky","visible":true,"locked":false,"opacity":50,"type":"raster","owner":"u1","payload":null}}}`)

	ev, err := models.Decode(msg)
	require.NoError(t, err)

	update, ok := ev.(models.LayerUpdate)
	require.True(t, ok)
	assert.Equal(t, "d1", update.DocumentId)
	assert.Equal(t, "L1", update.Layer.Id)
	assert.Equal(t, 50, update.Layer.Opacity)
	assert.Nil(t, update.Layer.Payload)
}

func TestDecode_JoinDocument(t *testing.T) {
	msg := []byte(`{"type":"join-document","data":{"documentId":"d1","user":{"id":"u1","name":"Ada","color":"#ff8800"}}}`)

	ev, err := models.Decode(msg)
	require.NoError(t, err)
	join := ev.(models.JoinDocument)
	assert.Equal(t, "Ada", join.User.Name)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		err  error
	}{
		{"not json", `nope`, models.ErrInvalidEvent},
		{"unknown type", `{"type":"draw","data":{}}`, models.ErrUnknownEvent},
		{"missing data", `{"type":"user-left"}`, models.ErrInvalidEvent},
		{"wrong shape", `{"type":"user-left","data":{"userId":7}}`, models.ErrInvalidEvent},
		{"missing document", `{"type":"cursor-move","data":{"userId":"u1","position":{"x":1,"y":2}}}`, models.ErrInvalidEvent},
		{"opacity out of range", `{"type":"layer-update","data":{"documentId":"d1","layer":{"id":"L1","opacity":101,"type":"raster"}}}`, models.ErrInvalidEvent},
		{"bad layer type", `{"type":"layer-update","data":{"documentId":"d1","layer":{"id":"L1","opacity":10,"type":"svg"}}}`, models.ErrInvalidEvent},
		{"bad color", `{"type":"join-document","data":{"documentId":"d1","user":{"id":"u1","name":"Ada","color":"red"}}}`, models.ErrInvalidEvent},
		{"empty comment", `{"type":"new-comment","data":{"documentId":"d1","comment":{"id":"c1","text":""}}}`, models.ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.Decode([]byte(tt.msg))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEncodeDecode_Comment(t *testing.T) {
	in := models.NewComment{
		DocumentId: "d1",
		Comment:    models.Comment{Id: "c1", X: 3, Y: 4, Text: "nice", Author: "u1"},
	}
	b, err := models.Encode(in)
	require.NoError(t, err)

	out, err := models.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
