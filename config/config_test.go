package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HostPort)
	assert.Equal(t, CommentStoreMemory, cfg.CommentStore)
	assert.Equal(t, "LayerlinkComments", cfg.DynamoDBTable)
	assert.Equal(t, 500*time.Millisecond, cfg.CommentFlushInterval)
	assert.Equal(t, 50, cfg.MaxMembersPerDocument)
	assert.Empty(t, cfg.IdentitySecret)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HOST_PORT", "9000")
	t.Setenv("COMMENT_STORE", "dynamo")
	t.Setenv("IDENTITY_SECRET", "c2VjcmV0")
	t.Setenv("COMMENT_FLUSH_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HostPort)
	assert.Equal(t, CommentStoreDynamo, cfg.CommentStore)
	assert.Equal(t, []byte("secret"), cfg.IdentitySecret)
	assert.Equal(t, 2*time.Second, cfg.CommentFlushInterval)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"COMMENT_STORE":            "postgres",
		"IDENTITY_SECRET":          "not base64!",
		"MAX_MEMBERS_PER_DOCUMENT": "0",
		"COMMENT_FLUSH_INTERVAL":   "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
