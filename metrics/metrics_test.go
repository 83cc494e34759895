package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.AddConnection(1)
	m.AddConnection(1)
	m.AddConnection(-1)
	m.AddRelayDropped()
	m.AddRelayPublished("cursor-moved")
	m.AddRelayPublished("cursor-moved")
	m.AddCommentsWritten(3, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayDroppedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayPublishedTotal.WithLabelValues("cursor-moved")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.commentsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commentWriteFailed))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddConnection(1)
		m.AddRelayRoom(1)
		m.AddRelayPublished("user-joined")
		m.AddRelayDropped()
		m.AddRejected("invalid-event")
		m.AddCommentsWritten(1, 0)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.AddRejected("rate-limited")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `layerlink_ws_rejected_messages_total{code="rate-limited"} 1`))
}
