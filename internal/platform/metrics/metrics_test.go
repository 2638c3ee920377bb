package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_CountsAndServes(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())
	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionReleased()
	r.NotificationDispatch("pending")
	r.Delivery("newMessage", "ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.live))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.connections.WithLabelValues("opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("pending")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "marketws_fanout_deliveries_total"))
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.ConnectionOpened()
	r.MessageSend("ok")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
