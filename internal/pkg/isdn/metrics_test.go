package isdn

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.message("in", q931.MsgSetup)
		m.decodeError()
		m.callStarted("incoming")
		m.callReleased("normal-clearing", true)
		m.restart("ack")
		m.segment("reassembled")
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(nil)

	m.message("in", q931.MsgSetup)
	m.message("in", q931.MsgSetup)
	m.callStarted("incoming")
	m.callStarted("outgoing")
	m.callReleased("normal-clearing", true)
	m.callReleased("invalid-callref", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("in", q931.MsgSetup.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("outgoing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases.WithLabelValues("invalid-callref")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.restart("timeout")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `q931_restarts_total{result="timeout"} 1`)
	assert.Contains(t, string(body), "q931_active_calls 0")
}
