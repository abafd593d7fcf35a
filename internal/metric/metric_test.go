package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metric, path string) (int, string) {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestCounters(t *testing.T) {
	m := New("mqtt-forwarder")

	m.MessageReceived("simplified")
	m.MessageReceived("simplified")
	m.MessageDropped("throttled")
	m.SinkOutcome("http", "ok")
	m.QueueFull()
	m.AllowlistRefreshed(true, 12)
	m.AllowlistRefreshed(false, 12)

	code, body := scrape(t, m, "/metrics")
	require.Equal(t, http.StatusOK, code)
	for _, line := range []string{
		`mqtt_forwarder_messages_received_total{kind="simplified"} 2`,
		`mqtt_forwarder_readings_dropped_total{reason="throttled"} 1`,
		`mqtt_forwarder_sink_deliveries_total{outcome="ok",sink="http"} 1`,
		`mqtt_forwarder_forward_queue_full_total 1`,
		`mqtt_forwarder_allowlist_refreshes_total{result="error"} 1`,
		`mqtt_forwarder_allowlist_refreshes_total{result="ok"} 1`,
		`mqtt_forwarder_allowlist_size 12`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New("a")
		New("a")
	})
}

func TestHealthz(t *testing.T) {
	code, body := scrape(t, New("mqtt-forwarder"), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
}
