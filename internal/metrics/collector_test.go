package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegisterer("relaydesk", reg, zaptest.NewLogger(t))
	return c, reg
}

func TestRecordPickupOutcomes(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordPickup("acme", OutcomeSuccess, 12*time.Second)
	c.RecordPickup("acme", OutcomeSuccess, 3*time.Second)
	c.RecordPickup("acme", OutcomeAlreadyAssigned, 0)
	c.RecordPickup("globex", OutcomeCapacityExceeded, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.pickupsTotal.WithLabelValues("acme", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pickupsTotal.WithLabelValues("acme", OutcomeAlreadyAssigned)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pickupsTotal.WithLabelValues("globex", OutcomeCapacityExceeded)))

	// Wait histogram only observes successful pickups.
	families, err := reg.Gather()
	require.NoError(t, err)
	var sampleCount uint64
	for _, mf := range families {
		if strings.HasSuffix(mf.GetName(), "pickup_wait_seconds") {
			for _, m := range mf.GetMetric() {
				sampleCount += m.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.Equal(t, uint64(2), sampleCount)
}

func TestRecordHandoffCreated(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHandoffCreated("acme")
	c.RecordHandoffCreated("acme")
	c.RecordHandoffCreated("globex")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.handoffsCreated.WithLabelValues("acme")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.handoffsCreated.WithLabelValues("globex")))
}

func TestPendingDepthGauge(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetPendingDepth("acme", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(c.pendingDepth.WithLabelValues("acme")))

	c.SetPendingDepth("acme", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.pendingDepth.WithLabelValues("acme")))
}

func TestRecordExpiredAddsCount(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordExpired("acme", 3)
	c.RecordExpired("acme", 2)
	assert.Equal(t, float64(5), testutil.ToFloat64(c.handoffsExpired.WithLabelValues("acme")))
}

func TestRecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/api/v1/handoffs", 201, 30*time.Millisecond, 256, 512)
	c.RecordHTTPRequest("POST", "/api/v1/handoffs", 400, 5*time.Millisecond, 64, 128)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/handoffs", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/handoffs", "4xx")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{99, "unknown"},
	}
	for _, tt := range tests {
		if got := statusCode(tt.code); got != tt.want {
			t.Errorf("statusCode(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestMessageAndEscalationCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordMessageAppended("acme", "customer")
	c.RecordMessageAppended("acme", "agent")
	c.RecordMessageAppended("acme", "agent")
	c.RecordEscalation("acme", "no_agents_available")
	c.RecordNotification("acme", "sent")
	c.RecordNotification("acme", "failed")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.messagesAppended.WithLabelValues("acme", "agent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.escalationsTotal.WithLabelValues("acme", "no_agents_available")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.notificationsTotal.WithLabelValues("acme", "failed")))
}
