package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skyevent/pkg/netevent"
)

var _ netevent.Recorder = (*EventMetrics)(nil)

func TestEventMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEventMetrics("test", reg)

	m.Posted(netevent.GuaranteedOrdered)
	m.Sent(netevent.GuaranteedOrdered, false)
	m.Sent(netevent.GuaranteedOrdered, true)
	m.Lost(netevent.GuaranteedOrdered)
	m.Acked(netevent.GuaranteedOrdered)
	m.Dispatched(netevent.Unguaranteed)
	m.Violation()
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	ordered := netevent.GuaranteedOrdered.String()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.posted.WithLabelValues(ordered)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.sent.WithLabelValues(ordered)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.retransmitted.WithLabelValues(ordered)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.lost.WithLabelValues(ordered)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.acked.WithLabelValues(ordered)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatched.WithLabelValues(netevent.Unguaranteed.String())))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.violations))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.conns))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRequestMetrics("test", reg)

	ok := Handler(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	fail := Handler(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	fail.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	r := m.(*requests)
	assert.Equal(t, float64(2), testutil.ToFloat64(r.reqCount))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.errCount))
}
