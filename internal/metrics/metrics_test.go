package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRemote("fetch", 0.1, nil)
		m.SetBreakerOpen(true)
		m.Mutation("create_sos", PathLocal)
		m.Refresh("tick")
		m.Push(nil)
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveRemote("fetch", 0.01, nil)
	m.ObserveRemote("fetch", 0.02, errors.New("boom"))
	m.ObserveRemote("upsert", 0.01, nil)
	m.Mutation("create_sos", PathRemote)
	m.Mutation("create_sos", PathLocal)
	m.Mutation("create_sos", PathLocal)
	m.Push(errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("fetch", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("fetch", ResultError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutations.WithLabelValues("create_sos", PathLocal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushes.WithLabelValues(ResultError)))
}

func TestBreakerGauge(t *testing.T) {
	m := New()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.breakerOpen))
	m.SetBreakerOpen(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerOpen))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Mutation("attribute_rescue", PathLocal)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `floodsync_mutations_total{op="attribute_rescue",path="local"} 1`)
}
