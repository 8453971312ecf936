package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := New(reg)
	second := New(reg)

	first.Fetches.WithLabelValues("cache-first", OutcomeCacheHit).Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.Fetches.WithLabelValues("cache-first", OutcomeCacheHit)))
}

func TestSetState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetState("v1", "installing")
	m.SetState("v1", "activated")

	assert.Equal(t, 1, testutil.CollectAndCount(m.WorkerState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerState.WithLabelValues("v1", "activated")))
}
