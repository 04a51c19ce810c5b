package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry)

	labels := map[string]string{"scheme": "exact", "network": "eip155:8453"}
	recorder.IncCounter("verify_success", labels)
	recorder.IncCounter("verify_success", labels)
	recorder.IncCounter("settle_failure", labels)
	recorder.ObserveLatency("verify", 25*time.Millisecond, labels)

	families, err := registry.Gather()
	require.NoError(t, err)

	counts := make(map[string]float64)
	var observations uint64
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetName() {
			case "t402_events_total":
				for _, l := range m.GetLabel() {
					if l.GetName() == "type" {
						counts[l.GetValue()] = m.GetCounter().GetValue()
					}
				}
			case "t402_latency_seconds":
				observations += m.GetHistogram().GetSampleCount()
			}
		}
	}

	assert.Equal(t, 2.0, counts["verify_success"])
	assert.Equal(t, 1.0, counts["settle_failure"])
	assert.Equal(t, uint64(1), observations)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncCounter("verify_success", nil)
	r.ObserveLatency("verify", time.Millisecond, nil)
}
