package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observation struct {
	kind   string
	name   string
	value  float64
	labels []string
}

type recordingCollector struct {
	NoOpCollector
	seen []observation
}

func (c *recordingCollector) IncrementCounter(name string, labels ...string) {
	c.seen = append(c.seen, observation{"counter", name, 1, labels})
}

func (c *recordingCollector) RecordHistogram(name string, value float64, labels ...string) {
	c.seen = append(c.seen, observation{"histogram", name, value, labels})
}

func (c *recordingCollector) RecordGauge(name string, value float64, labels ...string) {
	c.seen = append(c.seen, observation{"gauge", name, value, labels})
}

func TestPoolCollector_LabelsEveryMeasurementWithAlias(t *testing.T) {
	tests := []struct {
		name   string
		record func(p *PoolCollector)
		want   observation
	}{
		{
			name:   "acquire wait",
			record: func(p *PoolCollector) { p.RecordConnectionAcquisition(250 * time.Millisecond) },
			want:   observation{"histogram", "pool_acquire_seconds", 0.25, []string{"db", "orders"}},
		},
		{
			name:   "connections in use",
			record: func(p *PoolCollector) { p.UpdateActiveConnections(7) },
			want:   observation{"gauge", "pool_in_use_connections", 7, []string{"db", "orders"}},
		},
		{
			name:   "breaker trip",
			record: func(p *PoolCollector) { p.IncrementCircuitBreakerTrip() },
			want:   observation{"counter", "pool_circuit_breaker_trips_total", 1, []string{"db", "orders"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingCollector{}
			tt.record(NewPoolCollector(rec, "orders"))
			require.Len(t, rec.seen, 1)
			assert.Equal(t, tt.want, rec.seen[0])
		})
	}
}

func TestPoolCollector_OverNoOp(t *testing.T) {
	p := NewPoolCollector(NewNoOpCollector(), "cache")
	assert.NotPanics(t, func() {
		p.RecordConnectionAcquisition(time.Millisecond)
		p.UpdateActiveConnections(1)
		p.IncrementCircuitBreakerTrip()
	})
}

func TestNoOpCollector_TimerMeasures(t *testing.T) {
	timer := NewNoOpCollector().StartTimer("query_duration_seconds")
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), 0.005)
}
