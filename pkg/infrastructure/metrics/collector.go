// Package metrics provides metrics collection for the gateway.
package metrics

import (
	"time"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer for measuring duration.
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

// IncrementCounter does nothing.
func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

// RecordHistogram does nothing.
func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

// RecordGauge does nothing.
func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that only measures.
func (n *NoOpCollector) StartTimer(name string) Timer {
	return &noOpTimer{start: time.Now()}
}

type noOpTimer struct {
	start time.Time
}

// Stop returns the elapsed time in seconds.
func (t *noOpTimer) Stop() float64 {
	return time.Since(t.start).Seconds()
}

// PoolCollector reports connection pool measurements for one alias through
// a Collector.
type PoolCollector struct {
	collector Collector
	alias     string
}

// NewPoolCollector creates a PoolCollector.
func NewPoolCollector(collector Collector, alias string) *PoolCollector {
	return &PoolCollector{collector: collector, alias: alias}
}

// RecordConnectionAcquisition records how long a checkout waited.
func (p *PoolCollector) RecordConnectionAcquisition(d time.Duration) {
	p.collector.RecordHistogram("pool_acquire_seconds", d.Seconds(), "db", p.alias)
}

// UpdateActiveConnections records connections in use.
func (p *PoolCollector) UpdateActiveConnections(count int) {
	p.collector.RecordGauge("pool_in_use_connections", float64(count), "db", p.alias)
}

// IncrementCircuitBreakerTrip counts breaker trips.
func (p *PoolCollector) IncrementCircuitBreakerTrip() {
	p.collector.IncrementCounter("pool_circuit_breaker_trips_total", "db", p.alias)
}
