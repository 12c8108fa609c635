// Package metrics is a small in-process registry of counters, gauges and
// timers, served as JSON on /metrics.
package metrics

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
	Gauge   MetricType = "gauge"
)

// sampleWindow is how many recent timer samples feed the percentiles.
const sampleWindow = 1000

// minPercentileSamples is the sample count below which percentiles are
// omitted.
const minPercentileSamples = 10

// Metric represents a single metric with its metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// TimerMetric summarizes recorded durations in milliseconds.
type TimerMetric struct {
	Name    string            `json:"name"`
	Labels  map[string]string `json:"labels,omitempty"`
	Count   int64             `json:"count"`
	Sum     float64           `json:"sum_ms"`
	Min     float64           `json:"min_ms"`
	Max     float64           `json:"max_ms"`
	Average float64           `json:"avg_ms"`
	P95     float64           `json:"p95_ms,omitempty"`
	P99     float64           `json:"p99_ms,omitempty"`
}

type timerState struct {
	TimerMetric
	samples []float64
	next    int
}

func (t *timerState) observe(ms float64) {
	if t.Count == 0 || ms < t.Min {
		t.Min = ms
	}
	if ms > t.Max {
		t.Max = ms
	}
	t.Count++
	t.Sum += ms

	if len(t.samples) < sampleWindow {
		t.samples = append(t.samples, ms)
		return
	}
	t.samples[t.next] = ms
	t.next = (t.next + 1) % sampleWindow
}

func (t *timerState) summary() TimerMetric {
	out := t.TimerMetric
	out.Labels = copyLabels(t.Labels)
	if out.Count > 0 {
		out.Average = out.Sum / float64(out.Count)
	}
	if len(t.samples) >= minPercentileSamples {
		sorted := slices.Clone(t.samples)
		sort.Float64s(sorted)
		out.P95 = percentile(sorted, 0.95)
		out.P99 = percentile(sorted, 0.99)
	}
	return out
}

// Registry holds every metric in memory. The zero value is not usable;
// call NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	gauges    map[string]*Metric
	timers    map[string]*timerState
	startTime time.Time
	now       func() time.Time
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	r.Reset()
	return r
}

// Reset drops every metric and restarts the uptime clock.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters = make(map[string]*Metric)
	r.gauges = make(map[string]*Metric)
	r.timers = make(map[string]*timerState)
	r.startTime = r.now()
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

// IncrementCounter increments a counter metric
func (r *Registry) IncrementCounter(name string, labels map[string]string, description string) {
	r.AddToCounter(name, 1, labels, description)
}

// AddToCounter adds value to a counter.
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(r.counters, Counter, name, value, labels, description)
}

// SetGauge sets a gauge metric value
func (r *Registry) SetGauge(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.entry(r.gauges, Gauge, name, labels, description)
	m.Value = value
}

// AddToGauge moves a gauge up or down by delta.
func (r *Registry) AddToGauge(name string, delta float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(r.gauges, Gauge, name, delta, labels, description)
}

func (r *Registry) add(set map[string]*Metric, kind MetricType, name string, delta float64, labels map[string]string, description string) {
	m := r.entry(set, kind, name, labels, description)
	m.Value += delta
}

// entry returns the metric for name and labels, creating it on first use.
// Callers hold r.mu.
func (r *Registry) entry(set map[string]*Metric, kind MetricType, name string, labels map[string]string, description string) *Metric {
	key := metricKey(name, labels)
	m, ok := set[key]
	if !ok {
		m = &Metric{
			Name:        name,
			Type:        kind,
			Labels:      copyLabels(labels),
			Description: description,
		}
		set[key] = m
	}
	m.LastUpdate = r.now()
	return m
}

// RecordTimer records a timing measurement
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	t, ok := r.timers[key]
	if !ok {
		t = &timerState{TimerMetric: TimerMetric{Name: name, Labels: copyLabels(labels)}}
		r.timers[key] = t
	}
	t.observe(float64(duration) / float64(time.Millisecond))
}

// Snapshot is a point-in-time copy of the registry
type Snapshot struct {
	Counters  map[string]*Metric      `json:"counters"`
	Timers    map[string]*TimerMetric `json:"timers"`
	Gauges    map[string]*Metric      `json:"gauges"`
	UptimeMs  int64                   `json:"uptime_ms"`
	Timestamp int64                   `json:"timestamp"`
}

// GetAllMetrics returns a copy of every metric; later updates do not show
// through it.
func (r *Registry) GetAllMetrics() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	result := Snapshot{
		Counters:  copyMetrics(r.counters),
		Gauges:    copyMetrics(r.gauges),
		Timers:    make(map[string]*TimerMetric, len(r.timers)),
		UptimeMs:  now.Sub(r.startTime).Milliseconds(),
		Timestamp: now.Unix(),
	}
	for key, t := range r.timers {
		summary := t.summary()
		result.Timers[key] = &summary
	}
	return result
}

// CounterValue returns the current value of a counter, or zero if it was
// never incremented.
func (r *Registry) CounterValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if counter, ok := r.counters[metricKey(name, labels)]; ok {
		return counter.Value
	}
	return 0
}

// GaugeValue returns the last value set on a gauge.
func (r *Registry) GaugeValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if gauge, ok := r.gauges[metricKey(name, labels)]; ok {
		return gauge.Value
	}
	return 0
}

// TimerCount returns how many samples a timer has recorded.
func (r *Registry) TimerCount(name string, labels map[string]string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if timer, ok := r.timers[metricKey(name, labels)]; ok {
		return timer.Count
	}
	return 0
}

// metricKey renders name{k1=v1,k2=v2} with label names sorted.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range slices.Sorted(maps.Keys(labels)) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// percentile picks the nearest-rank value from sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func copyMetrics(src map[string]*Metric) map[string]*Metric {
	out := make(map[string]*Metric, len(src))
	for key, m := range src {
		c := *m
		c.Labels = copyLabels(m.Labels)
		out[key] = &c
	}
	return out
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	return maps.Clone(labels)
}

// IncrementCounter increments a counter in the global registry
func IncrementCounter(name string, labels map[string]string, description string) {
	globalRegistry.IncrementCounter(name, labels, description)
}

// AddToCounter adds to a counter in the global registry
func AddToCounter(name string, value float64, labels map[string]string, description string) {
	globalRegistry.AddToCounter(name, value, labels, description)
}

// RecordTimer records timing in the global registry
func RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	globalRegistry.RecordTimer(name, duration, labels, description)
}

// SetGauge sets a gauge in the global registry
func SetGauge(name string, value float64, labels map[string]string, description string) {
	globalRegistry.SetGauge(name, value, labels, description)
}

// AddToGauge moves a gauge in the global registry
func AddToGauge(name string, delta float64, labels map[string]string, description string) {
	globalRegistry.AddToGauge(name, delta, labels, description)
}

// GetAllMetrics returns all metrics from the global registry
func GetAllMetrics() Snapshot {
	return globalRegistry.GetAllMetrics()
}

// CounterValue reads a counter from the global registry
func CounterValue(name string, labels map[string]string) float64 {
	return globalRegistry.CounterValue(name, labels)
}

// GaugeValue reads a gauge from the global registry
func GaugeValue(name string, labels map[string]string) float64 {
	return globalRegistry.GaugeValue(name, labels)
}
