// Package stats provides a minimal metrics interface over go-metrics so the
// rest of the engine never references the metrics library directly. Receivers
// are scoped hierarchically; a nil receiver is available for callers that
// don't care about metrics.
package stats

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// StatsReceiver is the registration/update surface handed to engine
// components.
type StatsReceiver interface {
	// Scope returns a receiver prefixed with the given scope elements.
	Scope(scope ...string) StatsReceiver

	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	Latency(name ...string) Latency

	// Render returns the current metrics as JSON, for diagnostics.
	Render() []byte
}

type Counter interface {
	Inc(int64)
	Count() int64
}

type Gauge interface {
	Update(int64)
	Value() int64
}

type Latency interface {
	Time() func()
	UpdateSince(time.Time)
}

// DefaultStatsReceiver returns a receiver backed by a fresh go-metrics
// registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

type defaultStatsReceiver struct {
	mu       sync.Mutex
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewCounter).(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewGauge).(metrics.Gauge)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &metricLatency{s.registry.GetOrRegister(s.scopedName(name...), metrics.NewTimer).(metrics.Timer)}
}

func (s *defaultStatsReceiver) Render() []byte {
	out := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Gauge:
			out[name] = m.Value()
		case metrics.Timer:
			out[name] = map[string]interface{}{
				"count":   m.Count(),
				"mean_ms": m.Mean() / float64(time.Millisecond),
				"max_ms":  float64(m.Max()) / float64(time.Millisecond),
			}
		}
	})
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return []byte{}
	}
	return b
}

func (s *defaultStatsReceiver) scopedName(name ...string) string {
	return strings.Join(append(append([]string{}, s.scope...), name...), "/")
}

type metricLatency struct {
	metrics.Timer
}

func (l *metricLatency) Time() func() {
	start := time.Now()
	return func() { l.Timer.UpdateSince(start) }
}

func (l *metricLatency) UpdateSince(t time.Time) { l.Timer.UpdateSince(t) }

// NilStatsReceiver discards everything.
func NilStatsReceiver() StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter      { return &nilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge          { return &nilGauge{} }
func (s *nilStatsReceiver) Latency(name ...string) Latency      { return &nilLatency{} }
func (s *nilStatsReceiver) Render() []byte                      { return []byte{} }

type nilCounter struct{}

func (c *nilCounter) Inc(int64)    {}
func (c *nilCounter) Count() int64 { return 0 }

type nilGauge struct{}

func (g *nilGauge) Update(int64) {}
func (g *nilGauge) Value() int64 { return 0 }

type nilLatency struct{}

func (l *nilLatency) Time() func()          { return func() {} }
func (l *nilLatency) UpdateSince(time.Time) {}
