// Package metrics holds the Prometheus collectors of silo.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type siloMetrics struct {
	once sync.Once

	builds        *prometheus.CounterVec
	dynamicCalls  *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
}

var m siloMetrics

func (s *siloMetrics) init() {
	s.once.Do(func() {
		s.builds = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silo_manager_builds_total",
			Help: "Managers built, by kind",
		}, []string{"kind"})
		s.dynamicCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silo_repository_dynamic_calls_total",
			Help: "Dynamic repository calls, by supporting method",
		}, []string{"method"})
		s.flushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "silo_flush_duration_seconds",
			Help:    "Duration of manager flushes, by kind",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"})

		prometheus.MustRegister(s.builds, s.dynamicCalls, s.flushDuration)
	})
}

// ManagerBuilt counts a manager construction.
func ManagerBuilt(kind string) { m.init(); m.builds.WithLabelValues(kind).Inc() }

// DynamicCall counts a dynamic repository call resolved to method.
func DynamicCall(method string) { m.init(); m.dynamicCalls.WithLabelValues(method).Inc() }

// ObserveFlush records the duration of a flush started at start.
func ObserveFlush(kind string, start time.Time) {
	m.init()
	m.flushDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Builds returns the builds counter.
func Builds() *prometheus.CounterVec { m.init(); return m.builds }

// DynamicCalls returns the dynamic calls counter.
func DynamicCalls() *prometheus.CounterVec { m.init(); return m.dynamicCalls }

// FlushDuration returns the flush duration histogram.
func FlushDuration() *prometheus.HistogramVec { m.init(); return m.flushDuration }

// Gather collects the silo metric families from the default registry.
func Gather() (map[string]float64, error) {
	m.init()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, "silo_") {
			continue
		}
		for _, metric := range mf.GetMetric() {
			key := name
			for _, lp := range metric.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				out[key+"_count"] = float64(metric.GetHistogram().GetSampleCount())
				out[key+"_sum"] = metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return out, nil
}
