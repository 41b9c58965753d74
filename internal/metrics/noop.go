package metrics

import "net/http"

type noopBackend struct{}

func (noopBackend) Counter(string, string) Counter { return noopMeter{} }

func (noopBackend) CounterVec(string, string, []string) CounterVec { return noopMeter{} }

func (noopBackend) Gauge(string, string) Gauge { return noopMeter{} }

func (noopBackend) HistogramVec(string, string, []string, []float64) HistogramVec {
	return noopMeter{}
}

func (noopBackend) Handler() http.Handler { return nil }

type noopMeter struct{}

func (noopMeter) Add(float64) {}

func (noopMeter) Set(float64) {}

func (noopMeter) AddWithLabels(float64, map[string]string) {}

func (noopMeter) ObserveWithLabels(float64, map[string]string) {}
