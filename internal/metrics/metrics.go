// Package metrics exposes staking and RPC counters. It defaults to a no-op
// backend; InitializePrometheus switches every meter to Prometheus.
package metrics

import (
	"net/http"
	"sync"
)

var (
	mu      sync.RWMutex
	backend Backend = noopBackend{}
)

// Backend creates meters. Meters with the same name are shared.
type Backend interface {
	Counter(name, help string) Counter
	CounterVec(name, help string, labels []string) CounterVec
	Gauge(name, help string) Gauge
	HistogramVec(name, help string, labels []string, buckets []float64) HistogramVec
	Handler() http.Handler
}

// Counter only goes up.
type Counter interface {
	Add(float64)
}

// CounterVec is a Counter partitioned by label values.
type CounterVec interface {
	AddWithLabels(float64, map[string]string)
}

// Gauge can go up and down.
type Gauge interface {
	Set(float64)
	Add(float64)
}

// HistogramVec records observations partitioned by label values.
type HistogramVec interface {
	ObserveWithLabels(float64, map[string]string)
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Handler returns the HTTP handler that serves the metrics, or nil when
// metrics are disabled.
func Handler() http.Handler {
	return current().Handler()
}

// lazy defers meter creation until first use, so package-level meters can
// be declared before the backend is chosen.
func lazy[T any](f func() T) func() T {
	var (
		once   sync.Once
		result T
	)
	return func() T {
		once.Do(func() { result = f() })
		return result
	}
}

// Staking and RPC meters.
var (
	operations = lazy(func() CounterVec {
		return current().CounterVec("operations_total", "Staking operations by type and result.", []string{"op", "result"})
	})
	rewardsPaid = lazy(func() Counter {
		return current().Counter("rewards_paid_total", "Reward tokens paid out, in whole tokens.")
	})
	stakers = lazy(func() Gauge {
		return current().Gauge("stakers", "Accounts with an open stake.")
	})
	paramsVersion = lazy(func() Gauge {
		return current().Gauge("params_version", "Version of the active pool parameters.")
	})
	rpcRequests = lazy(func() CounterVec {
		return current().CounterVec("rpc_requests_total", "JSON-RPC requests by method and outcome.", []string{"method", "result"})
	})
	rpcDuration = lazy(func() HistogramVec {
		return current().HistogramVec("rpc_duration_seconds", "JSON-RPC handling latency.", []string{"method"},
			[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1})
	})
)

// Operation counts one engine operation.
func Operation(op, result string) {
	operations().AddWithLabels(1, map[string]string{"op": op, "result": result})
}

// RewardPaid adds a payout, already converted to whole tokens.
func RewardPaid(tokens float64) {
	rewardsPaid().Add(tokens)
}

// AdjustStakers moves the staker gauge by delta.
func AdjustStakers(delta int) {
	stakers().Add(float64(delta))
}

// SetStakers sets the staker gauge.
func SetStakers(n int) {
	stakers().Set(float64(n))
}

// SetParamsVersion records the active parameter version.
func SetParamsVersion(v uint64) {
	paramsVersion().Set(float64(v))
}

// RPCRequest records one JSON-RPC call.
func RPCRequest(method, result string, seconds float64) {
	rpcRequests().AddWithLabels(1, map[string]string{"method": method, "result": result})
	rpcDuration().ObserveWithLabels(seconds, map[string]string{"method": method})
}
