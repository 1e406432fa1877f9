package tenancy

// Outcome labels reported to Metrics
const (
	OutcomeSuccess  = "success"
	OutcomeExisting = "existing"
	OutcomeConflict = "conflict"
	OutcomeFailure  = "failure"
	OutcomeNotFound = "not_found"
	OutcomeCacheHit = "cache_hit"
)

// Metrics receives counters from the tenancy components. The prometheus
// implementation lives in the metrics package.
type Metrics interface {
	ObserveProvision(outcome string)
	ObserveLogin(mode LoginMode, outcome string)
	ObserveSlugResolution(outcome string)
	ObserveSessionState(state SessionState)
	ObserveForcedSignOut()
}

type noopMetrics struct{}

func (noopMetrics) ObserveProvision(string)          {}
func (noopMetrics) ObserveLogin(LoginMode, string)   {}
func (noopMetrics) ObserveSlugResolution(string)     {}
func (noopMetrics) ObserveSessionState(SessionState) {}
func (noopMetrics) ObserveForcedSignOut()            {}

// NoopMetrics discards every observation
func NoopMetrics() Metrics { return noopMetrics{} }

func normalizeMetrics(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
