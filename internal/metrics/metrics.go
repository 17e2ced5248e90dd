// Package metrics defines the minimal instrumentation seam the loader
// depends on. Backends live in subpackages; the engine never imports a
// vendor SDK.
package metrics

// Labels tag a single observation.
type Labels map[string]string

// Backend receives loader metrics. Implementations must be safe for
// concurrent use; the loader calls from every worker.
type Backend interface {
	// IncCounter adds delta to a named counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a named distribution.
	ObserveHistogram(name string, value float64, labels Labels)

	// Close flushes anything buffered and releases backend resources.
	Close() error
}

// Metric names emitted by the loader.
const (
	StageTotal           = "load_stage_total"
	RecordsTotal         = "load_records_total"
	BatchesTotal         = "load_batches_total"
	StageDurationSeconds = "load_stage_duration_seconds"
)

// Nop discards everything. The default when no backend is configured.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Close() error                             { return nil }

var _ Backend = Nop{}
