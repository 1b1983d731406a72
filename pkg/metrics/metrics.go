package metrics

import (
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/packer"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace       = "smallfiles"
	packerSubsystem = "packer"

	groupLabelKey   = "group"
	outcomeLabelKey = "outcome"
	modeLabelKey    = "mode"
	resultLabelKey  = "result"
)

// PackerMetrics is a packer.Metrics implementation on Prometheus
// collectors.
type PackerMetrics struct {
	stateMetrics

	packedFiles *prometheus.CounterVec
	packedBytes *prometheus.CounterVec
	containers  *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	prefetched  *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

var _ packer.Metrics = (*PackerMetrics)(nil)

// NewPackerMetrics creates packer metrics and registers them together
// with the version gauge in reg. Panics on registration failure.
func NewPackerMetrics(reg prometheus.Registerer, version string) *PackerMetrics {
	m := &PackerMetrics{
		stateMetrics: newStateMetrics(),
		packedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: packerSubsystem,
			Name:      "packed_files_total",
			Help:      "Number of files packed into archived containers",
		}, []string{groupLabelKey}),
		packedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: packerSubsystem,
			Name:      "packed_bytes_total",
			Help:      "Size of files packed into archived containers",
		}, []string{groupLabelKey}),
		containers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: packerSubsystem,
			Name:      "containers_total",
			Help:      "Number of finished containers by outcome",
		}, []string{groupLabelKey, outcomeLabelKey}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: packerSubsystem,
			Name:      "dropped_records_total",
			Help:      "Number of records removed because their files were unreadable",
		}, []string{groupLabelKey}),
		prefetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: packerSubsystem,
			Name:      "prefetched_files_total",
			Help:      "Number of files opened ahead of packing by result",
		}, []string{groupLabelKey, resultLabelKey}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: packerSubsystem,
			Name:      "run_duration_seconds",
			Help:      "Group packing run duration",
			Buckets:   []float64{.1, 1, 10, 60, 300, 900, 3600, 4 * 3600},
		}, []string{groupLabelKey, modeLabelKey}),
	}

	reg.MustRegister(m.packedFiles, m.packedBytes, m.containers, m.dropped, m.prefetched, m.runDuration)
	m.stateMetrics.register(reg)
	registerVersionMetric(reg, namespace, version)

	return m
}

// AddPackedFiles implements packer.Metrics.
func (m *PackerMetrics) AddPackedFiles(group string, files int, size uint64) {
	m.packedFiles.WithLabelValues(group).Add(float64(files))
	m.packedBytes.WithLabelValues(group).Add(float64(size))
}

// IncContainers implements packer.Metrics.
func (m *PackerMetrics) IncContainers(group string, outcome string) {
	m.containers.WithLabelValues(group, outcome).Inc()
}

// IncDroppedRecords implements packer.Metrics.
func (m *PackerMetrics) IncDroppedRecords(group string) {
	m.dropped.WithLabelValues(group).Inc()
}

// AddPrefetched implements packer.Metrics.
func (m *PackerMetrics) AddPrefetched(group string, opened, failed uint64) {
	m.prefetched.WithLabelValues(group, "opened").Add(float64(opened))
	m.prefetched.WithLabelValues(group, "failed").Add(float64(failed))
}

// ObserveRun implements packer.Metrics.
func (m *PackerMetrics) ObserveRun(group string, mode packer.Mode, d time.Duration) {
	m.runDuration.WithLabelValues(group, mode.String()).Observe(d.Seconds())
}
