package metrics_test

import (
	"testing"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/metrics"
	"github.com/nspcc-dev/smallfiles/pkg/packer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewPackerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	var m *metrics.PackerMetrics
	require.NotPanics(t, func() {
		m = metrics.NewPackerMetrics(reg, "any_version")
	})

	require.Panics(t, func() {
		metrics.NewPackerMetrics(reg, "any_version")
	})

	m.SetState(metrics.StateReady)
	m.AddPackedFiles("exp", 3, 1200)
	m.IncContainers("exp", packer.OutcomeArchived)
	m.IncContainers("exp", packer.OutcomeRejected)
	m.IncDroppedRecords("exp")
	m.AddPrefetched("exp", 4, 1)
	m.ObserveRun("exp", packer.ModeNormal, time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]int)
	for _, f := range families {
		values[f.GetName()] = len(f.GetMetric())
	}

	require.Equal(t, map[string]int{
		"smallfiles_version":                       1,
		"smallfiles_state_health":                  1,
		"smallfiles_packer_packed_files_total":     1,
		"smallfiles_packer_packed_bytes_total":     1,
		"smallfiles_packer_containers_total":       2,
		"smallfiles_packer_dropped_records_total":  1,
		"smallfiles_packer_prefetched_files_total": 2,
		"smallfiles_packer_run_duration_seconds":   1,
	}, values)

	n, err := testutil.GatherAndCount(reg, "smallfiles_packer_containers_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
