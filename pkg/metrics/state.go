package metrics

import "github.com/prometheus/client_golang/prometheus"

const stateSubsystem = "state"

// Packer process states reported by SetState.
const (
	StateStarting int32 = iota
	StateReady
	StateStopping
)

type stateMetrics struct {
	state prometheus.Gauge
}

func newStateMetrics() stateMetrics {
	return stateMetrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: stateSubsystem,
			Name:      "health",
			Help:      "Current packer process state",
		}),
	}
}

func (m stateMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.state)
}

// SetState updates process state gauge.
func (m stateMetrics) SetState(s int32) {
	m.state.Set(float64(s))
}
