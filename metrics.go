package raktr

import (
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/qadron/raktr/pkg/system"
)

// reportMemoryEvery controls how often the loop samples process memory
// into the metrics registry. Sampling happens inline on the loop thread,
// so it is kept coarse to avoid perturbing tick latency.
const reportMemoryEvery = 5 * time.Second

// memSampler periodically records runtime.MemStats.Sys into a go-metrics
// gauge, grounded on the teacher's pkg/system.GetMem helper.
type memSampler struct {
	gauge    metrics.Gauge
	lastSamp time.Time
}

func newMemSampler(reg metrics.Registry) *memSampler {
	return &memSampler{gauge: metrics.GetOrRegisterGauge("raktr.memory.sys_bytes", reg)}
}

func (m *memSampler) maybeSample(now time.Time) {
	if !m.lastSamp.IsZero() && now.Sub(m.lastSamp) < reportMemoryEvery {
		return
	}
	m.lastSamp = now
	m.gauge.Update(int64(system.GetMem()))
}
