package runtime

import (
	goruntime "runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// The runtime reports the CPU time available to Go (GOMAXPROCS integrated over
// wall time) and the part of it spent idle; busy time is the difference.
const (
	cpuTotalMetric = "/cpu/classes/total:cpu-seconds"
	cpuIdleMetric  = "/cpu/classes/idle:cpu-seconds"
)

// ProcessUsage is a coarse view of the resources the service process uses.
type ProcessUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	HeapBytes   uint64  `json:"heap_bytes"`
	Goroutines  int     `json:"goroutines"`
	SampledOver string  `json:"sampled_over,omitempty"`
}

// processSampler derives CPU usage from the busy CPU time accumulated between
// two reads.
type processSampler struct {
	mu      sync.Mutex
	sample  [2]metrics.Sample
	prevCPU float64
	prevAt  time.Time
	numCPU  float64
}

func newProcessSampler() *processSampler {
	p := &processSampler{numCPU: float64(goruntime.NumCPU())}
	p.sample[0].Name = cpuTotalMetric
	p.sample[1].Name = cpuIdleMetric
	return p
}

// Sample returns the usage since the previous call. The first call reports
// zero CPU.
func (p *processSampler) Sample() ProcessUsage {
	if p == nil {
		return ProcessUsage{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var mem goruntime.MemStats
	goruntime.ReadMemStats(&mem)
	usage := ProcessUsage{
		HeapBytes:  mem.HeapAlloc,
		Goroutines: goruntime.NumGoroutine(),
	}

	metrics.Read(p.sample[:])
	if p.sample[0].Value.Kind() != metrics.KindFloat64 || p.sample[1].Value.Kind() != metrics.KindFloat64 {
		return usage
	}
	cpu := p.sample[0].Value.Float64() - p.sample[1].Value.Float64()
	now := time.Now()
	if !p.prevAt.IsZero() && p.numCPU > 0 {
		if wall := now.Sub(p.prevAt); wall > 0 {
			usage.CPUPercent = max(0, (cpu-p.prevCPU)/wall.Seconds()/p.numCPU*100)
			usage.SampledOver = wall.Round(time.Millisecond).String()
		}
	}
	p.prevCPU, p.prevAt = cpu, now
	return usage
}
