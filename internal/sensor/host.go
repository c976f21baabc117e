package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Host samples the machine the node runs on: CPU utilisation, memory
// use and, where the platform exposes them, temperature sensors.
type Host struct {
	cpuPercent  func(ctx context.Context) ([]float64, error)
	memory      func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	temperature func(ctx context.Context) ([]host.TemperatureStat, error)
	now         func() time.Time
}

// NewHost returns a gopsutil-backed host sensor.
func NewHost() *Host {
	return &Host{
		cpuPercent: func(ctx context.Context) ([]float64, error) {
			// Zero interval compares against the previous call.
			return cpu.PercentWithContext(ctx, 0, false)
		},
		memory:      mem.VirtualMemoryWithContext,
		temperature: host.SensorsTemperaturesWithContext,
		now:         time.Now,
	}
}

// Init primes the CPU counters so the first Read reports a real delta.
func (h *Host) Init(ctx context.Context) error {
	if _, err := h.cpuPercent(ctx); err != nil {
		return fmt.Errorf("host sensor init: %w", err)
	}
	return nil
}

// Read samples CPU and memory. Temperatures are best-effort: most
// containers and VMs expose none, so their absence is not an error.
func (h *Host) Read(ctx context.Context) (Reading, error) {
	r := Reading{Time: h.now(), Values: make(map[string]float64)}

	pct, err := h.cpuPercent(ctx)
	if err != nil {
		return r, fmt.Errorf("read cpu: %w", err)
	}
	if len(pct) > 0 {
		r.Values["cpu_percent"] = pct[0]
	}

	vm, err := h.memory(ctx)
	if err != nil {
		return r, fmt.Errorf("read memory: %w", err)
	}
	r.Values["mem_used_percent"] = vm.UsedPercent
	r.Values["mem_used_bytes"] = float64(vm.Used)

	if temps, err := h.temperature(ctx); err == nil {
		for _, t := range temps {
			if t.Temperature > 0 {
				r.Values["temp_"+t.SensorKey] = t.Temperature
			}
		}
	}

	return r, nil
}
