package sched

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// LoadProber samples system load for the idle window check.
type LoadProber interface {
	Sample() LoadSnapshot
}

// SystemProber reads CPU and memory utilization from the host. Probe failures
// report full load so the idle check fails closed.
type SystemProber struct{}

func (SystemProber) Sample() LoadSnapshot {
	snap := LoadSnapshot{CPUPercent: 100, MemoryPercent: 100}

	if pcts, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	} else {
		log.Warn().Err(err).Msg("cpu probe failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	} else {
		log.Warn().Err(err).Msg("memory probe failed")
	}

	return snap
}

// StaticProber returns a fixed snapshot. Used in tests and when load probing
// is disabled.
type StaticProber struct {
	Snapshot LoadSnapshot
}

func (p StaticProber) Sample() LoadSnapshot { return p.Snapshot }
