// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package tracegen generates random task execution traces for property-based
// tests. Sizes and durations are drawn from biased ranges so that rapid
// explores both typical values and the boundaries.
package tracegen

import (
	"fmt"

	"github.com/petenewcomb/wfsim"
	"pgregory.net/rapid"
)

var DefaultConfig = Config{
	Length:         Biased[int]{Lo: 0, Typical: 10, Hi: 50},
	Attempts:       Biased[int]{Lo: 1, Typical: 1, Hi: 4},
	Cores:          Biased[int]{Lo: 1, Typical: 2, Hi: 64},
	Bytes:          Biased[int]{Lo: 0, Typical: 1 << 20, Hi: 1 << 30},
	PhaseSeconds:   Biased[float64]{Lo: 0, Typical: 5, Hi: 3600},
	ZeroIO:         Chance(0.1),
	GapSeconds:     Biased[float64]{Lo: 0, Typical: 0.5, Hi: 60},
	HostNamePrefix: "Node",
	HostCount:      Biased[int]{Lo: 1, Typical: 3, Hi: 8},
}

type Config struct {
	Length         Biased[int]
	Attempts       Biased[int]
	Cores          Biased[int]
	Bytes          Biased[int]
	PhaseSeconds   Biased[float64]
	ZeroIO         Chance
	GapSeconds     Biased[float64]
	HostNamePrefix string
	HostCount      Biased[int]
}

// Biased is a closed range [Lo, Hi] whose draws cluster around Typical as
// well as at both ends.
type Biased[T int | float64] struct {
	Lo      T
	Typical T
	Hi      T
}

// Draw returns a value in [Lo, Hi]. It panics if Typical lies outside the
// range.
func (b Biased[T]) Draw(t *rapid.T, label string) T {
	if b.Typical < b.Lo || b.Hi < b.Typical {
		panic(fmt.Sprintf("tracegen: %s: typical value %v outside [%v, %v]", label, b.Typical, b.Lo, b.Hi))
	}
	// rapid favors zero and the bounds, so draw an offset from Typical.
	lo, hi := b.Lo-b.Typical, b.Hi-b.Typical
	var offset T
	switch any(offset).(type) {
	case int:
		offset = T(rapid.IntRange(int(lo), int(hi)).Draw(t, label))
	case float64:
		offset = T(rapid.Float64Range(float64(lo), float64(hi)).Draw(t, label))
	}
	return b.Typical + offset
}

// Chance is the probability that a drawn flag is set.
type Chance float64

func (c Chance) Draw(t *rapid.T, label string) bool {
	switch {
	case c <= 0:
		return false
	case c >= 1:
		return true
	}
	return rapid.Float64Range(0, 1).Draw(t, label) < float64(c)
}

// NewTrace draws a trace whose records satisfy the invariants a simulation
// engine guarantees: at least one attempt per record and monotonically
// non-decreasing timestamps within every attempt.
func NewTrace(t *rapid.T, config *Config) []wfsim.TaskExecutionRecord {
	length := config.Length.Draw(t, "Trace.Length")
	hostCount := config.HostCount.Draw(t, "Trace.HostCount")
	trace := make([]wfsim.TaskExecutionRecord, length)
	var clock float64
	for i := range trace {
		name := fmt.Sprintf("Task#%d", i)
		rec := &trace[i]
		rec.TaskID = name
		rec.BytesRead = uint64(config.Bytes.Draw(t, name+".BytesRead"))
		rec.BytesWritten = uint64(config.Bytes.Draw(t, name+".BytesWritten"))
		rec.CoresAllocated = config.Cores.Draw(t, name+".Cores")
		attempts := config.Attempts.Draw(t, name+".Attempts")
		for a := range attempts {
			attemptName := fmt.Sprintf("%s.Attempt#%d", name, a)
			attempt := NewAttempt(t, config, attemptName, clock)
			attempt.Host = fmt.Sprintf("%s%d",
				config.HostNamePrefix, rapid.IntRange(1, hostCount).Draw(t, attemptName+".Host"))
			attempt.Failed = a < attempts-1
			rec.PushAttempt(attempt)
			clock = attempt.WriteOutputEnd
		}
	}
	return trace
}

// NewAttempt draws one attempt starting no earlier than start.
func NewAttempt(t *rapid.T, config *Config, name string, start float64) wfsim.ExecutionAttempt {
	var a wfsim.ExecutionAttempt
	zeroIO := config.ZeroIO.Draw(t, name+".ZeroIO")
	phase := func(phaseName string, io bool) float64 {
		if io && zeroIO {
			return 0
		}
		return config.PhaseSeconds.Draw(t, name+"."+phaseName)
	}
	a.ReadInputStart = start + config.GapSeconds.Draw(t, name+".Gap")
	a.ReadInputEnd = a.ReadInputStart + phase("Read", true)
	a.ComputationStart = a.ReadInputEnd
	a.ComputationEnd = a.ComputationStart + phase("Compute", false)
	a.WriteOutputStart = a.ComputationEnd
	a.WriteOutputEnd = a.WriteOutputStart + phase("Write", true)
	return a
}
