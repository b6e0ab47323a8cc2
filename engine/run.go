// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package engine

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/addrummond/heap"
	"github.com/petenewcomb/wfsim"
	"go.uber.org/zap"
)

type event struct {
	Time float64
	// Seq breaks ties between simultaneous events in scheduling order, which
	// keeps runs deterministic.
	Seq  uint64
	Func func()
}

func (a *event) Cmp(b *event) int {
	if c := cmp.Compare(a.Time, b.Time); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

type job struct {
	task     *Task
	service  *computeService
	attempts []wfsim.ExecutionAttempt
}

type meter struct {
	host   *Host
	busy   int
	last   float64
	joules float64
}

func (m *meter) power() float64 {
	busy := min(m.busy, m.host.Cores)
	return m.host.WattageIdle + (m.host.WattageFull-m.host.WattageIdle)*float64(busy)/float64(m.host.Cores)
}

func (m *meter) advance(t float64) {
	m.joules += m.power() * (t - m.last)
	m.last = t
}

type run struct {
	s       *Simulation
	logger  *zap.Logger
	rng     *rand.Rand
	now     float64
	seq     uint64
	events  heap.Heap[event, heap.Min]
	waiting map[*Task]int
	meters  map[*Host]*meter
	done    int
	err     error
}

// Launch runs the simulation to completion. It returns the first run-time
// error, or ctx's error if ctx is done before the workflow completes. A
// simulation can only be launched once.
func (s *Simulation) Launch(ctx context.Context) error {
	if err := s.checkPlatform("launching"); err != nil {
		return err
	}
	if s.workflow == nil || s.storage == nil || s.controller == nil || s.registry == nil {
		return fmt.Errorf("%w: launching requires a workflow, a storage service, an execution controller and a file registry",
			ErrOutOfOrder)
	}
	s.launched = true

	r := &run{
		s:       s,
		logger:  s.logger,
		rng:     rand.New(rand.NewPCG(s.opts.Seed, s.opts.Seed^0x9e3779b97f4a7c15)),
		waiting: make(map[*Task]int, len(s.workflow.Tasks)),
		meters:  make(map[*Host]*meter, len(s.platform.Hosts)),
	}
	for _, h := range s.platform.Hosts {
		r.meters[h] = &meter{host: h}
	}
	r.logger.Info("launching simulation",
		zap.Int("tasks", len(s.workflow.Tasks)),
		zap.Int("hosts", len(s.platform.Hosts)))

	for _, t := range s.workflow.Tasks {
		r.waiting[t] = len(t.Parents)
	}
	for _, t := range s.workflow.Tasks {
		if len(t.Parents) == 0 {
			r.submit(t)
		}
	}

	for r.err == nil {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("simulation interrupted", zap.Float64("time", r.now), zap.Error(err))
			return err
		}
		ev, ok := heap.PopOrderable(&r.events)
		if !ok {
			break
		}
		r.now = ev.Time
		ev.Func()
	}
	if r.err != nil {
		return r.err
	}
	if r.done < len(s.workflow.Tasks) {
		return fmt.Errorf("%w: %d of %d tasks completed at time %v",
			ErrDeadlock, r.done, len(s.workflow.Tasks), r.now)
	}

	s.energy = make(map[string]float64, len(r.meters))
	for _, h := range s.platform.Hosts {
		m := r.meters[h]
		m.advance(s.completion)
		s.energy[h.Name] = m.joules
		r.sampleEnergy(m)
	}
	s.completed = true
	r.logger.Info("simulation completed",
		zap.Float64("completionDate", s.completion),
		zap.Int("traceSize", len(s.trace)))
	return nil
}

func (r *run) at(t float64, fn func()) {
	r.seq++
	heap.PushOrderable(&r.events, event{Time: t, Seq: r.seq, Func: fn})
}

func (r *run) fail(err error) {
	if r.err == nil {
		r.logger.Error("simulation failed", zap.Float64("time", r.now), zap.Error(err))
		r.err = err
	}
}

func (r *run) sampleEnergy(m *meter) {
	if r.s.energyTimestamps {
		r.s.energyTrace = append(r.s.energyTrace, EnergySample{Time: m.last, Host: m.host.Name, Joules: m.joules})
	}
}

func (r *run) setBusy(h *Host, delta int) {
	m := r.meters[h]
	m.advance(r.now)
	m.busy += delta
	r.sampleEnergy(m)
}

func (r *run) submit(t *Task) {
	svc, ok := r.s.controller.pick(t.Cores)
	if !ok {
		r.fail(fmt.Errorf("%w: task %q needs %d cores", ErrUnschedulable, t.ID, t.Cores))
		return
	}
	r.logger.Debug("task submitted",
		zap.Float64("time", r.now),
		zap.String("task", t.ID),
		zap.String("service", svc.name))
	svc.queue.PushBack(&job{task: t, service: svc})
	r.dispatch(svc)
}

// dispatch starts queued jobs in strict arrival order until the job at the
// front of the queue does not fit.
func (r *run) dispatch(svc *computeService) {
	for svc.queue.Len() > 0 && r.err == nil {
		j := svc.queue.Front()
		n, ok := svc.place(j.task.Cores)
		if !ok {
			return
		}
		svc.queue.PopFront()
		r.start(j, n)
	}
}

func (r *run) start(j *job, n *node) {
	t := j.task
	for _, f := range t.Inputs {
		if _, ok := r.s.registry.lookup(f); !ok {
			r.fail(fmt.Errorf("%w: task %q input %q", ErrMissingInput, t.ID, f.ID))
			return
		}
	}
	n.freeCores -= t.Cores
	n.running++
	r.setBusy(n.host, t.Cores)

	begin := r.now + j.service.bootDelay
	a := wfsim.ExecutionAttempt{Host: n.host.Name, ReadInputStart: begin}
	a.ReadInputEnd = a.ReadInputStart + r.s.storage.readTime(t.Inputs)
	a.ComputationStart = a.ReadInputEnd
	a.ComputationEnd = a.ComputationStart + t.Flops/(n.host.Speed*float64(t.Cores))
	a.WriteOutputStart = a.ComputationEnd
	a.Failed = r.s.opts.TaskFailureProbability > 0 && r.rng.Float64() < r.s.opts.TaskFailureProbability
	if a.Failed {
		a.WriteOutputEnd = a.WriteOutputStart
	} else {
		a.WriteOutputEnd = a.WriteOutputStart + r.s.storage.writeTime(t.Outputs)
	}
	r.logger.Debug("attempt started",
		zap.Float64("time", r.now),
		zap.String("task", t.ID),
		zap.String("host", n.host.Name),
		zap.Int("attempt", len(j.attempts)+1))
	r.at(a.WriteOutputEnd, func() {
		r.finish(j, n, a)
	})
}

func (r *run) finish(j *job, n *node, a wfsim.ExecutionAttempt) {
	t := j.task
	n.freeCores += t.Cores
	n.running--
	r.setBusy(n.host, -t.Cores)
	j.attempts = append(j.attempts, a)

	if a.Failed {
		if len(j.attempts) >= r.s.opts.MaxAttempts {
			r.fail(fmt.Errorf("%w: task %q after %d attempts", ErrTaskFailed, t.ID, len(j.attempts)))
			return
		}
		r.logger.Debug("attempt failed, resubmitting",
			zap.Float64("time", r.now),
			zap.String("task", t.ID),
			zap.Int("attempt", len(j.attempts)))
		j.service.queue.PushBack(j)
		r.dispatch(j.service)
		return
	}

	for _, f := range t.Outputs {
		if err := r.s.storage.store(f); err != nil {
			r.fail(fmt.Errorf("task %q output: %w", t.ID, err))
			return
		}
		r.s.registry.add(f, r.s.storage)
	}
	if r.s.taskTimestamps {
		r.s.trace = append(r.s.trace, wfsim.TaskExecutionRecord{
			TaskID:         t.ID,
			History:        j.attempts,
			BytesRead:      totalBytes(t.Inputs),
			BytesWritten:   totalBytes(t.Outputs),
			CoresAllocated: t.Cores,
		})
	}
	r.done++
	r.s.completion = r.now
	r.logger.Debug("task completed",
		zap.Float64("time", r.now),
		zap.String("task", t.ID),
		zap.Int("attempts", len(j.attempts)))

	for _, c := range t.Children {
		r.waiting[c]--
		if r.waiting[c] == 0 {
			r.submit(c)
		}
	}
	r.dispatch(j.service)
}

func totalBytes(files []*File) uint64 {
	var n uint64
	for _, f := range files {
		n += uint64(f.Size)
	}
	return n
}
