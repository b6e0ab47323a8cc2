// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gammazero/deque"
)

// Batch scheduling algorithms. Backfilling variants are not implemented and
// are rejected.
const (
	// BatchFCFS runs at most one job per node.
	BatchFCFS = "fcfs"
	// BatchFCFSCoreLevel packs jobs onto nodes by free cores.
	BatchFCFSCoreLevel = "fcfs_core_level"
)

// Service property names.
const (
	PropBatchSchedulingAlgorithm = "BATCH_SCHEDULING_ALGORITHM"
	PropVMBootOverhead           = "VM_BOOT_OVERHEAD_IN_SECONDS"
)

// PayloadStopDaemon is the size of the message that stops a service. Any
// name ending in PayloadSuffix is accepted as a payload; payloads are
// validated but, with no network model, have no effect on timing.
const (
	PayloadStopDaemon = "STOP_DAEMON_MESSAGE_PAYLOAD"
	PayloadSuffix     = "_MESSAGE_PAYLOAD"
)

// Execution controller dispatch policies.
const (
	PolicyRoundRobin = "round_robin"
	PolicyBatch      = "batch"
	PolicyCloud      = "cloud"
)

// StorageServiceSpec places a storage service on a host's disk.
type StorageServiceSpec struct {
	Host  string
	Mount string
}

// ComputeServiceSpec describes a batch or cloud compute service: a head host
// that accepts submissions and the nodes that run them.
type ComputeServiceSpec struct {
	HeadHost        string
	Nodes           []string
	Properties      map[string]string
	MessagePayloads map[string]float64
}

// ControllerSpec describes the workflow execution controller.
type ControllerSpec struct {
	Host   string
	Policy string
}

type storageService struct {
	host     *Host
	mount    string
	capacity float64
	used     float64
	files    map[string]*File
}

func newStorageService(p *Platform, spec StorageServiceSpec) (*storageService, error) {
	h, ok := p.Host(spec.Host)
	if !ok {
		return nil, fmt.Errorf("storage service: %w %q", ErrUnknownHost, spec.Host)
	}
	mount := spec.Mount
	if mount == "" {
		mount = "/"
	}
	if mount != h.Disk.Mount {
		return nil, fmt.Errorf("%w: storage service: host %q has no disk mounted at %q",
			ErrInvalidServiceConfig, h.Name, mount)
	}
	return &storageService{
		host:     h,
		mount:    mount,
		capacity: h.Disk.Capacity,
		files:    make(map[string]*File),
	}, nil
}

func (s *storageService) has(f *File) bool {
	_, ok := s.files[f.ID]
	return ok
}

func (s *storageService) store(f *File) error {
	if s.has(f) {
		return fmt.Errorf("%w: %q", ErrAlreadyStaged, f.ID)
	}
	if s.capacity > 0 && s.used+f.Size > s.capacity {
		return fmt.Errorf("%w: storing %q (%v bytes) on %s:%s with %v of %v bytes used",
			ErrStorageFull, f.ID, f.Size, s.host.Name, s.mount, s.used, s.capacity)
	}
	s.used += f.Size
	s.files[f.ID] = f
	return nil
}

func (s *storageService) readTime(files []*File) float64 {
	return transferTime(files, s.host.Disk.ReadBandwidth)
}

func (s *storageService) writeTime(files []*File) float64 {
	return transferTime(files, s.host.Disk.WriteBandwidth)
}

func transferTime(files []*File, bandwidth float64) float64 {
	if bandwidth <= 0 {
		return 0
	}
	var size float64
	for _, f := range files {
		size += f.Size
	}
	return size / bandwidth
}

type node struct {
	host      *Host
	freeCores int
	running   int
}

type computeService struct {
	name      string
	head      *Host
	nodes     []*node
	exclusive bool
	bootDelay float64
	maxCores  int
	queue     deque.Deque[*job]
}

func newComputeService(name string, p *Platform, spec ComputeServiceSpec, allowed map[string]bool) (*computeService, error) {
	head, ok := p.Host(spec.HeadHost)
	if !ok {
		return nil, fmt.Errorf("%s service head: %w %q", name, ErrUnknownHost, spec.HeadHost)
	}
	if len(spec.Nodes) == 0 {
		return nil, fmt.Errorf("%w: %s service has no nodes", ErrInvalidServiceConfig, name)
	}
	s := &computeService{name: name, head: head}
	seen := make(map[string]bool, len(spec.Nodes))
	for _, n := range spec.Nodes {
		h, ok := p.Host(n)
		if !ok {
			return nil, fmt.Errorf("%s service node: %w %q", name, ErrUnknownHost, n)
		}
		if seen[n] {
			return nil, fmt.Errorf("%w: %s service lists node %q twice", ErrInvalidServiceConfig, name, n)
		}
		seen[n] = true
		s.nodes = append(s.nodes, &node{host: h, freeCores: h.Cores})
		s.maxCores = max(s.maxCores, h.Cores)
	}
	for k := range spec.Properties {
		if !allowed[k] {
			return nil, fmt.Errorf("%w: %s service does not support property %q", ErrInvalidServiceConfig, name, k)
		}
	}
	for k, v := range spec.MessagePayloads {
		if !strings.HasSuffix(k, PayloadSuffix) {
			return nil, fmt.Errorf("%w: %s service: unknown message payload %q", ErrInvalidServiceConfig, name, k)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s service: payload %s must be a non-negative size, got %v",
				ErrInvalidServiceConfig, name, k, v)
		}
	}
	return s, nil
}

func newBatchService(p *Platform, spec ComputeServiceSpec) (*computeService, error) {
	s, err := newComputeService("batch", p, spec, map[string]bool{PropBatchSchedulingAlgorithm: true})
	if err != nil {
		return nil, err
	}
	switch alg := spec.Properties[PropBatchSchedulingAlgorithm]; alg {
	case "", BatchFCFS:
		s.exclusive = true
	case BatchFCFSCoreLevel:
	default:
		return nil, fmt.Errorf("%w: batch service: unsupported scheduling algorithm %q",
			ErrInvalidServiceConfig, alg)
	}
	return s, nil
}

func newCloudService(p *Platform, spec ComputeServiceSpec) (*computeService, error) {
	s, err := newComputeService("cloud", p, spec, map[string]bool{PropVMBootOverhead: true})
	if err != nil {
		return nil, err
	}
	if v, ok := spec.Properties[PropVMBootOverhead]; ok {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d < 0 || math.IsInf(d, 0) {
			return nil, fmt.Errorf("%w: cloud service: %s must be a non-negative number of seconds, got %q",
				ErrInvalidServiceConfig, PropVMBootOverhead, v)
		}
		s.bootDelay = d
	}
	return s, nil
}

// place returns the first node able to run a job needing cores, or false.
func (s *computeService) place(cores int) (*node, bool) {
	for _, n := range s.nodes {
		if s.exclusive {
			if n.running == 0 && n.host.Cores >= cores {
				return n, true
			}
		} else if n.freeCores >= cores {
			return n, true
		}
	}
	return nil, false
}

type controller struct {
	host     *Host
	services []*computeService
	next     int
}

func newController(p *Platform, spec ControllerSpec, batch, cloud *computeService) (*controller, error) {
	h, ok := p.Host(spec.Host)
	if !ok {
		return nil, fmt.Errorf("execution controller: %w %q", ErrUnknownHost, spec.Host)
	}
	c := &controller{host: h}
	switch spec.Policy {
	case "", PolicyRoundRobin:
		for _, s := range []*computeService{batch, cloud} {
			if s != nil {
				c.services = append(c.services, s)
			}
		}
	case PolicyBatch:
		if batch != nil {
			c.services = append(c.services, batch)
		}
	case PolicyCloud:
		if cloud != nil {
			c.services = append(c.services, cloud)
		}
	default:
		return nil, fmt.Errorf("%w: execution controller: unknown policy %q", ErrInvalidServiceConfig, spec.Policy)
	}
	if len(c.services) == 0 {
		return nil, fmt.Errorf("%w: execution controller policy %q has no compute service to use",
			ErrOutOfOrder, spec.Policy)
	}
	return c, nil
}

// pick returns the next service in rotation able to fit a task needing
// cores.
func (c *controller) pick(cores int) (*computeService, bool) {
	for i := range c.services {
		s := c.services[(c.next+i)%len(c.services)]
		if s.maxCores >= cores {
			c.next = (c.next + i + 1) % len(c.services)
			return s, true
		}
	}
	return nil, false
}

type fileRegistry struct {
	host      *Host
	locations map[string]*storageService
}

func newFileRegistry(p *Platform, host string) (*fileRegistry, error) {
	h, ok := p.Host(host)
	if !ok {
		return nil, fmt.Errorf("file registry: %w %q", ErrUnknownHost, host)
	}
	return &fileRegistry{host: h, locations: make(map[string]*storageService)}, nil
}

func (r *fileRegistry) add(f *File, s *storageService) {
	r.locations[f.ID] = s
}

func (r *fileRegistry) lookup(f *File) (*storageService, bool) {
	s, ok := r.locations[f.ID]
	return s, ok
}
