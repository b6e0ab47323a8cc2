// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package engine

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Host is a simulated machine.
type Host struct {
	Name  string
	Cores int
	// Speed is the per-core computation speed in flops.
	Speed float64
	Disk  Disk
	// WattageIdle and WattageFull bound the host's power draw. Power grows
	// linearly with the fraction of busy cores.
	WattageIdle float64
	WattageFull float64
}

// Disk is the storage attached to a host. Zero bandwidth means transfers
// complete instantly and zero capacity means unlimited.
type Disk struct {
	Mount          string
	Capacity       float64
	ReadBandwidth  float64
	WriteBandwidth float64
}

// Platform is the set of hosts, in declaration order.
type Platform struct {
	Hosts []*Host
}

// Host returns the named host.
func (p *Platform) Host(name string) (*Host, bool) {
	for _, h := range p.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return nil, false
}

// LoadPlatform reads a platform description. Files ending in .xml are read
// as SimGrid platform descriptions; .yaml and .yml files use the native
// format.
func LoadPlatform(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading platform: %w", err)
	}
	var p *Platform
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		p, err = parseSimGridPlatform(data)
	case ".yaml", ".yml":
		p, err = parseYAMLPlatform(data)
	default:
		return nil, fmt.Errorf("platform %s: unsupported file extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("platform %s: %w", path, err)
	}
	if len(p.Hosts) == 0 {
		return nil, fmt.Errorf("platform %s: no hosts", path)
	}
	seen := make(map[string]bool, len(p.Hosts))
	for _, h := range p.Hosts {
		if seen[h.Name] {
			return nil, fmt.Errorf("platform %s: duplicate host %q", path, h.Name)
		}
		seen[h.Name] = true
	}
	return p, nil
}

type yamlPlatform struct {
	Hosts []struct {
		Name  string `yaml:"name"`
		Cores int    `yaml:"cores"`
		Speed string `yaml:"speed"`
		Disk  struct {
			Mount          string `yaml:"mount"`
			Capacity       string `yaml:"capacity"`
			ReadBandwidth  string `yaml:"read_bandwidth"`
			WriteBandwidth string `yaml:"write_bandwidth"`
		} `yaml:"disk"`
		Wattage struct {
			Idle float64 `yaml:"idle"`
			Full float64 `yaml:"full"`
		} `yaml:"wattage"`
	} `yaml:"hosts"`
}

func parseYAMLPlatform(data []byte) (*Platform, error) {
	var yp yamlPlatform
	if err := yaml.UnmarshalStrict(data, &yp); err != nil {
		return nil, err
	}
	p := &Platform{}
	for _, yh := range yp.Hosts {
		h := &Host{
			Name:        yh.Name,
			Cores:       yh.Cores,
			WattageIdle: yh.Wattage.Idle,
			WattageFull: yh.Wattage.Full,
			Disk:        Disk{Mount: yh.Disk.Mount},
		}
		var err error
		if h.Speed, err = ParseFlops(yh.Speed); err != nil {
			return nil, fmt.Errorf("host %q speed: %w", yh.Name, err)
		}
		if err := parseOptional(yh.Disk.Capacity, ParseBytes, &h.Disk.Capacity); err != nil {
			return nil, fmt.Errorf("host %q disk capacity: %w", yh.Name, err)
		}
		if err := parseOptional(yh.Disk.ReadBandwidth, ParseBandwidth, &h.Disk.ReadBandwidth); err != nil {
			return nil, fmt.Errorf("host %q disk read bandwidth: %w", yh.Name, err)
		}
		if err := parseOptional(yh.Disk.WriteBandwidth, ParseBandwidth, &h.Disk.WriteBandwidth); err != nil {
			return nil, fmt.Errorf("host %q disk write bandwidth: %w", yh.Name, err)
		}
		if err := h.validate(); err != nil {
			return nil, err
		}
		p.Hosts = append(p.Hosts, h)
	}
	return p, nil
}

func parseOptional(s string, parse func(string) (float64, error), dst *float64) error {
	if s == "" {
		return nil
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func (h *Host) validate() error {
	if h.Name == "" {
		return fmt.Errorf("host without a name")
	}
	if h.Cores == 0 {
		h.Cores = 1
	}
	if h.Cores < 0 {
		return fmt.Errorf("host %q: negative core count", h.Name)
	}
	if !(h.Speed > 0) || math.IsInf(h.Speed, 0) {
		return fmt.Errorf("host %q: speed must be positive and finite", h.Name)
	}
	for _, v := range []struct {
		what  string
		value float64
	}{
		{"idle wattage", h.WattageIdle},
		{"full wattage", h.WattageFull},
		{"disk capacity", h.Disk.Capacity},
		{"disk read bandwidth", h.Disk.ReadBandwidth},
		{"disk write bandwidth", h.Disk.WriteBandwidth},
	} {
		if !(v.value >= 0) || math.IsInf(v.value, 0) {
			return fmt.Errorf("host %q: %s must be non-negative and finite", h.Name, v.what)
		}
	}
	if h.WattageFull < h.WattageIdle {
		return fmt.Errorf("host %q: full wattage below idle wattage", h.Name)
	}
	if h.Disk.Mount == "" {
		h.Disk.Mount = "/"
	}
	return nil
}

// The SimGrid subset: hosts in arbitrarily nested zones, each with a speed
// (first power state only), a core count, an optional wattage_per_state
// property and optional disks. Links and routes are ignored.
type sgZone struct {
	Zones []sgZone `xml:"zone"`
	// SimGrid versions before 4 called zones AS.
	ASes  []sgZone `xml:"AS"`
	Hosts []sgHost `xml:"host"`
}

type sgProp struct {
	ID    string `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

type sgDisk struct {
	ID      string   `xml:"id,attr"`
	ReadBW  string   `xml:"read_bw,attr"`
	WriteBW string   `xml:"write_bw,attr"`
	Props   []sgProp `xml:"prop"`
}

type sgHost struct {
	ID    string   `xml:"id,attr"`
	Speed string   `xml:"speed,attr"`
	Core  string   `xml:"core,attr"`
	Props []sgProp `xml:"prop"`
	Disks []sgDisk `xml:"disk"`
}

func parseSimGridPlatform(data []byte) (*Platform, error) {
	var root sgZone
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	p := &Platform{}
	if err := collectSimGridHosts(&root, p); err != nil {
		return nil, err
	}
	return p, nil
}

func collectSimGridHosts(z *sgZone, p *Platform) error {
	for _, sh := range z.Hosts {
		h, err := sh.toHost()
		if err != nil {
			return err
		}
		p.Hosts = append(p.Hosts, h)
	}
	for i := range z.Zones {
		if err := collectSimGridHosts(&z.Zones[i], p); err != nil {
			return err
		}
	}
	for i := range z.ASes {
		if err := collectSimGridHosts(&z.ASes[i], p); err != nil {
			return err
		}
	}
	return nil
}

func (sh *sgHost) toHost() (*Host, error) {
	h := &Host{Name: sh.ID, Cores: 1}
	speed, _, _ := strings.Cut(sh.Speed, ",")
	var err error
	if h.Speed, err = ParseFlops(speed); err != nil {
		return nil, fmt.Errorf("host %q speed: %w", sh.ID, err)
	}
	if sh.Core != "" {
		if h.Cores, err = strconv.Atoi(sh.Core); err != nil {
			return nil, fmt.Errorf("host %q core count: %w", sh.ID, err)
		}
	}
	for _, prop := range sh.Props {
		if prop.ID != "wattage_per_state" {
			continue
		}
		// "idle:full" or "idle:one-core:full"; only the first power state
		// is used.
		state, _, _ := strings.Cut(prop.Value, ",")
		parts := strings.Split(state, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("host %q: malformed wattage_per_state %q", sh.ID, prop.Value)
		}
		if h.WattageIdle, err = strconv.ParseFloat(parts[0], 64); err != nil {
			return nil, fmt.Errorf("host %q idle wattage: %w", sh.ID, err)
		}
		if h.WattageFull, err = strconv.ParseFloat(parts[len(parts)-1], 64); err != nil {
			return nil, fmt.Errorf("host %q full wattage: %w", sh.ID, err)
		}
	}
	if len(sh.Disks) > 0 {
		d := &sh.Disks[0]
		if err := parseOptional(d.ReadBW, ParseBandwidth, &h.Disk.ReadBandwidth); err != nil {
			return nil, fmt.Errorf("host %q disk %q: %w", sh.ID, d.ID, err)
		}
		if err := parseOptional(d.WriteBW, ParseBandwidth, &h.Disk.WriteBandwidth); err != nil {
			return nil, fmt.Errorf("host %q disk %q: %w", sh.ID, d.ID, err)
		}
		for _, prop := range d.Props {
			switch prop.ID {
			case "size":
				if err := parseOptional(prop.Value, ParseBytes, &h.Disk.Capacity); err != nil {
					return nil, fmt.Errorf("host %q disk %q: %w", sh.ID, d.ID, err)
				}
			case "mount":
				h.Disk.Mount = prop.Value
			}
		}
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}
