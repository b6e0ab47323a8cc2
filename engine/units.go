// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package engine

import (
	"fmt"
	"strconv"
	"strings"
)

var siPrefixes = map[string]float64{
	"":  1,
	"k": 1e3,
	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
	"P": 1e15,
	"E": 1e18,
}

var binaryPrefixes = map[string]float64{
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
	"Pi": 1 << 50,
	"Ei": 1 << 60,
}

// parseQuantity parses strings such as "100Gf", "50MBps" or "5000GiB". The
// unit must be one of units (for instance "f" or "B"), preceded by an
// optional SI or binary prefix. scale maps each unit to its value in base
// units. A bare number is taken in base units.
func parseQuantity(s string, scale map[string]float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	end := len(s)
	for end > 0 {
		c := s[end-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		end--
	}
	number, suffix := s[:end], s[end:]
	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	if suffix == "" {
		return v, nil
	}
	for unit, unitScale := range scale {
		if !strings.HasSuffix(suffix, unit) {
			continue
		}
		prefix := strings.TrimSuffix(suffix, unit)
		if m, ok := siPrefixes[prefix]; ok {
			return v * m * unitScale, nil
		}
		if m, ok := binaryPrefixes[prefix]; ok {
			return v * m * unitScale, nil
		}
	}
	return 0, fmt.Errorf("invalid unit in quantity %q", s)
}

// ParseFlops parses a computation speed or amount such as "100Gf".
func ParseFlops(s string) (float64, error) {
	return parseQuantity(s, map[string]float64{"f": 1})
}

// ParseBytes parses a size such as "5000GiB" or "100MB".
func ParseBytes(s string) (float64, error) {
	return parseQuantity(s, map[string]float64{"B": 1})
}

// ParseBandwidth parses a bandwidth in bytes per second, such as "100MBps".
// Bit rates ("1Gbps") are converted to bytes.
func ParseBandwidth(s string) (float64, error) {
	return parseQuantity(s, map[string]float64{"Bps": 1, "bps": 1.0 / 8})
}
