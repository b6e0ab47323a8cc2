// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package wfsim

import (
	"math"
	"strconv"
)

// Metric is a derived statistic that may be undefined. The zero value is
// Undefined.
type Metric struct {
	value   float64
	defined bool
}

// Undefined is the Metric for a statistic that has no meaningful value, for
// instance an average over zero samples.
var Undefined = Metric{}

// Defined returns a Metric holding v. Non-finite values are not representable
// and yield Undefined.
func Defined(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Undefined
	}
	return Metric{value: v, defined: true}
}

// Ratio returns num/den, or Undefined if den is zero or the quotient is not
// finite.
func Ratio(num, den float64) Metric {
	if den == 0 {
		return Undefined
	}
	return Defined(num / den)
}

// Value returns the metric's value and whether it is defined.
func (m Metric) Value() (float64, bool) {
	return m.value, m.defined
}

// IsDefined reports whether the metric holds a value.
func (m Metric) IsDefined() bool {
	return m.defined
}

// Or returns the metric's value, or fallback if it is undefined.
func (m Metric) Or(fallback float64) float64 {
	if !m.defined {
		return fallback
	}
	return m.value
}

// Ptr returns a pointer to a copy of the value, or nil if undefined. It is
// convenient for nullable storage columns.
func (m Metric) Ptr() *float64 {
	if !m.defined {
		return nil
	}
	v := m.value
	return &v
}

// Format renders the metric in fixed-point notation with prec digits after
// the decimal point, or as undefinedMarker.
func (m Metric) Format(prec int, undefinedMarker string) string {
	if !m.defined {
		return undefinedMarker
	}
	return strconv.FormatFloat(m.value, 'f', prec, 64)
}

// String implements fmt.Stringer.
func (m Metric) String() string {
	return m.Format(-1, "undefined")
}
