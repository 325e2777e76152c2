package sdr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kwargs is a set of string key/value pairs used to describe and select
// devices.
type Kwargs map[string]string

// ParseKwargs parses "key=value,key2=value2". A key without a value maps to
// the empty string.
func ParseKwargs(s string) Kwargs {
	ret := make(Kwargs)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key := strings.TrimSpace(kv[0])
		if len(kv) == 1 {
			ret[key] = ""
			continue
		}
		ret[key] = strings.TrimSpace(kv[1])
	}
	return ret
}

// Merge returns a copy of k with the pairs of other applied over it.
func (k Kwargs) Merge(other Kwargs) Kwargs {
	ret := make(Kwargs, len(k)+len(other))
	for key, val := range k {
		ret[key] = val
	}
	for key, val := range other {
		ret[key] = val
	}
	return ret
}

// Matches reports whether every pair in filter is present in k.
func (k Kwargs) Matches(filter Kwargs) bool {
	for key, val := range filter {
		if k[key] != val {
			return false
		}
	}
	return true
}

func (k Kwargs) Int(key string, def int) int {
	v, ok := k[key]
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func (k Kwargs) Float(key string, def float64) float64 {
	v, ok := k[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (k Kwargs) String() string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+k[key])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Range describes a tunable span. A zero Step means continuous.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Clip limits v to the range and snaps it to the nearest step.
func (r Range) Clip(v float64) float64 {
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	if r.Step > 0 {
		v = r.Min + math.Round((v-r.Min)/r.Step)*r.Step
		if v > r.Max {
			v -= r.Step
		}
	}
	return v
}

func (r Range) String() string {
	return fmt.Sprintf("%g, %g, %g", r.Min, r.Max, r.Step)
}
