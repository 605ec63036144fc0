package ledger

import "sort"

// StatVector maps channel names to integer values.
// Values are unbounded; clamping is a display concern.
type StatVector map[string]int

// Zero returns a vector with every channel set to 0.
func Zero(channels []string) StatVector {
	v := make(StatVector, len(channels))
	for _, ch := range channels {
		v[ch] = 0
	}
	return v
}

// Get returns the channel value, 0 if absent.
func (v StatVector) Get(channel string) int {
	return v[channel]
}

// Clone returns an independent copy. A nil vector clones to nil.
func (v StatVector) Clone() StatVector {
	if v == nil {
		return nil
	}
	out := make(StatVector, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

// Add returns v + delta channel-wise without modifying either operand.
func (v StatVector) Add(delta StatVector) StatVector {
	out := v.Clone()
	if out == nil {
		out = make(StatVector, len(delta))
	}
	for k, n := range delta {
		out[k] += n
	}
	return out
}

// Fit projects v onto channels: every channel is present (missing ones are 0)
// and anything else is dropped. With no channels, v is copied unchanged.
func (v StatVector) Fit(channels []string) StatVector {
	if len(channels) == 0 {
		out := v.Clone()
		if out == nil {
			out = StatVector{}
		}
		return out
	}
	out := make(StatVector, len(channels))
	for _, ch := range channels {
		out[ch] = v[ch]
	}
	return out
}

// Channels returns the channel names in sorted order.
func (v StatVector) Channels() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clamp limits n to [lo, hi]. Used for stat bars; the ledger itself never clamps.
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
