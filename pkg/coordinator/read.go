package coordinator

import (
	"encoding/json"
	"strconv"
)

// KeySet identifies one logical attribute by an ordered list of fallback
// keys, so one definition can serve API versions that name the same field
// differently. The first key present in the attribute map is used, even if
// its value is zero; later keys are never consulted once one is present.
type KeySet struct {
	Keys []string
	// DropThreshold, when positive, suppresses small negative dips: a
	// decrease of less than the threshold returns the previous value.
	DropThreshold float64
	// NeverResets marks monotonic lifetime counters. The vendor API zeroes
	// some of these around local midnight; a zero with a nonzero previous
	// value returns the previous value.
	NeverResets bool
}

// Key is the single-key case of a KeySet.
func Key(name string) KeySet {
	return KeySet{Keys: []string{name}}
}

// Read resolves a logical attribute against the current map under the
// reconciliation policy. The chosen value becomes the new baseline for the
// key, so a suppressed glitch is judged against the last legitimate value,
// not against an earlier glitch. The second return is false when no key in
// the set is present.
func (c *Coordinator) Read(ks KeySet) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var key string
	var current any
	var found bool
	for _, k := range ks.Keys {
		if v, ok := c.data[k]; ok {
			key, current, found = k, v, true
			break
		}
	}
	if !found {
		return nil, false
	}

	chosen := current
	if cur, ok := asFloat(current); ok {
		if prev, ok := asFloat(c.previous[key]); ok {
			if ks.DropThreshold > 0 {
				if diff := cur - prev; -ks.DropThreshold <= diff && diff < 0 {
					chosen = prev
					cur = prev
				}
			}
			if ks.NeverResets && cur == 0 && prev != 0 {
				chosen = prev
			}
		}
	}

	c.previous[key] = chosen
	return chosen, true
}

// asFloat extracts a numeric value. The classic API reports most numbers as
// strings, the v1 API as JSON numbers.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
