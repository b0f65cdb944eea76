package availability

import (
	"maps"
	"slices"
	"time"
)

// Statistics maps a server identifier to its records in time order.
type Statistics map[string][]Record

// Clone copies the map and each record slice.
func (s Statistics) Clone() Statistics {
	if s == nil {
		return nil
	}
	out := make(Statistics, len(s))
	for id, recs := range s {
		out[id] = slices.Clone(recs)
	}
	return out
}

// Append returns a copy of s with recs appended to their servers.
func (s Statistics) Append(recs []Record) Statistics {
	out := make(Statistics, len(s))
	maps.Copy(out, s)
	for _, r := range recs {
		id := r.ServerIdentifier
		// Copy before appending so the previous snapshot never shares a
		// backing array with the new one.
		out[id] = append(slices.Clip(out[id]), r)
	}
	return out
}

// Since keeps the records stamped at or after cutoff. Servers left with no
// records are dropped so they do not count as covered.
func (s Statistics) Since(cutoff time.Time) Statistics {
	out := make(Statistics, len(s))
	for id, recs := range s {
		kept := make([]Record, 0, len(recs))
		for _, r := range recs {
			if !r.Timestamp.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			out[id] = kept
		}
	}
	return out
}

// Retain drops servers whose identifier is not in ids.
func (s Statistics) Retain(ids map[string]struct{}) Statistics {
	out := make(Statistics, len(s))
	for id, recs := range s {
		if _, ok := ids[id]; ok {
			out[id] = recs
		}
	}
	return out
}

// Means averages each field over a server's records, ignoring records where
// the field is absent.
func Means(recs []Record) map[Field]float64 {
	sums := make(map[Field]float64)
	counts := make(map[Field]int)
	for i := range recs {
		for _, f := range Fields() {
			if v, ok := f.Value(&recs[i]); ok {
				sums[f] += v
				counts[f]++
			}
		}
	}
	for f, n := range counts {
		sums[f] /= float64(n)
	}
	return sums
}
