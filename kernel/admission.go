package kernel

import "math"

// buildUBTable precomputes the Liu-Layland utilization bound
// UB[n] = n*(2^(1/n)-1) for n in [0,31] (spec §4.2, §9), indexed by the
// admitted task count *including* the candidate — the spec fixes this
// reading explicitly because the original C source carried both
// conventions across drafts. UB[0] is defined directly rather than
// computed, since n=0 would divide by zero; UB[1] is written out as well,
// and equals what the formula gives (1*(2^1-1) = 1).
func buildUBTable() [32]float64 {
	var t [32]float64
	t[0] = 0
	t[1] = 1
	for n := 2; n < len(t); n++ {
		t[n] = float64(n) * (math.Pow(2, 1.0/float64(n)) - 1)
	}
	return t
}

// schedulable reports, over the user slots only (idle and main are never
// part of admission), the count of TCBs whose state is neither NEW nor
// DONE and the summed C/T utilization of that set — spec §4.2.
func (k *Kernel) schedulable() (count int, utilization float64) {
	for _, t := range k.tcbs {
		if t == nil || t.Slot >= k.cfg.MaxThreads {
			continue // idle/main are never part of the UB sum
		}
		if t.State == StateNew || t.State == StateDone {
			continue
		}
		count++
		utilization += float64(t.C) / float64(t.T)
	}
	return count, utilization
}

// ubTest reports whether adding (C,T) to the currently schedulable set
// keeps ΣCᵢ/Tᵢ within the Liu-Layland bound for the resulting count,
// n including the candidate (spec §4.2, §9).
func (k *Kernel) ubTest(c, t int) bool {
	count, u := k.schedulable()
	n := count + 1
	if n >= len(k.ubTable) {
		return false
	}
	return u+float64(c)/float64(t) <= k.ubTable[n]
}
