package attack

import (
	"fmt"
	"sort"
	"sync"
)

// Tracker keeps per-strategy success rates across attacks, keyed by
// "{kind}_{wordlist}_{rules}". The update is a two-point running
// average: newRate = (oldRate + observed) / 2. Intentionally not an
// N-point EWMA; the two-point form forgets stale history fast, which
// matters when the operator swaps wordlists mid-engagement.
type Tracker struct {
	mu    sync.Mutex
	rates map[string]float64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{rates: make(map[string]float64)}
}

// NewTrackerFrom restores a tracker from a checkpointed rate map.
func NewTrackerFrom(rates map[string]float64) *Tracker {
	t := NewTracker()
	for k, v := range rates {
		t.rates[k] = v
	}

	return t
}

// Key returns the tracking key for an attack.
func Key(a Attack) string {
	return fmt.Sprintf("%s_%s_%s", a.Kind, a.Wordlist, a.Rules)
}

// Record folds one attack outcome into the rate for its key. Attacks
// that cracked nothing do not move the average, matching the original
// behavior of only learning from successes.
func (t *Tracker) Record(a Attack, crackedCount, totalAttempts int) {
	if crackedCount <= 0 {
		return
	}

	if totalAttempts <= 0 {
		totalAttempts = 1
	}

	observed := float64(crackedCount) / float64(totalAttempts)

	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key(a)

	if old, ok := t.rates[key]; ok {
		t.rates[key] = (old + observed) / 2
	} else {
		t.rates[key] = observed
	}
}

// Rate returns the tracked success rate for an attack's key.
func (t *Tracker) Rate(a Attack) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rates[Key(a)]

	return r, ok
}

// Bias returns the attack's priority nudged by its tracked success
// rate: strategies that have been paying off run slightly earlier
// within their band. The nudge is capped below 1 so an attack never
// jumps a whole priority band on history alone.
func (t *Tracker) Bias(a Attack) float64 {
	rate, ok := t.Rate(a)
	if !ok {
		return a.Priority
	}

	const maxNudge = 0.9

	return a.Priority - rate*maxNudge
}

// Snapshot returns a copy of the rate map for checkpointing.
func (t *Tracker) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64, len(t.rates))
	for k, v := range t.rates {
		out[k] = v
	}

	return out
}

// RateEntry pairs a tracking key with its success rate.
type RateEntry struct {
	Key  string  `json:"key"`
	Rate float64 `json:"rate"`
}

// Ranked returns all entries sorted by rate descending, key ascending
// on ties. Used by the session summary.
func (t *Tracker) Ranked() []RateEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]RateEntry, 0, len(t.rates))
	for k, v := range t.rates {
		out = append(out, RateEntry{Key: k, Rate: v})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rate != out[j].Rate {
			return out[i].Rate > out[j].Rate
		}

		return out[i].Key < out[j].Key
	})

	return out
}
