// Package attack holds the attack descriptor, the priority queue the
// engine pops from, the planner that turns a hash analysis into an
// ordered plan, and the adaptive success tracker.
package attack

import "time"

// Kind is the attack strategy family. It maps onto the cracker's -a
// token in the command builder; anything else is rejected there.
type Kind string

const (
	KindDictionary Kind = "dictionary"
	KindMask       Kind = "mask"
	KindHybrid     Kind = "hybrid"
	KindRuleBased  Kind = "rule-based"
)

// Priority bands. Lower runs earlier.
const (
	PriorityQuickWin  = 1
	PriorityTargeted  = 2
	PriorityRuleBased = 3
	PriorityHybrid    = 4
	PriorityMask      = 5
)

// Attack describes one strategy against the remaining hash set.
//
// Mode is the cracker hash mode; nil until analysis pins it down.
// Attacks order by (Priority asc, insertion sequence asc); the
// sequence is assigned by the queue at push time so equal priorities
// run in insertion order.
type Attack struct {
	Name        string        `json:"name"`
	Kind        Kind          `json:"kind"`
	Priority    float64       `json:"priority"`
	Mode        *int          `json:"mode,omitempty"`
	Wordlist    string        `json:"wordlist,omitempty"`
	Rules       string        `json:"rules,omitempty"`
	Mask        string        `json:"mask,omitempty"`
	EstDuration time.Duration `json:"est_duration,omitempty"`
	SuccessProb float64       `json:"success_prob"`
}

// Disposition is how an attack run ended.
type Disposition string

const (
	DispositionCompleted Disposition = "completed"
	DispositionExhausted Disposition = "exhausted"
	DispositionFailed    Disposition = "failed"
	DispositionTimeout   Disposition = "timeout"
	DispositionCancelled Disposition = "cancelled"
)

// Result records the outcome of one completed attack run.
type Result struct {
	Attack       Attack        `json:"attack"`
	Disposition  Disposition   `json:"disposition"`
	CrackedCount int           `json:"cracked_count"`
	Duration     time.Duration `json:"duration"`
	ExitCode     int           `json:"exit_code"`
}

// modePtr is a convenience for plan construction.
func modePtr(m int) *int {
	return &m
}
