// Package session persists the engine's survivable state: one
// directory per session holding the canonical JSON record, the
// per-session potfile, and the transient lock and tmp files the
// checkpoint protocol uses.
package session

import (
	"time"

	"hashwrap/internal/attack"
	"hashwrap/internal/hashdb"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusError     Status = "error"
)

// State is the canonical session record. The checkpoint operation is
// its only writer; everything the engine needs to resume after a crash
// lives here.
type State struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	HashFile string `json:"hash_file"`
	Potfile  string `json:"potfile"`

	TotalRuntime time.Duration `json:"total_runtime"`
	Workload     int           `json:"workload,omitempty"`
	HotReload    bool          `json:"hot_reload"`

	// Restorable is set when a cracker-native restore file exists for
	// this session; the flag is consumed by exactly one attack launch
	// after a resume.
	Restorable bool `json:"restorable"`

	CurrentAttack    *attack.Attack     `json:"current_attack,omitempty"`
	PendingAttacks   []attack.Attack    `json:"pending_attacks"`
	CompletedAttacks []attack.Result    `json:"completed_attacks"`
	SuccessRates     map[string]float64 `json:"success_rates,omitempty"`

	Stats hashdb.Stats `json:"stats"`
}

// Summary is one row of the sessions index, enough to list and pick a
// session without loading its full record.
type Summary struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Cracked   int       `json:"cracked"`
	Total     int       `json:"total"`
	Dir       string    `json:"dir"`
}

// sessionIDFormat is the timestamp layout for generated session ids.
const sessionIDFormat = "20060102_150405"

// NewID generates a session id of the form YYYYMMDD_HHMMSS (UTC).
func NewID(now time.Time) string {
	return now.Format(sessionIDFormat)
}
