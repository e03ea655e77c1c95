package cracker

import (
	"sync"
	"time"
)

// Event is the status record delivered to subscribers. The transport
// beyond the channel is the subscriber's business; this struct is the
// contract.
type Event struct {
	SessionID      string         `json:"session_id"`
	AttackName     string         `json:"attack_name"`
	ProgressPct    float64        `json:"progress_pct"`
	TotalSpeedHs   float64        `json:"total_speed_hs"`
	Devices        []DeviceStatus `json:"devices"`
	Recovered      int            `json:"recovered"`
	RecoveredTotal int            `json:"recovered_total"`
	Runtime        time.Duration  `json:"runtime"`
	ETA            string         `json:"eta"`
	At             time.Time      `json:"at"`
}

// Broadcaster fans status events out to subscribers without ever
// blocking the supervisor: a subscriber that stops draining its
// channel misses events rather than stalling the status reader.
// All delivered events are retained in a history buffer for the
// session summary export.
type Broadcaster struct {
	mu      sync.Mutex
	subs    []chan Event
	history []Event
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

const subscriberBuffer = 16

// Subscribe registers a new subscriber and returns its channel.
func (b *Broadcaster) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch
}

// Publish delivers an event to every subscriber, dropping it for
// subscribers with full buffers, and appends it to the history.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, ev)

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// History returns a copy of every published event.
func (b *Broadcaster) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(b.history))
	copy(out, b.history)

	return out
}
