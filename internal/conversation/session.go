package conversation

import (
	"sync"
	"time"

	"github.com/susu3304/splitbot/internal/receipt"
)

// Session is the state of one bill-splitting flow. Only the machine mutates
// it, always under mu.
type Session struct {
	mu sync.Mutex

	id               string
	state            State
	generation       uint64
	pending          *receipt.Record
	participantCount int
	wallets          []string
	createdAt        time.Time
	lastActivity     time.Time

	// busy is set while an extraction or price lookup runs without mu.
	busy bool
}

func newSession(id string, generation uint64, now time.Time) *Session {
	return &Session{
		id:           id,
		state:        Idle,
		generation:   generation,
		createdAt:    now,
		lastActivity: now,
	}
}

// Snapshot is a point-in-time copy of a session, used for persistence and
// inspection.
type Snapshot struct {
	ID               string          `json:"id"`
	State            State           `json:"state"`
	Generation       uint64          `json:"generation"`
	Receipt          *receipt.Record `json:"receipt,omitempty"`
	ParticipantCount int             `json:"participant_count,omitempty"`
	Wallets          []string        `json:"wallets,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	LastActivityAt   time.Time       `json:"last_activity_at"`
	Busy             bool            `json:"busy"`
}

// snapshot must be called with s.mu held.
func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:               s.id,
		State:            s.state,
		Generation:       s.generation,
		ParticipantCount: s.participantCount,
		CreatedAt:        s.createdAt,
		LastActivityAt:   s.lastActivity,
		Busy:             s.busy,
	}
	if s.pending != nil {
		rec := *s.pending
		snap.Receipt = &rec
	}
	if len(s.wallets) > 0 {
		snap.Wallets = append([]string(nil), s.wallets...)
	}
	return snap
}

// Snapshot returns a copy of the session's current fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// restore rebuilds a session from a stored snapshot under a new
// generation. In-flight work is never restored.
func restore(snap Snapshot, generation uint64) *Session {
	s := &Session{
		id:               snap.ID,
		state:            snap.State,
		generation:       generation,
		participantCount: snap.ParticipantCount,
		createdAt:        snap.CreatedAt,
		lastActivity:     snap.LastActivityAt,
	}
	if snap.Receipt != nil {
		rec := *snap.Receipt
		s.pending = &rec
	}
	if len(snap.Wallets) > 0 {
		s.wallets = append([]string(nil), snap.Wallets...)
	}
	return s
}

// usable reports whether a stored snapshot can be resumed.
func (snap Snapshot) usable(now time.Time, timeout time.Duration) bool {
	if !snap.State.Valid() || snap.State.Terminal() {
		return false
	}
	if snap.State == AwaitingConfirmation || snap.State == AwaitingSplitMethod || snap.State == AwaitingParticipantInfo {
		if snap.Receipt == nil {
			return false
		}
	}
	return timeout <= 0 || now.Sub(snap.LastActivityAt) < timeout
}
