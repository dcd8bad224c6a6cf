package models

import (
	"time"
)

// GiveawayStatus represents the lifecycle state of a giveaway. Transitions
// are monotonic: active -> closed -> completed.
type GiveawayStatus string

const (
	GiveawayStatusActive    GiveawayStatus = "active"    // accepting entries
	GiveawayStatusClosed    GiveawayStatus = "closed"    // winners drawn, claims in flight
	GiveawayStatusCompleted GiveawayStatus = "completed" // every slot resolved, immutable
)

// Giveaway is the durable record of one prize drawing. The entrant set is
// stored separately (append-only while active) and frozen into the slot
// candidate queues at close time.
type Giveaway struct {
	ID        string `json:"id"`
	GuildID   int64  `json:"guild_id"`
	ChannelID int64  `json:"channel_id"`
	HostID    int64  `json:"host_id"`

	Prize       string `json:"prize"`
	Description string `json:"description,omitempty"`

	// Codes are handed out in order, one per successful claim. Never
	// included in API responses; see Redacted.
	Codes []string `json:"codes"`

	WinnerCount  int   `json:"winner_count"`
	ClaimTimeout int64 `json:"claim_timeout_seconds"`

	CreatedAt     time.Time `json:"created_at"`
	EntryDeadline time.Time `json:"entry_deadline"`
	UpdatedAt     time.Time `json:"updated_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`

	Status GiveawayStatus `json:"status"`

	// Slots exist only once the giveaway is closed; their number may be
	// lower than WinnerCount when entrants were scarce.
	Slots []WinnerSlot `json:"slots,omitempty"`
}

// Ref identifies a giveaway in the store and in index sets.
type Ref struct {
	GuildID int64
	ID      string
}

func (g *Giveaway) Ref() Ref {
	return Ref{GuildID: g.GuildID, ID: g.ID}
}

// HasEnded reports whether the entry window is over.
func (g *Giveaway) HasEnded(now time.Time) bool {
	return !now.Before(g.EntryDeadline)
}

// ClaimWindow is the configured claim timeout as a duration.
func (g *Giveaway) ClaimWindow() time.Duration {
	return time.Duration(g.ClaimTimeout) * time.Second
}

// AllSlotsTerminal reports whether every slot is claimed or exhausted.
// A closed giveaway with zero slots (no entrants) is trivially terminal.
func (g *Giveaway) AllSlotsTerminal() bool {
	for i := range g.Slots {
		if !g.Slots[i].Terminal() {
			return false
		}
	}
	return true
}

// UsedCodeCount is the number of codes already bound to claimed slots.
func (g *Giveaway) UsedCodeCount() int {
	n := 0
	for i := range g.Slots {
		if g.Slots[i].AssignedCode != "" {
			n++
		}
	}
	return n
}

// NextCode returns the next unused prize code. When claims outnumber codes
// the last code is re-issued; the original system shipped a single shared
// code for every winner.
func (g *Giveaway) NextCode() string {
	if len(g.Codes) == 0 {
		return ""
	}
	idx := g.UsedCodeCount()
	if idx >= len(g.Codes) {
		idx = len(g.Codes) - 1
	}
	return g.Codes[idx]
}

// HasCandidate reports whether the user landed anywhere in the draw: in a
// candidate queue, holding an open offer, or already a winner.
func (g *Giveaway) HasCandidate(userID int64) bool {
	for i := range g.Slots {
		s := &g.Slots[i]
		if s.CurrentCandidate == userID || s.Winner == userID {
			return true
		}
		for _, id := range s.CandidateQueue {
			if id == userID {
				return true
			}
		}
	}
	return false
}

// Winners lists the confirmed claimants in slot order.
func (g *Giveaway) Winners() []int64 {
	var winners []int64
	for i := range g.Slots {
		if g.Slots[i].State == SlotStateClaimed {
			winners = append(winners, g.Slots[i].Winner)
		}
	}
	return winners
}

// Underflowed reports whether fewer slots were drawn than requested.
func (g *Giveaway) Underflowed() bool {
	return g.Status != GiveawayStatusActive && len(g.Slots) < g.WinnerCount
}
