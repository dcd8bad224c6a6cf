package models

import "time"

// GiveawayCreate is the request payload for creating a giveaway.
type GiveawayCreate struct {
	ChannelID   int64    `json:"channel_id" binding:"required"`
	HostID      int64    `json:"host_id" binding:"required"`
	Prize       string   `json:"prize" binding:"required"`
	Description string   `json:"description"`
	Codes       []string `json:"codes" binding:"required"`

	DurationSeconds     int64 `json:"duration_seconds" binding:"required,min=1"`
	WinnerCount         int   `json:"winner_count" binding:"required,min=1"`
	ClaimTimeoutSeconds int64 `json:"claim_timeout_seconds" binding:"required,min=1"`
}

// SlotView is a WinnerSlot with secrets removed.
type SlotView struct {
	SlotIndex        int       `json:"slot_index"`
	State            SlotState `json:"state"`
	CurrentCandidate int64     `json:"current_candidate,omitempty"`
	ClaimDeadline    int64     `json:"claim_deadline,omitempty"`
	Winner           int64     `json:"winner,omitempty"`
	QueueRemaining   int       `json:"queue_remaining"`
}

// GiveawayResponse is the full giveaway state with codes redacted.
type GiveawayResponse struct {
	ID            string         `json:"id"`
	GuildID       int64          `json:"guild_id"`
	ChannelID     int64          `json:"channel_id"`
	HostID        int64          `json:"host_id"`
	Prize         string         `json:"prize"`
	Description   string         `json:"description,omitempty"`
	WinnerCount   int            `json:"winner_count"`
	Status        GiveawayStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	EntryDeadline time.Time      `json:"entry_deadline"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	EntrantCount  int64          `json:"entrant_count"`
	Slots         []SlotView     `json:"slots,omitempty"`
}

// GiveawaySummary is the compact form used by active listings.
type GiveawaySummary struct {
	ID            string    `json:"id"`
	ChannelID     int64     `json:"channel_id"`
	Prize         string    `json:"prize"`
	EntryDeadline time.Time `json:"entry_deadline"`
	WinnerCount   int       `json:"winner_count"`
	EntrantCount  int64     `json:"entrant_count"`
}

// EntryResponse reports the result of an entry attempt.
type EntryResponse struct {
	GiveawayID     string `json:"giveaway_id"`
	AlreadyEntered bool   `json:"already_entered"`
	EntrantCount   int64  `json:"entrant_count"`
}

// ToResponse converts a giveaway to its redacted API form.
func (g *Giveaway) ToResponse(entrantCount int64) *GiveawayResponse {
	resp := &GiveawayResponse{
		ID:            g.ID,
		GuildID:       g.GuildID,
		ChannelID:     g.ChannelID,
		HostID:        g.HostID,
		Prize:         g.Prize,
		Description:   g.Description,
		WinnerCount:   g.WinnerCount,
		Status:        g.Status,
		CreatedAt:     g.CreatedAt,
		EntryDeadline: g.EntryDeadline,
		EntrantCount:  entrantCount,
	}
	if !g.CompletedAt.IsZero() {
		t := g.CompletedAt
		resp.CompletedAt = &t
	}
	for i := range g.Slots {
		s := &g.Slots[i]
		resp.Slots = append(resp.Slots, SlotView{
			SlotIndex:        s.SlotIndex,
			State:            s.State,
			CurrentCandidate: s.CurrentCandidate,
			ClaimDeadline:    s.ClaimDeadline,
			Winner:           s.Winner,
			QueueRemaining:   len(s.CandidateQueue),
		})
	}
	return resp
}

// ToSummary converts a giveaway to its listing form.
func (g *Giveaway) ToSummary(entrantCount int64) *GiveawaySummary {
	return &GiveawaySummary{
		ID:            g.ID,
		ChannelID:     g.ChannelID,
		Prize:         g.Prize,
		EntryDeadline: g.EntryDeadline,
		WinnerCount:   g.WinnerCount,
		EntrantCount:  entrantCount,
	}
}
