package models

import "time"

// SlotState represents the claim state machine of a single winner slot.
//
//	pending --activate--> offered --accept--> claimed
//	offered --decline/expire/ineligible--> offered (next candidate)
//	offered --decline/expire/ineligible, empty queue--> exhausted
type SlotState string

const (
	SlotStatePending   SlotState = "pending"
	SlotStateOffered   SlotState = "offered"
	SlotStateClaimed   SlotState = "claimed"
	SlotStateExhausted SlotState = "exhausted"
)

// RerollReason records why a slot advanced past a candidate.
type RerollReason string

const (
	RerollDeclined   RerollReason = "declined"
	RerollTimeout    RerollReason = "timeout"
	RerollIneligible RerollReason = "ineligible" // left the guild; no public announcement
)

// WinnerSlot is one awarded position. Its candidate queue is disjoint from
// every other slot's queue in the same giveaway, so no participant can be a
// fallback for two slots.
type WinnerSlot struct {
	SlotIndex int `json:"slot_index"`

	CandidateQueue   []int64 `json:"candidate_queue"`
	CurrentCandidate int64   `json:"current_candidate,omitempty"` // 0 = none

	// ClaimDeadline is an absolute unix timestamp so the sweeper can
	// resume timing after a restart. 0 = no pending deadline.
	ClaimDeadline int64 `json:"claim_deadline,omitempty"`

	State SlotState `json:"state"`

	AssignedCode string `json:"assigned_code,omitempty"`
	Winner       int64  `json:"winner,omitempty"`

	OfferedAt  int64 `json:"offered_at,omitempty"`
	ResolvedAt int64 `json:"resolved_at,omitempty"`
}

// Terminal reports whether the slot can never change again.
func (s *WinnerSlot) Terminal() bool {
	return s.State == SlotStateClaimed || s.State == SlotStateExhausted
}

// DeadlinePassed reports whether an offered slot's claim window is over.
func (s *WinnerSlot) DeadlinePassed(now time.Time) bool {
	return s.State == SlotStateOffered && s.ClaimDeadline != 0 && now.Unix() >= s.ClaimDeadline
}

// PopCandidate removes and returns the front of the queue.
func (s *WinnerSlot) PopCandidate() (int64, bool) {
	if len(s.CandidateQueue) == 0 {
		return 0, false
	}
	next := s.CandidateQueue[0]
	s.CandidateQueue = s.CandidateQueue[1:]
	return next, true
}
