package service

import (
	"fmt"

	"giveaway-engine/internal/features/giveaway/models"
	"giveaway-engine/internal/utils/random"
)

// buildSlots draws the winner slots for a closing giveaway: a uniform
// shuffle of the frozen entrant set split into contiguous disjoint candidate
// queues, one per slot. Disjointness guarantees no participant can be a
// fallback candidate for two slots. When entrants are scarcer than the
// requested winner count, fewer slots are drawn; the caller logs and reports
// the underflow.
func buildSlots(entrants []int64, winnerCount int) ([]models.WinnerSlot, error) {
	if winnerCount > len(entrants) {
		winnerCount = len(entrants)
	}
	if winnerCount <= 0 {
		return nil, nil
	}

	shuffled := make([]int64, len(entrants))
	copy(shuffled, entrants)
	if err := random.Shuffle(shuffled); err != nil {
		return nil, fmt.Errorf("failed to shuffle entrants: %w", err)
	}

	slots := make([]models.WinnerSlot, winnerCount)
	base := len(shuffled) / winnerCount
	extra := len(shuffled) % winnerCount
	idx := 0
	for i := 0; i < winnerCount; i++ {
		n := base
		if i < extra {
			n++
		}
		queue := append([]int64(nil), shuffled[idx:idx+n]...)
		idx += n
		slots[i] = models.WinnerSlot{
			SlotIndex:      i,
			CandidateQueue: queue,
			State:          models.SlotStatePending,
		}
	}
	return slots, nil
}
