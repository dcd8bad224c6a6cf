package service

import (
	"context"
	"time"

	apperrors "giveaway-engine/internal/common/errors"
	"giveaway-engine/internal/common/logger"
	"giveaway-engine/internal/features/giveaway/models"
	"giveaway-engine/internal/features/giveaway/repository"
)

// activateSlot pops candidates until one receives an offer or the queue
// runs out. Mutates the slot in place; the caller owns persistence.
func (s *giveawayService) activateSlot(ctx context.Context, giveaway *models.Giveaway, slot *models.WinnerSlot, now time.Time) {
	for {
		candidate, ok := slot.PopCandidate()
		if !ok {
			slot.State = models.SlotStateExhausted
			slot.CurrentCandidate = 0
			slot.ClaimDeadline = 0
			slot.ResolvedAt = now.Unix()
			if err := s.notifier.ExhaustedAnnouncement(ctx, giveaway, slot.SlotIndex); err != nil {
				logger.Warn().Err(err).
					Str("giveaway_id", giveaway.ID).
					Int("slot", slot.SlotIndex).
					Msg("Failed to announce exhausted slot")
			}
			return
		}

		member, err := s.gateway.IsMember(ctx, giveaway.GuildID, candidate)
		if err != nil {
			// Cannot verify; assume still present rather than burn the
			// candidate on a gateway hiccup.
			logger.Warn().Err(err).
				Int64("user_id", candidate).
				Str("giveaway_id", giveaway.ID).
				Msg("Membership check failed, treating as member")
			member = true
		}
		if !member {
			logger.Debug().
				Int64("user_id", candidate).
				Str("giveaway_id", giveaway.ID).
				Int("slot", slot.SlotIndex).
				Msg("Candidate left the guild, skipping")
			continue
		}

		deadline := now.Add(giveaway.ClaimWindow())
		slot.State = models.SlotStateOffered
		slot.CurrentCandidate = candidate
		slot.ClaimDeadline = deadline.Unix()
		slot.OfferedAt = now.Unix()

		if err := s.notifier.ClaimOffer(ctx, giveaway, slot.SlotIndex, candidate, deadline); err != nil {
			if apperrors.IsDeliveryFailure(err) {
				logger.Info().
					Int64("user_id", candidate).
					Str("giveaway_id", giveaway.ID).
					Msg("Direct message blocked, falling back to channel mention")
				if err := s.notifier.ClaimOfferFallback(ctx, giveaway, slot.SlotIndex, candidate, deadline); err != nil {
					logger.Error().Err(err).
						Int64("user_id", candidate).
						Str("giveaway_id", giveaway.ID).
						Msg("Fallback claim notification failed")
				}
			} else {
				logger.Error().Err(err).
					Int64("user_id", candidate).
					Str("giveaway_id", giveaway.ID).
					Msg("Claim notification failed")
			}
		}
		// The offer stands even when both notifications fail: the
		// deadline is persisted, so the sweeper rerolls on schedule.
		return
	}
}

func (s *giveawayService) Respond(ctx context.Context, ref models.Ref, slotIndex int, userID int64, accepted bool) error {
	token, err := s.waitGiveawayLock(ctx, ref)
	if err != nil {
		return err
	}
	if token == "" {
		logger.Debug().
			Str("giveaway_id", ref.ID).
			Int("slot", slotIndex).
			Msg("Giveaway busy, dropping response")
		return nil
	}
	defer s.releaseGiveawayLock(ctx, ref, token)

	giveaway, err := s.repo.Get(ctx, ref)
	if err == repository.ErrGiveawayNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if slotIndex < 0 || slotIndex >= len(giveaway.Slots) {
		return ErrSlotNotFound
	}
	slot := &giveaway.Slots[slotIndex]

	// A response is acted on only while this exact user holds the open
	// offer on this exact slot. Everything else is a leftover button
	// press and is dropped without a user-facing error.
	if giveaway.Status != models.GiveawayStatusClosed ||
		slot.State != models.SlotStateOffered ||
		slot.CurrentCandidate != userID {
		logger.Debug().
			Str("giveaway_id", ref.ID).
			Int("slot", slotIndex).
			Int64("user_id", userID).
			Str("slot_state", string(slot.State)).
			Msg("Stale claim response ignored")
		return nil
	}

	if accepted {
		return s.acceptSlot(ctx, giveaway, slot, userID)
	}
	return s.advanceSlot(ctx, giveaway, slot, userID, models.RerollDeclined)
}

// acceptSlot binds a code and commits before any notification goes out,
// so a crash after the write can only ever duplicate messages, never
// re-select the winner or re-bind the code.
func (s *giveawayService) acceptSlot(ctx context.Context, giveaway *models.Giveaway, slot *models.WinnerSlot, userID int64) error {
	now := s.now()
	code := giveaway.NextCode()

	slot.State = models.SlotStateClaimed
	slot.Winner = userID
	slot.AssignedCode = code
	slot.CurrentCandidate = 0
	slot.ClaimDeadline = 0
	slot.ResolvedAt = now.Unix()
	giveaway.UpdatedAt = now

	if err := s.repo.Update(ctx, giveaway); err != nil {
		return err
	}

	logger.Info().
		Str("giveaway_id", giveaway.ID).
		Int("slot", slot.SlotIndex).
		Int64("winner", userID).
		Msg("Prize claimed")

	if err := s.notifier.CodeDelivery(ctx, giveaway, slot.SlotIndex, userID, code); err != nil {
		// The claim is already committed, so the worst case here is the
		// winner asking the host for the code. The public announcement
		// below still points at them.
		logger.Error().Err(err).
			Int64("user_id", userID).
			Str("giveaway_id", giveaway.ID).
			Msg("Code delivery failed")
	}
	if err := s.notifier.WinnerAnnouncement(ctx, giveaway, slot.SlotIndex, userID); err != nil {
		logger.Warn().Err(err).Str("giveaway_id", giveaway.ID).Msg("Winner announcement failed")
	}

	return nil
}

// advanceSlot retires the current candidate and moves the slot to the
// next one (or exhaustion) in a single persisted step.
func (s *giveawayService) advanceSlot(ctx context.Context, giveaway *models.Giveaway, slot *models.WinnerSlot, previous int64, reason models.RerollReason) error {
	now := s.now()
	slot.State = models.SlotStatePending
	slot.CurrentCandidate = 0
	slot.ClaimDeadline = 0

	logger.Info().
		Str("giveaway_id", giveaway.ID).
		Int("slot", slot.SlotIndex).
		Int64("previous", previous).
		Str("reason", string(reason)).
		Msg("Rerolling slot")

	if err := s.notifier.RerollAnnouncement(ctx, giveaway, slot.SlotIndex, previous, reason); err != nil {
		logger.Warn().Err(err).Str("giveaway_id", giveaway.ID).Msg("Reroll announcement failed")
	}

	s.activateSlot(ctx, giveaway, slot, now)

	giveaway.UpdatedAt = now
	return s.repo.Update(ctx, giveaway)
}

// expireSlot times out an overdue offer. Safe to call from concurrent
// sweeps; the post-lock re-read drops the duplicate, and a lost lock just
// defers the expiry to the next tick.
func (s *giveawayService) expireSlot(ctx context.Context, ref models.Ref, slotIndex int) error {
	token, err := s.repo.AcquireLock(ctx, giveawayLockKey(ref), LockTTL)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	defer s.releaseGiveawayLock(ctx, ref, token)

	giveaway, err := s.repo.Get(ctx, ref)
	if err == repository.ErrGiveawayNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if slotIndex < 0 || slotIndex >= len(giveaway.Slots) {
		return ErrSlotNotFound
	}

	slot := &giveaway.Slots[slotIndex]
	if slot.State != models.SlotStateOffered || !slot.DeadlinePassed(s.now()) {
		return nil
	}

	return s.advanceSlot(ctx, giveaway, slot, slot.CurrentCandidate, models.RerollTimeout)
}
