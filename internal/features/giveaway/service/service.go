package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"giveaway-engine/internal/common/cache"
	"giveaway-engine/internal/common/config"
	apperrors "giveaway-engine/internal/common/errors"
	"giveaway-engine/internal/common/logger"
	"giveaway-engine/internal/common/validation"
	"giveaway-engine/internal/features/giveaway/models"
	"giveaway-engine/internal/features/giveaway/repository"
)

type giveawayService struct {
	repo     repository.GiveawayRepository
	cache    *cache.CacheService
	config   *config.Config
	notifier Notifier
	gateway  GuildGateway

	// now is swapped out by tests; all deadline math goes through it.
	now func() time.Time
}

func NewGiveawayService(
	repo repository.GiveawayRepository,
	cache *cache.CacheService,
	config *config.Config,
	notifier Notifier,
	gateway GuildGateway,
) GiveawayService {
	return &giveawayService{
		repo:     repo,
		cache:    cache,
		config:   config,
		notifier: notifier,
		gateway:  gateway,
		now:      time.Now,
	}
}

// One lock per giveaway serializes close, completion and every slot
// transition. Per-slot locks would be unsound here: each transition
// persists the whole document, so two slots written under different locks
// could clobber each other's committed state.
func giveawayLockKey(ref models.Ref) string {
	return fmt.Sprintf("lock:giveaway:%d:%s", ref.GuildID, ref.ID)
}

// waitGiveawayLock polls for the lock for up to lockWait before giving up.
func (s *giveawayService) waitGiveawayLock(ctx context.Context, ref models.Ref) (string, error) {
	deadline := time.Now().Add(lockWait)
	for {
		token, err := s.repo.AcquireLock(ctx, giveawayLockKey(ref), LockTTL)
		if err != nil || token != "" {
			return token, err
		}
		if time.Now().After(deadline) {
			return "", nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s *giveawayService) releaseGiveawayLock(ctx context.Context, ref models.Ref, token string) {
	if err := s.repo.ReleaseLock(ctx, giveawayLockKey(ref), token); err != nil {
		logger.Warn().Err(err).Str("giveaway_id", ref.ID).Msg("Failed to release lock")
	}
}

func validateCreate(input *models.GiveawayCreate) error {
	if err := validation.ValidatePrize(input.Prize); err != nil {
		return err
	}
	if err := validation.ValidateDescription(input.Description); err != nil {
		return err
	}
	if err := validation.ValidateCodes(input.Codes); err != nil {
		return err
	}
	if err := validation.ValidateWinnerCount(input.WinnerCount); err != nil {
		return err
	}
	if err := validation.ValidateDuration(time.Duration(input.DurationSeconds) * time.Second); err != nil {
		return err
	}
	return validation.ValidateClaimTimeout(time.Duration(input.ClaimTimeoutSeconds) * time.Second)
}

func (s *giveawayService) Create(ctx context.Context, guildID int64, input *models.GiveawayCreate) (*models.GiveawayResponse, error) {
	if err := validateCreate(input); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, err.Error())
	}

	now := s.now()
	giveaway := &models.Giveaway{
		ID:            uuid.New().String(),
		GuildID:       guildID,
		ChannelID:     input.ChannelID,
		HostID:        input.HostID,
		Prize:         input.Prize,
		Description:   input.Description,
		Codes:         input.Codes,
		WinnerCount:   input.WinnerCount,
		ClaimTimeout:  input.ClaimTimeoutSeconds,
		CreatedAt:     now,
		EntryDeadline: now.Add(time.Duration(input.DurationSeconds) * time.Second),
		UpdatedAt:     now,
		Status:        models.GiveawayStatusActive,
	}

	if err := s.repo.Create(ctx, giveaway); err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateGiveaway(ctx, guildID, giveaway.ID); err != nil {
		logger.Warn().Err(err).Str("giveaway_id", giveaway.ID).Msg("Failed to invalidate cache")
	}

	logger.Info().
		Str("giveaway_id", giveaway.ID).
		Int64("guild_id", guildID).
		Time("entry_deadline", giveaway.EntryDeadline).
		Int("winner_count", giveaway.WinnerCount).
		Msg("Giveaway created")

	return giveaway.ToResponse(0), nil
}

func (s *giveawayService) Get(ctx context.Context, ref models.Ref) (*models.GiveawayResponse, error) {
	giveaway, err := s.repo.Get(ctx, ref)
	if err == repository.ErrGiveawayNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	count, err := s.repo.EntrantCount(ctx, ref)
	if err != nil {
		return nil, err
	}

	return giveaway.ToResponse(count), nil
}

func (s *giveawayService) ListActive(ctx context.Context, guildID int64) ([]*models.GiveawaySummary, error) {
	var summaries []*models.GiveawaySummary
	cacheKey := fmt.Sprintf("active_giveaways:%d", guildID)

	err := s.cache.GetOrSet(ctx, cacheKey, &summaries, s.config.Cache.ActiveListTTL, func() (interface{}, error) {
		giveaways, err := s.repo.ActiveByGuild(ctx, guildID)
		if err != nil {
			return nil, err
		}

		result := make([]*models.GiveawaySummary, 0, len(giveaways))
		for _, g := range giveaways {
			count, err := s.repo.EntrantCount(ctx, g.Ref())
			if err != nil {
				return nil, err
			}
			result = append(result, g.ToSummary(count))
		}
		return result, nil
	})

	if err != nil {
		return nil, err
	}

	return summaries, nil
}

func (s *giveawayService) Enter(ctx context.Context, ref models.Ref, userID int64) (*models.EntryResponse, error) {
	giveaway, err := s.repo.Get(ctx, ref)
	if err == repository.ErrGiveawayNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// The deadline check closes the window between the deadline passing
	// and the sweeper performing the close, so late entries can never
	// slip into the frozen candidate pool.
	if giveaway.Status != models.GiveawayStatusActive || giveaway.HasEnded(s.now()) {
		return nil, ErrEntryClosed
	}

	added, err := s.repo.AddEntrant(ctx, ref, userID)
	if err != nil {
		return nil, err
	}

	// Re-check after the write: a force close may have frozen the entrant
	// pool between the status read and the SAdd. If the draw caught the
	// user anyway their entry stands; otherwise it is rolled back so a
	// reported success always means a shot at winning.
	if added {
		fresh, err := s.repo.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		if fresh.Status != models.GiveawayStatusActive && !fresh.HasCandidate(userID) {
			if err := s.repo.RemoveEntrant(ctx, ref, userID); err != nil {
				logger.Warn().Err(err).Str("giveaway_id", ref.ID).Int64("user_id", userID).Msg("Failed to roll back late entry")
			}
			return nil, ErrEntryClosed
		}
	}

	count, err := s.repo.EntrantCount(ctx, ref)
	if err != nil {
		return nil, err
	}

	if added {
		if err := s.cache.InvalidateGiveaway(ctx, ref.GuildID, ref.ID); err != nil {
			logger.Warn().Err(err).Str("giveaway_id", ref.ID).Msg("Failed to invalidate cache")
		}
		logger.Debug().
			Str("giveaway_id", ref.ID).
			Int64("user_id", userID).
			Int64("entrant_count", count).
			Msg("Entrant registered")
	}

	return &models.EntryResponse{
		GiveawayID:     ref.ID,
		AlreadyEntered: !added,
		EntrantCount:   count,
	}, nil
}

func (s *giveawayService) ForceClose(ctx context.Context, ref models.Ref) error {
	if _, err := s.repo.Get(ctx, ref); err == repository.ErrGiveawayNotFound {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return s.closeGiveaway(ctx, ref)
}

// closeGiveaway performs the guarded active->closed transition: freeze the
// entrant set, draw the winner slots, activate every slot. Exactly one
// caller wins the per-giveaway lock; everyone else observes the
// post-transition status and no-ops.
func (s *giveawayService) closeGiveaway(ctx context.Context, ref models.Ref) error {
	token, err := s.repo.AcquireLock(ctx, giveawayLockKey(ref), LockTTL)
	if err != nil {
		return err
	}
	if token == "" {
		logger.Debug().Str("giveaway_id", ref.ID).Msg("Close already in progress")
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
	if giveaway.Status != models.GiveawayStatusActive {
		// Lost the race; the winner already closed it.
		return nil
	}

	now := s.now()
	entrants, err := s.repo.Entrants(ctx, ref)
	if err != nil {
		return err
	}

	slots, err := buildSlots(entrants, giveaway.WinnerCount)
	if err != nil {
		return err
	}
	if len(slots) < giveaway.WinnerCount {
		logger.Info().
			Str("giveaway_id", ref.ID).
			Int("requested", giveaway.WinnerCount).
			Int("drawn", len(slots)).
			Int("entrants", len(entrants)).
			Msg("Fewer entrants than winner slots; capping")
	}

	giveaway.Slots = slots
	giveaway.Status = models.GiveawayStatusClosed
	giveaway.UpdatedAt = now

	if err := s.notifier.GiveawayEnded(ctx, giveaway, int64(len(entrants))); err != nil {
		logger.Warn().Err(err).Str("giveaway_id", ref.ID).Msg("Failed to announce giveaway end")
	}

	for i := range giveaway.Slots {
		s.activateSlot(ctx, giveaway, &giveaway.Slots[i], now)
	}

	if err := s.repo.Update(ctx, giveaway); err != nil {
		return err
	}

	if err := s.cache.InvalidateGiveaway(ctx, ref.GuildID, ref.ID); err != nil {
		logger.Warn().Err(err).Str("giveaway_id", ref.ID).Msg("Failed to invalidate cache")
	}

	logger.Info().
		Str("giveaway_id", ref.ID).
		Int("slots", len(giveaway.Slots)).
		Msg("Giveaway closed")

	return nil
}

// completeGiveaway performs the guarded closed->completed transition once
// every slot is terminal. The completed record is immutable afterwards.
func (s *giveawayService) completeGiveaway(ctx context.Context, ref models.Ref) error {
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
	if giveaway.Status != models.GiveawayStatusClosed || !giveaway.AllSlotsTerminal() {
		return nil
	}

	now := s.now()
	giveaway.Status = models.GiveawayStatusCompleted
	giveaway.CompletedAt = now
	giveaway.UpdatedAt = now

	if err := s.repo.Update(ctx, giveaway); err != nil {
		return err
	}

	if err := s.notifier.CompletionSummary(ctx, giveaway); err != nil {
		logger.Warn().Err(err).Str("giveaway_id", ref.ID).Msg("Failed to send completion summary")
	}

	logger.Info().
		Str("giveaway_id", ref.ID).
		Ints64("winners", giveaway.Winners()).
		Bool("underflowed", giveaway.Underflowed()).
		Msg("Giveaway completed")

	return nil
}
