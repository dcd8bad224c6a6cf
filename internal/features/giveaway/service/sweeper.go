package service

import (
	"context"
	"sync"
	"time"

	"giveaway-engine/internal/common/logger"
	"giveaway-engine/internal/features/giveaway/models"
)

// Sweep runs one pass of the background reconciliation: close giveaways
// whose entry window ended, time out overdue offers, and retire closed
// giveaways whose every slot is settled. Each pass re-reads state from
// the store, so a restarted process picks up exactly where the previous
// one stopped.
func (s *giveawayService) Sweep(ctx context.Context) error {
	now := s.now()

	active, err := s.repo.ActiveGiveaways(ctx)
	if err != nil {
		return err
	}
	for _, ref := range active {
		giveaway, err := s.repo.Get(ctx, ref)
		if err != nil {
			logger.Warn().Err(err).Str("giveaway_id", ref.ID).Msg("Sweep failed to load giveaway")
			continue
		}
		if !giveaway.HasEnded(now) {
			continue
		}
		if err := s.closeGiveaway(ctx, ref); err != nil {
			logger.Error().Err(err).Str("giveaway_id", ref.ID).Msg("Sweep failed to close giveaway")
		}
	}

	closed, err := s.repo.ClosedGiveaways(ctx)
	if err != nil {
		return err
	}
	for _, ref := range closed {
		giveaway, err := s.repo.Get(ctx, ref)
		if err != nil {
			logger.Warn().Err(err).Str("giveaway_id", ref.ID).Msg("Sweep failed to load giveaway")
			continue
		}

		for i := range giveaway.Slots {
			slot := &giveaway.Slots[i]
			if slot.State != models.SlotStateOffered || !slot.DeadlinePassed(now) {
				continue
			}
			if err := s.expireSlot(ctx, ref, slot.SlotIndex); err != nil {
				logger.Error().Err(err).
					Str("giveaway_id", ref.ID).
					Int("slot", slot.SlotIndex).
					Msg("Sweep failed to expire slot")
			}
		}

		// Re-read: expirations above may have settled the last slot.
		giveaway, err = s.repo.Get(ctx, ref)
		if err != nil {
			continue
		}
		if giveaway.AllSlotsTerminal() {
			if err := s.completeGiveaway(ctx, ref); err != nil {
				logger.Error().Err(err).Str("giveaway_id", ref.ID).Msg("Sweep failed to complete giveaway")
			}
		}
	}

	return nil
}

// Sweeper drives Sweep on a fixed interval.
type Sweeper struct {
	ctx      context.Context
	cancel   context.CancelFunc
	service  GiveawayService
	interval time.Duration
	wg       sync.WaitGroup
}

func NewSweeper(service GiveawayService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		ctx:      ctx,
		cancel:   cancel,
		service:  service,
		interval: interval,
	}
}

func (s *Sweeper) Start() {
	logger.Info().Dur("interval", s.interval).Msg("Starting sweeper")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.service.Sweep(s.ctx); err != nil {
					logger.Error().Err(err).Msg("Sweep pass failed")
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	logger.Info().Msg("Stopping sweeper")
	s.cancel()
	s.wg.Wait()
}
