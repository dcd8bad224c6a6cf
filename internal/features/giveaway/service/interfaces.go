package service

import (
	"context"
	"time"

	"giveaway-engine/internal/features/giveaway/models"
)

// GiveawayService drives the giveaway lifecycle: entry registration, the
// guarded close, the per-slot claim protocol and completion.
type GiveawayService interface {
	Create(ctx context.Context, guildID int64, input *models.GiveawayCreate) (*models.GiveawayResponse, error)
	Get(ctx context.Context, ref models.Ref) (*models.GiveawayResponse, error)
	ListActive(ctx context.Context, guildID int64) ([]*models.GiveawaySummary, error)

	Enter(ctx context.Context, ref models.Ref, userID int64) (*models.EntryResponse, error)

	// ForceClose performs the same guarded active->closed transition the
	// sweeper performs; racing callers no-op.
	ForceClose(ctx context.Context, ref models.Ref) error

	// Respond handles a candidate's accept/decline. Stale responses are
	// swallowed after a debug log.
	Respond(ctx context.Context, ref models.Ref, slotIndex int, userID int64, accepted bool) error

	// Sweep runs one tick of time-based transitions: closes overdue
	// giveaways, expires overdue claim offers, completes finished
	// giveaways. Safe to run concurrently with user calls and with
	// itself; all transitions are lock-guarded and idempotent.
	Sweep(ctx context.Context) error
}

// Notifier is the messaging collaborator. The engine emits payloads only;
// rendering happens in the bot front-end. Implementations retry delivery by
// their own policy; the engine never blocks state transitions on them.
type Notifier interface {
	GiveawayEnded(ctx context.Context, g *models.Giveaway, entrantCount int64) error

	// ClaimOffer is a direct message to the candidate. A delivery failure
	// (recipient rejects DMs) makes the coordinator fall back to
	// ClaimOfferFallback in the giveaway channel.
	ClaimOffer(ctx context.Context, g *models.Giveaway, slotIndex int, userID int64, deadline time.Time) error
	ClaimOfferFallback(ctx context.Context, g *models.Giveaway, slotIndex int, userID int64, deadline time.Time) error

	CodeDelivery(ctx context.Context, g *models.Giveaway, slotIndex int, userID int64, code string) error
	WinnerAnnouncement(ctx context.Context, g *models.Giveaway, slotIndex int, userID int64) error
	RerollAnnouncement(ctx context.Context, g *models.Giveaway, slotIndex int, previous int64, reason models.RerollReason) error
	ExhaustedAnnouncement(ctx context.Context, g *models.Giveaway, slotIndex int) error
	CompletionSummary(ctx context.Context, g *models.Giveaway) error
}

// GuildGateway answers guild membership queries for the eligibility check
// performed at offer activation.
type GuildGateway interface {
	IsMember(ctx context.Context, guildID, userID int64) (bool, error)
}
