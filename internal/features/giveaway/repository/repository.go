package repository

import (
	"context"
	"errors"
	"time"

	"giveaway-engine/internal/features/giveaway/models"
)

var ErrGiveawayNotFound = errors.New("giveaway not found")

// GiveawayRepository is the durable store for giveaways and their winner
// slots. Every write is a whole-entity document write committed atomically
// together with the status index moves, so a failed write can never leave a
// slot half-transitioned.
type GiveawayRepository interface {
	Create(ctx context.Context, giveaway *models.Giveaway) error
	Get(ctx context.Context, ref models.Ref) (*models.Giveaway, error)
	Update(ctx context.Context, giveaway *models.Giveaway) error

	AddEntrant(ctx context.Context, ref models.Ref, userID int64) (bool, error)
	RemoveEntrant(ctx context.Context, ref models.Ref, userID int64) error
	Entrants(ctx context.Context, ref models.Ref) ([]int64, error)
	EntrantCount(ctx context.Context, ref models.Ref) (int64, error)

	ActiveGiveaways(ctx context.Context) ([]models.Ref, error)
	ClosedGiveaways(ctx context.Context) ([]models.Ref, error)
	ActiveByGuild(ctx context.Context, guildID int64) ([]*models.Giveaway, error)

	// AcquireLock takes the named SETNX lock and returns the holder token,
	// or "" when another actor holds it. ReleaseLock deletes the lock only
	// while the token still matches, so a holder that outlived its TTL
	// cannot delete a successor's lock.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}
