package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"giveaway-engine/internal/features/giveaway/models"
	"giveaway-engine/internal/features/giveaway/repository"
)

const (
	keyPrefixGiveaway     = "giveaway:"
	keyActiveGiveaways    = "giveaways:active"
	keyClosedGiveaways    = "giveaways:closed"
	keyCompletedGiveaways = "giveaways:completed"
)

type redisRepository struct {
	client redis.Cmdable
}

func NewRedisGiveawayRepository(client redis.Cmdable) repository.GiveawayRepository {
	return &redisRepository{client: client}
}

// Documents are keyed by guild id plus giveaway id so a full guild history
// survives restarts and can be swept without any in-memory state.
func makeGiveawayKey(ref models.Ref) string {
	return fmt.Sprintf("%s%d:%s", keyPrefixGiveaway, ref.GuildID, ref.ID)
}

func makeEntrantsKey(ref models.Ref) string {
	return makeGiveawayKey(ref) + ":entrants"
}

func makeMember(ref models.Ref) string {
	return fmt.Sprintf("%d:%s", ref.GuildID, ref.ID)
}

func parseMember(member string) (models.Ref, error) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return models.Ref{}, fmt.Errorf("malformed index member %q", member)
	}
	guildID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return models.Ref{}, fmt.Errorf("malformed index member %q: %w", member, err)
	}
	return models.Ref{GuildID: guildID, ID: parts[1]}, nil
}

func statusKey(status models.GiveawayStatus) string {
	switch status {
	case models.GiveawayStatusClosed:
		return keyClosedGiveaways
	case models.GiveawayStatusCompleted:
		return keyCompletedGiveaways
	default:
		return keyActiveGiveaways
	}
}

func (r *redisRepository) Create(ctx context.Context, giveaway *models.Giveaway) error {
	data, err := json.Marshal(giveaway)
	if err != nil {
		return fmt.Errorf("failed to marshal giveaway: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, makeGiveawayKey(giveaway.Ref()), data, 0)
	pipe.SAdd(ctx, statusKey(giveaway.Status), makeMember(giveaway.Ref()))

	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) Get(ctx context.Context, ref models.Ref) (*models.Giveaway, error) {
	data, err := r.client.Get(ctx, makeGiveawayKey(ref)).Bytes()
	if err == redis.Nil {
		return nil, repository.ErrGiveawayNotFound
	}
	if err != nil {
		return nil, err
	}

	var giveaway models.Giveaway
	if err := json.Unmarshal(data, &giveaway); err != nil {
		return nil, err
	}

	return &giveaway, nil
}

// Update rewrites the document and moves its index membership in one
// pipeline, keeping doc and indexes consistent per entity.
func (r *redisRepository) Update(ctx context.Context, giveaway *models.Giveaway) error {
	data, err := json.Marshal(giveaway)
	if err != nil {
		return fmt.Errorf("failed to marshal giveaway: %w", err)
	}

	member := makeMember(giveaway.Ref())
	pipe := r.client.Pipeline()
	pipe.Set(ctx, makeGiveawayKey(giveaway.Ref()), data, 0)
	for _, key := range []string{keyActiveGiveaways, keyClosedGiveaways, keyCompletedGiveaways} {
		if key == statusKey(giveaway.Status) {
			pipe.SAdd(ctx, key, member)
		} else {
			pipe.SRem(ctx, key, member)
		}
	}

	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) AddEntrant(ctx context.Context, ref models.Ref, userID int64) (bool, error) {
	added, err := r.client.SAdd(ctx, makeEntrantsKey(ref), userID).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (r *redisRepository) RemoveEntrant(ctx context.Context, ref models.Ref, userID int64) error {
	return r.client.SRem(ctx, makeEntrantsKey(ref), userID).Err()
}

func (r *redisRepository) Entrants(ctx context.Context, ref models.Ref) ([]int64, error) {
	members, err := r.client.SMembers(ctx, makeEntrantsKey(ref)).Result()
	if err != nil {
		return nil, err
	}

	entrants := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed entrant %q: %w", m, err)
		}
		entrants = append(entrants, id)
	}
	return entrants, nil
}

func (r *redisRepository) EntrantCount(ctx context.Context, ref models.Ref) (int64, error) {
	return r.client.SCard(ctx, makeEntrantsKey(ref)).Result()
}

func (r *redisRepository) ActiveGiveaways(ctx context.Context) ([]models.Ref, error) {
	return r.refsFromIndex(ctx, keyActiveGiveaways)
}

func (r *redisRepository) ClosedGiveaways(ctx context.Context) ([]models.Ref, error) {
	return r.refsFromIndex(ctx, keyClosedGiveaways)
}

func (r *redisRepository) refsFromIndex(ctx context.Context, key string) ([]models.Ref, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	refs := make([]models.Ref, 0, len(members))
	for _, m := range members {
		ref, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (r *redisRepository) ActiveByGuild(ctx context.Context, guildID int64) ([]*models.Giveaway, error) {
	refs, err := r.ActiveGiveaways(ctx)
	if err != nil {
		return nil, err
	}

	var giveaways []*models.Giveaway
	for _, ref := range refs {
		if ref.GuildID != guildID {
			continue
		}
		g, err := r.Get(ctx, ref)
		if err == repository.ErrGiveawayNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		giveaways = append(giveaways, g)
	}
	return giveaways, nil
}

// releaseScript deletes a lock only while the caller still holds it, so an
// expired holder's deferred release cannot remove a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (r *redisRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (r *redisRepository) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, token).Err()
}
