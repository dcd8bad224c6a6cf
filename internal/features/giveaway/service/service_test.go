package service

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giveaway-engine/internal/common/cache"
	"giveaway-engine/internal/common/config"
	apperrors "giveaway-engine/internal/common/errors"
	"giveaway-engine/internal/features/giveaway/models"
	"giveaway-engine/internal/features/giveaway/repository"
	redisrepo "giveaway-engine/internal/features/giveaway/repository/redis"
)

type notifierEvent struct {
	Kind      string
	SlotIndex int
	UserID    int64
}

// fakeNotifier records every emitted event and can simulate blocked DMs.
type fakeNotifier struct {
	mu     sync.Mutex
	events []notifierEvent
	failDM map[int64]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failDM: make(map[int64]bool)}
}

func (n *fakeNotifier) record(kind string, slotIndex int, userID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifierEvent{Kind: kind, SlotIndex: slotIndex, UserID: userID})
}

func (n *fakeNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Kind == kind {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) last(kind string) (notifierEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].Kind == kind {
			return n.events[i], true
		}
	}
	return notifierEvent{}, false
}

func (n *fakeNotifier) GiveawayEnded(_ context.Context, g *models.Giveaway, _ int64) error {
	n.record("ended", -1, 0)
	return nil
}

func (n *fakeNotifier) ClaimOffer(_ context.Context, g *models.Giveaway, slotIndex int, userID int64, _ time.Time) error {
	n.mu.Lock()
	blocked := n.failDM[userID]
	n.mu.Unlock()
	if blocked {
		return apperrors.NewDeliveryFailureError(userID, nil)
	}
	n.record("offer", slotIndex, userID)
	return nil
}

func (n *fakeNotifier) ClaimOfferFallback(_ context.Context, g *models.Giveaway, slotIndex int, userID int64, _ time.Time) error {
	n.record("offer_fallback", slotIndex, userID)
	return nil
}

func (n *fakeNotifier) CodeDelivery(_ context.Context, g *models.Giveaway, slotIndex int, userID int64, code string) error {
	n.mu.Lock()
	blocked := n.failDM[userID]
	n.mu.Unlock()
	if blocked {
		return apperrors.NewDeliveryFailureError(userID, nil)
	}
	n.record("code:"+code, slotIndex, userID)
	return nil
}

func (n *fakeNotifier) WinnerAnnouncement(_ context.Context, g *models.Giveaway, slotIndex int, userID int64) error {
	n.record("winner", slotIndex, userID)
	return nil
}

func (n *fakeNotifier) RerollAnnouncement(_ context.Context, g *models.Giveaway, slotIndex int, previous int64, reason models.RerollReason) error {
	n.record("reroll:"+string(reason), slotIndex, previous)
	return nil
}

func (n *fakeNotifier) ExhaustedAnnouncement(_ context.Context, g *models.Giveaway, slotIndex int) error {
	n.record("exhausted", slotIndex, 0)
	return nil
}

func (n *fakeNotifier) CompletionSummary(_ context.Context, g *models.Giveaway) error {
	n.record("summary", -1, 0)
	return nil
}

// fakeGateway treats every user as a member unless marked departed.
type fakeGateway struct {
	mu       sync.Mutex
	departed map[int64]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{departed: make(map[int64]bool)}
}

func (g *fakeGateway) IsMember(_ context.Context, _, userID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.departed[userID], nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	svc      *giveawayService
	repo     repository.GiveawayRepository
	notifier *fakeNotifier
	gateway  *fakeGateway
	clock    *testClock
}

func setupService(t *testing.T) *testEnv {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{}
	cfg.Cache.ActiveListTTL = time.Second
	cfg.Cache.EntrantCountTTL = time.Second

	repo := redisrepo.NewRedisGiveawayRepository(client)
	notifier := newFakeNotifier()
	gateway := newFakeGateway()
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	svc := NewGiveawayService(repo, cache.NewCacheService(client), cfg, notifier, gateway).(*giveawayService)
	svc.now = clock.Now

	return &testEnv{svc: svc, repo: repo, notifier: notifier, gateway: gateway, clock: clock}
}

func (e *testEnv) createGiveaway(t *testing.T, winnerCount int, codes []string) models.Ref {
	resp, err := e.svc.Create(context.Background(), 100, &models.GiveawayCreate{
		ChannelID:           200,
		HostID:              300,
		Prize:               "Steam Key",
		Codes:               codes,
		DurationSeconds:     3600,
		WinnerCount:         winnerCount,
		ClaimTimeoutSeconds: 600,
	})
	require.NoError(t, err)
	return models.Ref{GuildID: 100, ID: resp.ID}
}

func (e *testEnv) enterAll(t *testing.T, ref models.Ref, users ...int64) {
	for _, u := range users {
		_, err := e.svc.Enter(context.Background(), ref, u)
		require.NoError(t, err)
	}
}

func (e *testEnv) get(t *testing.T, ref models.Ref) *models.Giveaway {
	g, err := e.repo.Get(context.Background(), ref)
	require.NoError(t, err)
	return g
}

func TestService_CreateRejectsInvalidInput(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, 100, &models.GiveawayCreate{
		ChannelID:           200,
		HostID:              300,
		Prize:               "Key",
		Codes:               []string{"c"},
		DurationSeconds:     3600,
		WinnerCount:         21,
		ClaimTimeoutSeconds: 600,
	})
	assert.Error(t, err)

	_, err = env.svc.Create(ctx, 100, &models.GiveawayCreate{
		ChannelID:           200,
		HostID:              300,
		Prize:               "Key",
		Codes:               nil,
		DurationSeconds:     3600,
		WinnerCount:         1,
		ClaimTimeoutSeconds: 600,
	})
	assert.Error(t, err)
}

func TestService_EnterDeduplicatesAndReportsCount(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})

	resp, err := env.svc.Enter(ctx, ref, 42)
	require.NoError(t, err)
	assert.False(t, resp.AlreadyEntered)
	assert.Equal(t, int64(1), resp.EntrantCount)

	resp, err = env.svc.Enter(ctx, ref, 42)
	require.NoError(t, err)
	assert.True(t, resp.AlreadyEntered)
	assert.Equal(t, int64(1), resp.EntrantCount)
}

func TestService_EnterRejectedAfterDeadline(t *testing.T) {
	env := setupService(t)
	ref := env.createGiveaway(t, 1, []string{"code"})

	env.clock.Advance(2 * time.Hour)

	_, err := env.svc.Enter(context.Background(), ref, 42)
	assert.ErrorIs(t, err, ErrEntryClosed)
}

func TestService_EnterRejectedAfterClose(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})
	env.enterAll(t, ref, 1, 2)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	_, err := env.svc.Enter(ctx, ref, 42)
	assert.ErrorIs(t, err, ErrEntryClosed)
}

func TestService_ForceCloseDrawsSlotsAndOffers(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 2, []string{"c1", "c2"})
	env.enterAll(t, ref, 1, 2, 3, 4, 5)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	assert.Equal(t, models.GiveawayStatusClosed, g.Status)
	require.Len(t, g.Slots, 2)

	wantDeadline := env.clock.Now().Add(10 * time.Minute).Unix()
	for _, slot := range g.Slots {
		assert.Equal(t, models.SlotStateOffered, slot.State)
		assert.NotZero(t, slot.CurrentCandidate)
		assert.Equal(t, wantDeadline, slot.ClaimDeadline)
	}

	assert.Equal(t, 1, env.notifier.count("ended"))
	assert.Equal(t, 2, env.notifier.count("offer"))
}

func TestService_ForceCloseIsIdempotent(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})
	env.enterAll(t, ref, 1, 2, 3)

	require.NoError(t, env.svc.ForceClose(ctx, ref))
	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	assert.Len(t, g.Slots, 1)
	assert.Equal(t, 1, env.notifier.count("ended"))
	assert.Equal(t, 1, env.notifier.count("offer"))
}

func TestService_AcceptBindsCodeAndAnnounces(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"WIN-123"})
	env.enterAll(t, ref, 1, 2, 3)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	candidate := g.Slots[0].CurrentCandidate

	require.NoError(t, env.svc.Respond(ctx, ref, 0, candidate, true))

	g = env.get(t, ref)
	slot := g.Slots[0]
	assert.Equal(t, models.SlotStateClaimed, slot.State)
	assert.Equal(t, candidate, slot.Winner)
	assert.Equal(t, "WIN-123", slot.AssignedCode)
	assert.Zero(t, slot.CurrentCandidate)
	assert.Zero(t, slot.ClaimDeadline)

	assert.Equal(t, 1, env.notifier.count("code:WIN-123"))
	assert.Equal(t, 1, env.notifier.count("winner"))
}

func TestService_DeclineAdvancesToNextCandidate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})
	env.enterAll(t, ref, 1, 2, 3)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	first := g.Slots[0].CurrentCandidate

	require.NoError(t, env.svc.Respond(ctx, ref, 0, first, false))

	g = env.get(t, ref)
	slot := g.Slots[0]
	assert.Equal(t, models.SlotStateOffered, slot.State)
	assert.NotZero(t, slot.CurrentCandidate)
	assert.NotEqual(t, first, slot.CurrentCandidate)

	assert.Equal(t, 1, env.notifier.count("reroll:declined"))
	assert.Equal(t, 2, env.notifier.count("offer"))
}

func TestService_StaleResponseIsIgnored(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})
	env.enterAll(t, ref, 1, 2, 3)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	candidate := g.Slots[0].CurrentCandidate
	stranger := int64(9999)

	// Not the current candidate.
	require.NoError(t, env.svc.Respond(ctx, ref, 0, stranger, true))
	g = env.get(t, ref)
	assert.Equal(t, models.SlotStateOffered, g.Slots[0].State)
	assert.Equal(t, candidate, g.Slots[0].CurrentCandidate)

	// Double response: the second press hits a settled slot.
	require.NoError(t, env.svc.Respond(ctx, ref, 0, candidate, true))
	require.NoError(t, env.svc.Respond(ctx, ref, 0, candidate, false))
	g = env.get(t, ref)
	assert.Equal(t, models.SlotStateClaimed, g.Slots[0].State)
	assert.Equal(t, candidate, g.Slots[0].Winner)
}

func TestService_BlockedDMFallsBackToChannel(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})
	env.enterAll(t, ref, 7)
	env.notifier.failDM[7] = true

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	assert.Equal(t, models.SlotStateOffered, g.Slots[0].State)
	assert.Equal(t, int64(7), g.Slots[0].CurrentCandidate)

	assert.Equal(t, 0, env.notifier.count("offer"))
	assert.Equal(t, 1, env.notifier.count("offer_fallback"))
}

func TestService_DepartedCandidateSkippedSilently(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})
	env.enterAll(t, ref, 1, 2, 3)
	env.gateway.departed[1] = true
	env.gateway.departed[2] = true

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	slot := g.Slots[0]
	assert.Equal(t, models.SlotStateOffered, slot.State)
	assert.Equal(t, int64(3), slot.CurrentCandidate)

	// Skipping departed members is not announced.
	assert.Equal(t, 0, env.notifier.count("reroll:ineligible"))
	assert.Equal(t, 1, env.notifier.count("offer"))
}

func TestService_ExhaustedSlotCompletes(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})
	env.enterAll(t, ref, 7)

	require.NoError(t, env.svc.ForceClose(ctx, ref))
	require.NoError(t, env.svc.Respond(ctx, ref, 0, 7, false))

	g := env.get(t, ref)
	assert.Equal(t, models.SlotStateExhausted, g.Slots[0].State)
	assert.Equal(t, 1, env.notifier.count("exhausted"))

	require.NoError(t, env.svc.Sweep(ctx))

	g = env.get(t, ref)
	assert.Equal(t, models.GiveawayStatusCompleted, g.Status)
	assert.Empty(t, g.Winners())
	assert.Equal(t, 1, env.notifier.count("summary"))
}

func TestService_SweepClosesOverdueGiveaways(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})
	env.enterAll(t, ref, 1, 2)

	require.NoError(t, env.svc.Sweep(ctx))
	assert.Equal(t, models.GiveawayStatusActive, env.get(t, ref).Status)

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, env.svc.Sweep(ctx))

	g := env.get(t, ref)
	assert.Equal(t, models.GiveawayStatusClosed, g.Status)
	assert.Len(t, g.Slots, 1)
}

func TestService_UnderflowCapsSlots(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 5, []string{"code"})
	env.enterAll(t, ref, 1, 2, 3)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	assert.Len(t, g.Slots, 3)
	assert.True(t, g.Underflowed())
}

func TestService_DeclineExpireAcceptScenario(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"GRAND-PRIZE"})
	env.enterAll(t, ref, 1, 2, 3)

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, env.svc.Sweep(ctx))

	g := env.get(t, ref)
	require.Equal(t, models.GiveawayStatusClosed, g.Status)
	require.Len(t, g.Slots, 1)
	first := g.Slots[0].CurrentCandidate

	// First candidate declines.
	require.NoError(t, env.svc.Respond(ctx, ref, 0, first, false))
	g = env.get(t, ref)
	second := g.Slots[0].CurrentCandidate
	require.NotEqual(t, first, second)
	assert.Equal(t, 1, env.notifier.count("reroll:declined"))

	// Second candidate never answers; the claim window lapses.
	env.clock.Advance(11 * time.Minute)
	require.NoError(t, env.svc.Sweep(ctx))
	g = env.get(t, ref)
	third := g.Slots[0].CurrentCandidate
	require.NotEqual(t, second, third)
	require.Equal(t, models.SlotStateOffered, g.Slots[0].State)
	assert.Equal(t, 1, env.notifier.count("reroll:timeout"))

	// A late response from the expired candidate changes nothing.
	require.NoError(t, env.svc.Respond(ctx, ref, 0, second, true))
	g = env.get(t, ref)
	assert.Equal(t, third, g.Slots[0].CurrentCandidate)

	// Third candidate accepts.
	require.NoError(t, env.svc.Respond(ctx, ref, 0, third, true))
	g = env.get(t, ref)
	assert.Equal(t, models.SlotStateClaimed, g.Slots[0].State)
	assert.Equal(t, third, g.Slots[0].Winner)
	assert.Equal(t, "GRAND-PRIZE", g.Slots[0].AssignedCode)

	// Next sweep retires the giveaway; further sweeps are no-ops.
	require.NoError(t, env.svc.Sweep(ctx))
	require.NoError(t, env.svc.Sweep(ctx))
	g = env.get(t, ref)
	assert.Equal(t, models.GiveawayStatusCompleted, g.Status)
	assert.Equal(t, []int64{third}, g.Winners())
	assert.Equal(t, 1, env.notifier.count("summary"))
	assert.Equal(t, 3, env.notifier.count("offer"))
}

func TestService_ForceCloseRacesSweep(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 2, []string{"c1", "c2"})
	env.enterAll(t, ref, 1, 2, 3, 4, 5, 6)

	env.clock.Advance(2 * time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = env.svc.ForceClose(ctx, ref)
	}()
	go func() {
		defer wg.Done()
		_ = env.svc.Sweep(ctx)
	}()
	wg.Wait()

	// One closer wins; the draw happens exactly once.
	g := env.get(t, ref)
	assert.Equal(t, models.GiveawayStatusClosed, g.Status)
	assert.Len(t, g.Slots, 2)
	assert.Equal(t, 1, env.notifier.count("ended"))
	assert.Equal(t, 2, env.notifier.count("offer"))

	seen := make(map[int64]bool)
	for _, slot := range g.Slots {
		for _, id := range slot.CandidateQueue {
			require.False(t, seen[id])
			seen[id] = true
		}
		require.False(t, seen[slot.CurrentCandidate])
		seen[slot.CurrentCandidate] = true
	}
}

func TestService_ConcurrentRespondsOnDifferentSlots(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 2, []string{"c1", "c2"})
	env.enterAll(t, ref, 1, 2, 3, 4, 5, 6)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	first := g.Slots[0].CurrentCandidate
	second := g.Slots[1].CurrentCandidate

	// Both winners press accept at the same moment. The second press
	// waits for the giveaway lock, so neither transition clobbers the
	// other's write.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, env.svc.Respond(ctx, ref, 0, first, true))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, env.svc.Respond(ctx, ref, 1, second, true))
	}()
	wg.Wait()

	g = env.get(t, ref)
	require.Equal(t, models.SlotStateClaimed, g.Slots[0].State)
	require.Equal(t, models.SlotStateClaimed, g.Slots[1].State)
	assert.Equal(t, first, g.Slots[0].Winner)
	assert.Equal(t, second, g.Slots[1].Winner)
	assert.ElementsMatch(t, []string{"c1", "c2"},
		[]string{g.Slots[0].AssignedCode, g.Slots[1].AssignedCode})
	assert.Equal(t, 1, env.notifier.count("code:c1"))
	assert.Equal(t, 1, env.notifier.count("code:c2"))
}

func TestService_SettledSlotUnaffectedBySiblingTransitions(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 2, []string{"c1", "c2"})
	env.enterAll(t, ref, 1, 2, 3, 4, 5, 6)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	winner := g.Slots[0].CurrentCandidate
	require.NoError(t, env.svc.Respond(ctx, ref, 0, winner, true))

	g = env.get(t, ref)
	code := g.Slots[0].AssignedCode
	require.Equal(t, models.SlotStateClaimed, g.Slots[0].State)

	// The sibling slot's claim window lapses and it rerolls.
	env.clock.Advance(11 * time.Minute)
	require.NoError(t, env.svc.Sweep(ctx))

	g = env.get(t, ref)
	assert.Equal(t, 1, env.notifier.count("reroll:timeout"))

	// The settled slot survives the sibling's rewrite intact.
	assert.Equal(t, models.SlotStateClaimed, g.Slots[0].State)
	assert.Equal(t, winner, g.Slots[0].Winner)
	assert.Equal(t, code, g.Slots[0].AssignedCode)
}

// closingRepo force-closes the giveaway between the service's status
// read and the entrant write, reproducing a sweep firing mid-entry.
type closingRepo struct {
	repository.GiveawayRepository
	closed bool
}

func (r *closingRepo) AddEntrant(ctx context.Context, ref models.Ref, userID int64) (bool, error) {
	if !r.closed {
		r.closed = true
		g, err := r.GiveawayRepository.Get(ctx, ref)
		if err != nil {
			return false, err
		}
		g.Status = models.GiveawayStatusClosed
		if err := r.GiveawayRepository.Update(ctx, g); err != nil {
			return false, err
		}
	}
	return r.GiveawayRepository.AddEntrant(ctx, ref, userID)
}

func TestService_EnterRolledBackWhenCloseWins(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 1, []string{"code"})

	env.svc.repo = &closingRepo{GiveawayRepository: env.repo}

	_, err := env.svc.Enter(ctx, ref, 42)
	assert.ErrorIs(t, err, ErrEntryClosed)

	count, err := env.repo.EntrantCount(ctx, ref)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_CodesReusedWhenScarce(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	ref := env.createGiveaway(t, 2, []string{"ONLY-CODE"})
	env.enterAll(t, ref, 1, 2, 3, 4)

	require.NoError(t, env.svc.ForceClose(ctx, ref))

	g := env.get(t, ref)
	for _, slot := range g.Slots {
		require.NoError(t, env.svc.Respond(ctx, ref, slot.SlotIndex, slot.CurrentCandidate, true))
	}

	g = env.get(t, ref)
	for _, slot := range g.Slots {
		assert.Equal(t, "ONLY-CODE", slot.AssignedCode)
	}
}
