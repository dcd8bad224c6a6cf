package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giveaway-engine/internal/common/cache"
	"giveaway-engine/internal/common/config"
	"giveaway-engine/internal/common/middleware"
	"giveaway-engine/internal/features/giveaway/models"
	redisrepo "giveaway-engine/internal/features/giveaway/repository/redis"
	"giveaway-engine/internal/features/giveaway/service"
)

type nopNotifier struct{}

func (nopNotifier) GiveawayEnded(context.Context, *models.Giveaway, int64) error { return nil }
func (nopNotifier) ClaimOffer(context.Context, *models.Giveaway, int, int64, time.Time) error {
	return nil
}
func (nopNotifier) ClaimOfferFallback(context.Context, *models.Giveaway, int, int64, time.Time) error {
	return nil
}
func (nopNotifier) CodeDelivery(context.Context, *models.Giveaway, int, int64, string) error {
	return nil
}
func (nopNotifier) WinnerAnnouncement(context.Context, *models.Giveaway, int, int64) error {
	return nil
}
func (nopNotifier) RerollAnnouncement(context.Context, *models.Giveaway, int, int64, models.RerollReason) error {
	return nil
}
func (nopNotifier) ExhaustedAnnouncement(context.Context, *models.Giveaway, int) error { return nil }
func (nopNotifier) CompletionSummary(context.Context, *models.Giveaway) error          { return nil }

type allMembersGateway struct{}

func (allMembersGateway) IsMember(context.Context, int64, int64) (bool, error) { return true, nil }

func setupRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{}
	cfg.Cache.ActiveListTTL = time.Second

	repo := redisrepo.NewRedisGiveawayRepository(client)
	svc := service.NewGiveawayService(repo, cache.NewCacheService(client), cfg, nopNotifier{}, allMembersGateway{})

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.HandleErrors())

	api := router.Group("/api/v1")
	NewGiveawayHandler(svc).RegisterRoutes(api)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTestGiveaway(t *testing.T, router *gin.Engine) string {
	w := doJSON(t, router, http.MethodPost, "/api/v1/guilds/100/giveaways", gin.H{
		"channel_id":            200,
		"host_id":               300,
		"prize":                 "Steam Key",
		"codes":                 []string{"AAAA-BBBB"},
		"duration_seconds":      3600,
		"winner_count":          1,
		"claim_timeout_seconds": 600,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.GiveawayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestHandler_CreateAndGet(t *testing.T) {
	router := setupRouter(t)
	id := createTestGiveaway(t, router)

	w := doJSON(t, router, http.MethodGet, "/api/v1/guilds/100/giveaways/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.GiveawayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Steam Key", resp.Prize)
	assert.Equal(t, models.GiveawayStatusActive, resp.Status)

	// Codes never leave the engine.
	assert.NotContains(t, w.Body.String(), "AAAA-BBBB")
}

func TestHandler_CreateRejectsBadPayload(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/guilds/100/giveaways", gin.H{
		"prize": "Key",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetMissingGiveaway(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/guilds/100/giveaways/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_EnterAndList(t *testing.T) {
	router := setupRouter(t)
	id := createTestGiveaway(t, router)

	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/guilds/100/giveaways/%s/enter", id), gin.H{
		"user_id": 42,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var entry models.EntryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.False(t, entry.AlreadyEntered)
	assert.Equal(t, int64(1), entry.EntrantCount)

	w = doJSON(t, router, http.MethodGet, "/api/v1/guilds/100/giveaways/active", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Giveaways []models.GiveawaySummary `json:"giveaways"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Giveaways, 1)
	assert.Equal(t, id, listing.Giveaways[0].ID)
}

func TestHandler_EnterAfterCloseReturnsGone(t *testing.T) {
	router := setupRouter(t)
	id := createTestGiveaway(t, router)

	doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/guilds/100/giveaways/%s/enter", id), gin.H{"user_id": 1})
	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/guilds/100/giveaways/%s/close", id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/guilds/100/giveaways/%s/enter", id), gin.H{"user_id": 2})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestHandler_RespondAcceptsCurrentCandidate(t *testing.T) {
	router := setupRouter(t)
	id := createTestGiveaway(t, router)

	doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/guilds/100/giveaways/%s/enter", id), gin.H{"user_id": 42})
	doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/guilds/100/giveaways/%s/close", id), nil)

	w := doJSON(t, router, http.MethodGet, "/api/v1/guilds/100/giveaways/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.GiveawayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Slots, 1)
	require.Equal(t, int64(42), resp.Slots[0].CurrentCandidate)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/guilds/100/giveaways/%s/slots/0/respond", id), gin.H{
		"user_id":  42,
		"accepted": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/guilds/100/giveaways/"+id, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.SlotStateClaimed, resp.Slots[0].State)
	assert.Equal(t, int64(42), resp.Slots[0].Winner)
}

func TestHandler_InvalidGuildID(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/guilds/abc/giveaways/active", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
