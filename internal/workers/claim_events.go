package workers

import (
	"context"
	"strconv"
	"time"

	go_redis "github.com/redis/go-redis/v9"

	"giveaway-engine/internal/common/logger"
	"giveaway-engine/internal/features/giveaway/models"
	"giveaway-engine/internal/features/giveaway/service"
	"giveaway-engine/internal/platform/redis"
)

const streamKey = "giveaway:claim-events"
const consumerGroup = "giveaway_engine_consumers"
const consumerName = "claim_worker_1"

// ClaimEventWorker consumes claim button presses published by the bot
// front-end and feeds them into the claim coordinator. Responses that no
// longer match an open offer are dropped inside the service, so replays
// and duplicate deliveries are harmless.
type ClaimEventWorker struct {
	rdb     *redis.Client
	service service.GiveawayService
}

func NewClaimEventWorker(rdb *redis.Client, svc service.GiveawayService) *ClaimEventWorker {
	return &ClaimEventWorker{
		rdb:     rdb,
		service: svc,
	}
}

// Start begins listening to the Redis stream for claim events.
func (w *ClaimEventWorker) Start(ctx context.Context) {
	err := w.rdb.XGroupCreateMkStream(ctx, streamKey, consumerGroup, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		logger.Error().Err(err).Msg("Error creating consumer group")
	}

	logger.Info().Str("stream", streamKey).Msg("Starting claim event worker")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Stopping claim event worker")
			return
		default:
			entries, err := w.rdb.XReadGroup(ctx, &go_redis.XReadGroupArgs{
				Group:    consumerGroup,
				Consumer: consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    5 * time.Second,
			}).Result()

			if err != nil {
				if err != go_redis.Nil && ctx.Err() == nil {
					logger.Error().Err(err).Msg("Error reading from stream")
					time.Sleep(time.Second)
				}
				continue
			}

			for _, stream := range entries {
				for _, msg := range stream.Messages {
					w.processMessage(ctx, msg.Values)
					w.rdb.XAck(ctx, streamKey, consumerGroup, msg.ID)
				}
			}
		}
	}
}

func (w *ClaimEventWorker) processMessage(ctx context.Context, values map[string]interface{}) {
	eventType, ok := values["type"].(string)
	if !ok || eventType != "claim_response" {
		return
	}

	guildID, ok1 := parseInt64(values, "guild_id")
	userID, ok2 := parseInt64(values, "user_id")
	slotIndex, ok3 := parseInt64(values, "slot_index")
	giveawayID, ok4 := values["giveaway_id"].(string)
	action, ok5 := values["action"].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		logger.Warn().Interface("values", values).Msg("Malformed claim event")
		return
	}
	if action != "accept" && action != "decline" {
		logger.Warn().Str("action", action).Msg("Unknown claim action")
		return
	}

	ref := models.Ref{GuildID: guildID, ID: giveawayID}
	if err := w.service.Respond(ctx, ref, int(slotIndex), userID, action == "accept"); err != nil {
		logger.Error().Err(err).
			Str("giveaway_id", giveawayID).
			Int64("user_id", userID).
			Msg("Error processing claim response")
	}
}

func parseInt64(values map[string]interface{}, key string) (int64, bool) {
	raw, ok := values[key].(string)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
