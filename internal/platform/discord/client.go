package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"giveaway-engine/internal/common/config"
	apperrors "giveaway-engine/internal/common/errors"
	"giveaway-engine/internal/common/logger"
	"giveaway-engine/internal/features/giveaway/models"
)

// Client talks to the bot gateway sidecar, which owns the Discord session
// and renders the actual messages. The engine only ships typed payloads.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: cfg.Gateway.BaseURL,
		token:   cfg.Gateway.Token,
	}
}

type apiResponse struct {
	Ok          bool            `json:"ok"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// cannotMessageUser is the gateway's code for a recipient that blocks
// direct messages. It maps to a delivery failure, not a gateway error.
const cannotMessageUser = "cannot_message_user"

func (c *Client) post(ctx context.Context, path string, payload interface{}, userID int64) error {
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if !resp.Ok {
		if resp.ErrorCode == cannotMessageUser {
			return apperrors.NewDeliveryFailureError(userID, fmt.Errorf("%s", resp.Description))
		}
		return apperrors.NewGatewayError(path, fmt.Errorf("%s: %s", resp.ErrorCode, resp.Description))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*apiResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to encode gateway payload")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.NewGatewayError(path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewGatewayError(path, err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, apperrors.NewGatewayError(path, fmt.Errorf("decoding response (status %d): %w", httpResp.StatusCode, err))
	}
	return &resp, nil
}

type channelMessage struct {
	Kind         string            `json:"kind"`
	GuildID      int64             `json:"guild_id"`
	ChannelID    int64             `json:"channel_id"`
	GiveawayID   string            `json:"giveaway_id"`
	Prize        string            `json:"prize"`
	SlotIndex    *int              `json:"slot_index,omitempty"`
	UserID       int64             `json:"user_id,omitempty"`
	Deadline     int64             `json:"deadline,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	EntrantCount int64             `json:"entrant_count,omitempty"`
	Winners      []int64           `json:"winners,omitempty"`
	Underflowed  bool              `json:"underflowed,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

type directMessage struct {
	Kind       string `json:"kind"`
	UserID     int64  `json:"user_id"`
	GuildID    int64  `json:"guild_id"`
	GiveawayID string `json:"giveaway_id"`
	Prize      string `json:"prize"`
	SlotIndex  int    `json:"slot_index"`
	Deadline   int64  `json:"deadline,omitempty"`
	Code       string `json:"code,omitempty"`
}

func (c *Client) GiveawayEnded(ctx context.Context, g *models.Giveaway, entrantCount int64) error {
	return c.post(ctx, "/messages/channel", channelMessage{
		Kind:         "giveaway_ended",
		GuildID:      g.GuildID,
		ChannelID:    g.ChannelID,
		GiveawayID:   g.ID,
		Prize:        g.Prize,
		EntrantCount: entrantCount,
	}, 0)
}

func (c *Client) ClaimOffer(ctx context.Context, g *models.Giveaway, slotIndex int, userID int64, deadline time.Time) error {
	return c.post(ctx, "/messages/direct", directMessage{
		Kind:       "claim_offer",
		UserID:     userID,
		GuildID:    g.GuildID,
		GiveawayID: g.ID,
		Prize:      g.Prize,
		SlotIndex:  slotIndex,
		Deadline:   deadline.Unix(),
	}, userID)
}

func (c *Client) ClaimOfferFallback(ctx context.Context, g *models.Giveaway, slotIndex int, userID int64, deadline time.Time) error {
	return c.post(ctx, "/messages/channel", channelMessage{
		Kind:       "claim_offer_fallback",
		GuildID:    g.GuildID,
		ChannelID:  g.ChannelID,
		GiveawayID: g.ID,
		Prize:      g.Prize,
		SlotIndex:  &slotIndex,
		UserID:     userID,
		Deadline:   deadline.Unix(),
	}, 0)
}

func (c *Client) CodeDelivery(ctx context.Context, g *models.Giveaway, slotIndex int, userID int64, code string) error {
	return c.post(ctx, "/messages/direct", directMessage{
		Kind:       "code_delivery",
		UserID:     userID,
		GuildID:    g.GuildID,
		GiveawayID: g.ID,
		Prize:      g.Prize,
		SlotIndex:  slotIndex,
		Code:       code,
	}, userID)
}

func (c *Client) WinnerAnnouncement(ctx context.Context, g *models.Giveaway, slotIndex int, userID int64) error {
	return c.post(ctx, "/messages/channel", channelMessage{
		Kind:       "winner",
		GuildID:    g.GuildID,
		ChannelID:  g.ChannelID,
		GiveawayID: g.ID,
		Prize:      g.Prize,
		SlotIndex:  &slotIndex,
		UserID:     userID,
	}, 0)
}

func (c *Client) RerollAnnouncement(ctx context.Context, g *models.Giveaway, slotIndex int, previous int64, reason models.RerollReason) error {
	return c.post(ctx, "/messages/channel", channelMessage{
		Kind:       "reroll",
		GuildID:    g.GuildID,
		ChannelID:  g.ChannelID,
		GiveawayID: g.ID,
		Prize:      g.Prize,
		SlotIndex:  &slotIndex,
		UserID:     previous,
		Reason:     string(reason),
	}, 0)
}

func (c *Client) ExhaustedAnnouncement(ctx context.Context, g *models.Giveaway, slotIndex int) error {
	return c.post(ctx, "/messages/channel", channelMessage{
		Kind:       "slot_exhausted",
		GuildID:    g.GuildID,
		ChannelID:  g.ChannelID,
		GiveawayID: g.ID,
		Prize:      g.Prize,
		SlotIndex:  &slotIndex,
	}, 0)
}

func (c *Client) CompletionSummary(ctx context.Context, g *models.Giveaway) error {
	return c.post(ctx, "/messages/channel", channelMessage{
		Kind:        "completion_summary",
		GuildID:     g.GuildID,
		ChannelID:   g.ChannelID,
		GiveawayID:  g.ID,
		Prize:       g.Prize,
		Winners:     g.Winners(),
		Underflowed: g.Underflowed(),
	}, 0)
}

func (c *Client) IsMember(ctx context.Context, guildID, userID int64) (bool, error) {
	path := fmt.Sprintf("/guilds/%d/members/%d", guildID, userID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	if !resp.Ok {
		if resp.ErrorCode == "member_not_found" {
			return false, nil
		}
		return false, apperrors.NewGatewayError(path, fmt.Errorf("%s: %s", resp.ErrorCode, resp.Description))
	}

	var result struct {
		Member bool `json:"member"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return false, apperrors.NewGatewayError(path, err)
	}
	logger.Debug().
		Int64("guild_id", guildID).
		Int64("user_id", userID).
		Bool("member", result.Member).
		Msg("Membership check")
	return result.Member, nil
}
