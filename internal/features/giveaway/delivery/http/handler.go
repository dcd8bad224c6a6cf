package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "giveaway-engine/internal/common/errors"
	"giveaway-engine/internal/features/giveaway/models"
	"giveaway-engine/internal/features/giveaway/service"
)

type GiveawayHandler struct {
	service service.GiveawayService
}

func NewGiveawayHandler(svc service.GiveawayService) *GiveawayHandler {
	return &GiveawayHandler{service: svc}
}

func (h *GiveawayHandler) RegisterRoutes(router *gin.RouterGroup) {
	guilds := router.Group("/guilds/:guild_id")
	{
		guilds.POST("/giveaways", h.create)
		guilds.GET("/giveaways/active", h.listActive)
		guilds.GET("/giveaways/:id", h.getByID)
		guilds.POST("/giveaways/:id/enter", h.enter)
		guilds.POST("/giveaways/:id/close", h.forceClose)
		guilds.POST("/giveaways/:id/slots/:index/respond", h.respond)
	}
}

func (h *GiveawayHandler) create(c *gin.Context) {
	guildID, ok := parseGuildID(c)
	if !ok {
		return
	}

	var input models.GiveawayCreate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "Invalid request body"))
		return
	}

	resp, err := h.service.Create(c.Request.Context(), guildID, &input)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *GiveawayHandler) getByID(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}

	resp, err := h.service.Get(c.Request.Context(), ref)
	if err != nil {
		c.Error(mapServiceError(err, ref.ID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GiveawayHandler) listActive(c *gin.Context) {
	guildID, ok := parseGuildID(c)
	if !ok {
		return
	}

	summaries, err := h.service.ListActive(c.Request.Context(), guildID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"giveaways": summaries})
}

type entryRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

func (h *GiveawayHandler) enter(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}

	var input entryRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "Invalid request body"))
		return
	}

	resp, err := h.service.Enter(c.Request.Context(), ref, input.UserID)
	if err != nil {
		c.Error(mapServiceError(err, ref.ID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GiveawayHandler) forceClose(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}

	if err := h.service.ForceClose(c.Request.Context(), ref); err != nil {
		c.Error(mapServiceError(err, ref.ID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

type respondRequest struct {
	UserID   int64 `json:"user_id" binding:"required"`
	Accepted *bool `json:"accepted" binding:"required"`
}

func (h *GiveawayHandler) respond(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}

	slotIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.Error(apperrors.NewValidationError("index", "must be an integer"))
		return
	}

	var input respondRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "Invalid request body"))
		return
	}

	if err := h.service.Respond(c.Request.Context(), ref, slotIndex, input.UserID, *input.Accepted); err != nil {
		c.Error(mapServiceError(err, ref.ID))
		return
	}
	// Stale responses resolve to 200 as well; the caller cannot act on
	// the difference and the bot should not surface an error for a
	// leftover button press.
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseGuildID(c *gin.Context) (int64, bool) {
	guildID, err := strconv.ParseInt(c.Param("guild_id"), 10, 64)
	if err != nil {
		c.Error(apperrors.NewValidationError("guild_id", "must be an integer"))
		return 0, false
	}
	return guildID, true
}

func parseRef(c *gin.Context) (models.Ref, bool) {
	guildID, ok := parseGuildID(c)
	if !ok {
		return models.Ref{}, false
	}
	return models.Ref{GuildID: guildID, ID: c.Param("id")}, true
}

func mapServiceError(err error, giveawayID string) error {
	switch err {
	case service.ErrNotFound:
		return apperrors.NewGiveawayNotFoundError(giveawayID)
	case service.ErrEntryClosed:
		return apperrors.NewGiveawayClosedError(giveawayID)
	case service.ErrSlotNotFound:
		return apperrors.New(apperrors.ErrCodeNotFound, "Winner slot not found")
	default:
		return err
	}
}
