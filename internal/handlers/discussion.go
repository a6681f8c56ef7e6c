package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"discussion-service/internal/contact"
	"discussion-service/internal/models"
	"discussion-service/internal/telemetry"
)

type discussionRegistry interface {
	GetDiscussion(ctx context.Context, dealID, buyerID, sellerID int) (*models.Discussion, error)
	GetDiscussionsByUser(ctx context.Context, userID int) ([]models.DiscussionSummary, error)
	SetNewMessage(ctx context.Context, roomID, senderHandle string) (*models.DiscussionStatus, error)
	CountNewMessages(ctx context.Context, userID int) (int, error)
	MarkAsRead(ctx context.Context, userID, discussionID int) (*models.DiscussionStatus, error)
}

type contactWorkflow interface {
	ContactSeller(ctx context.Context, dealID, buyerID int) (contact.Result, error)
}

// DiscussionHandler serves discussion and unread endpoints.
type DiscussionHandler struct {
	registry discussionRegistry
	contact  contactWorkflow
	audit    *telemetry.AuditEmitter
}

// NewDiscussionHandler builds a DiscussionHandler.
func NewDiscussionHandler(registry discussionRegistry, workflow contactWorkflow, audit *telemetry.AuditEmitter) *DiscussionHandler {
	return &DiscussionHandler{registry: registry, contact: workflow, audit: audit}
}

// ContactSeller opens, or returns, the caller's discussion about a deal.
func (h *DiscussionHandler) ContactSeller(c *gin.Context) {
	dealID, err := strconv.Atoi(c.Param("deal_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deal id"})
		return
	}

	res, err := h.contact.ContactSeller(c.Request.Context(), dealID, c.GetInt("userID"))
	if err != nil {
		status, message := contactErrorStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("contact seller failed deal_id=%d: %v", dealID, err)
		}
		if status == http.StatusBadGateway {
			emitAudit(c, h.audit, telemetry.AuditRecord{Level: "ERROR", Text: "chat room creation failed", Action: "discussion.contact"})
		}
		c.JSON(status, gin.H{"error": message})
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		emitAudit(c, h.audit, telemetry.AuditRecord{
			Level:        "INFO",
			Text:         "Discussion opened",
			Action:       "discussion.contact",
			DiscussionID: res.Discussion.ID,
		})
	}
	c.JSON(status, gin.H{"discussion": res.Discussion, "created": res.Created})
}

func contactErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, contact.ErrDealNotFound):
		return http.StatusNotFound, "deal not found"
	case errors.Is(err, contact.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, contact.ErrSelfContact):
		return http.StatusBadRequest, "cannot contact yourself"
	case errors.Is(err, contact.ErrChatAccountMissing):
		return http.StatusConflict, "chat account missing"
	case errors.Is(err, contact.ErrRoomNotCreated):
		return http.StatusBadGateway, "could not create chat room"
	default:
		return http.StatusInternalServerError, "could not open discussion"
	}
}

// ListDiscussions returns the caller's discussions with deal and participant context.
func (h *DiscussionHandler) ListDiscussions(c *gin.Context) {
	list, err := h.registry.GetDiscussionsByUser(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load discussions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"discussions": list})
}

// LookupDiscussion finds the discussion of a deal between a buyer and a seller. The caller must
// be one of them.
func (h *DiscussionHandler) LookupDiscussion(c *gin.Context) {
	var ids [3]int
	for i, key := range []string{"deal_id", "buyer_id", "seller_id"} {
		v, err := strconv.Atoi(c.Query(key))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
			return
		}
		ids[i] = v
	}
	dealID, buyerID, sellerID := ids[0], ids[1], ids[2]

	userID := c.GetInt("userID")
	if userID != buyerID && userID != sellerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a discussion participant"})
		return
	}

	discussion, err := h.registry.GetDiscussion(c.Request.Context(), dealID, buyerID, sellerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load discussion"})
		return
	}
	if discussion == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "discussion not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"discussion": discussion})
}

// CountUnread returns how many discussions have unread messages for the caller.
func (h *DiscussionHandler) CountUnread(c *gin.Context) {
	count, err := h.registry.CountNewMessages(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread discussions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MarkRead clears the caller's unread flag on a discussion. "updated" is false when there was
// nothing to clear.
func (h *DiscussionHandler) MarkRead(c *gin.Context) {
	discussionID, err := strconv.Atoi(c.Param("discussion_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid discussion id"})
		return
	}

	status, err := h.registry.MarkAsRead(c.Request.Context(), c.GetInt("userID"), discussionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark discussion read"})
		return
	}
	if status != nil {
		emitAudit(c, h.audit, telemetry.AuditRecord{
			Level:        "INFO",
			Text:         "Discussion marked read",
			Action:       "discussion.read",
			DiscussionID: discussionID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"updated": status != nil})
}

// NewMessage flags a room's discussion as unread for the party that did not send the message.
func (h *DiscussionHandler) NewMessage(c *gin.Context) {
	var req struct {
		RoomID string `json:"room_id" binding:"required"`
		Sender string `json:"sender" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.registry.SetNewMessage(c.Request.Context(), req.RoomID, req.Sender)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracked": status != nil})
}
