package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"discussion-service/internal/models"
	"discussion-service/internal/telemetry"
)

type accountProvisioner interface {
	CreateUser(ctx context.Context) *models.ShadowAccount
}

// AccountHandler provisions shadow chat accounts.
type AccountHandler struct {
	gateway accountProvisioner
	audit   *telemetry.AuditEmitter
}

func NewAccountHandler(gateway accountProvisioner, audit *telemetry.AuditEmitter) *AccountHandler {
	return &AccountHandler{gateway: gateway, audit: audit}
}

// CreateAccount provisions a new chat account and hands its credentials to the caller, who is
// expected to store them on the marketplace user.
func (h *AccountHandler) CreateAccount(c *gin.Context) {
	account := h.gateway.CreateUser(c.Request.Context())
	if account == nil {
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: "ERROR", Text: "chat account provisioning failed", Action: "chat.account"})
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not provision chat account"})
		return
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{Level: "INFO", Text: "Chat account provisioned", Action: "chat.account"})
	c.JSON(http.StatusCreated, gin.H{
		"handle":   account.Handle,
		"user_id":  account.UserID,
		"password": account.Password,
	})
}
