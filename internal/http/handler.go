package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/repository"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/service"
)

type Handler struct {
	provisionService *service.ProvisionService
	webhookSecret    string
}

func NewHandler(provisionService *service.ProvisionService, webhookSecret string) *Handler {
	return &Handler{
		provisionService: provisionService,
		webhookSecret:    webhookSecret,
	}
}

// ==================== Webhook Handlers ====================

// SubscriptionEvents receives payment-provider webhook deliveries. The raw
// body is read before parsing because the signature covers the exact bytes.
func (h *Handler) SubscriptionEvents(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if h.webhookSecret != "" {
		if err := VerifyWebhookSignature(payload, c.GetHeader("X-Payment-Signature"), h.webhookSecret); err != nil {
			log.Printf("[Handler] Rejected webhook delivery: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var ev models.SubscriptionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}
	if ev.ID == "" || ev.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event id and type required"})
		return
	}

	if err := h.provisionService.HandleSubscriptionEvent(c.Request.Context(), &ev, payload); err != nil {
		// 5xx 让支付平台重试投递
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// ProvisioningCallback registers the result of an out-of-band provisioning run.
func (h *Handler) ProvisioningCallback(c *gin.Context) {
	var cb models.ProvisionCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.provisionService.HandleCallback(c.Request.Context(), &cb); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"registered": true})
}

// ==================== Internal API Handlers ====================

// GetJobStatus gets a provisioning job by id
func (h *Handler) GetJobStatus(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job id required"})
		return
	}

	resp, err := h.provisionService.GetJobStatus(c.Request.Context(), jobID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetTenantInstances gets a tenant's instances by email
func (h *Handler) GetTenantInstances(c *gin.Context) {
	email := c.Param("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email required"})
		return
	}

	resp, err := h.provisionService.GetTenantInstances(c.Request.Context(), email)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ==================== User API Handlers ====================

// GetMyInstances gets the authenticated tenant's instances
func (h *Handler) GetMyInstances(c *gin.Context) {
	email := c.GetString("email")
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token carries no email"})
		return
	}

	resp, err := h.provisionService.GetTenantInstances(c.Request.Context(), email)
	if errors.Is(err, repository.ErrNotFound) {
		// 没有租户记录说明还没购买过，返回空列表
		c.JSON(http.StatusOK, models.TenantInstancesResponse{Email: email, Instances: []models.InstanceResponse{}})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetMyJobs gets the authenticated tenant's provisioning jobs
func (h *Handler) GetMyJobs(c *gin.Context) {
	email := c.GetString("email")
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token carries no email"})
		return
	}

	jobs, err := h.provisionService.GetTenantJobs(c.Request.Context(), email)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"jobs": []models.JobStatusResponse{}})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
