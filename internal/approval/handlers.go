package approval

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/navflow-api/pkg/response"
)

// GinHandlers contains HTTP handlers for approval endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for approval endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// actorFrom identifies the caller: the authenticated client from the JWT, or
// the X-Client-ID header for internal calls.
func actorFrom(c *gin.Context) string {
	if clientID := c.GetString("clientID"); clientID != "" {
		return clientID
	}
	return c.GetHeader("X-Client-ID")
}

// CreateApprovalHandler opens the approval workflow for a run.
// URL parameter: run_id
func (h *GinHandlers) CreateApprovalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		approval, err := h.service.CreateForRun(c.Param("run_id"))
		response.Handle(c, approval, err)
	}
}

// ApproveHandler records one sign-off on an approval.
func (h *GinHandlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		if actor == "" {
			response.BadRequest(c, "approver identity is required")
			return
		}

		var request struct {
			Comment string `json:"comment"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&request); err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}

		approval, err := h.service.Approve(c.Param("approval_id"), actor, request.Comment)
		response.Handle(c, approval, err)
	}
}

// RejectHandler terminates a pending approval with a reason.
func (h *GinHandlers) RejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		if actor == "" {
			response.BadRequest(c, "approver identity is required")
			return
		}

		var request struct {
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		approval, err := h.service.Reject(c.Param("approval_id"), actor, request.Reason)
		response.Handle(c, approval, err)
	}
}

// PublishHandler releases an approved run's records.
func (h *GinHandlers) PublishHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		if actor == "" {
			response.BadRequest(c, "publisher identity is required")
			return
		}

		approval, err := h.service.Publish(c.Param("approval_id"), actor)
		response.Handle(c, approval, err)
	}
}

// GetApprovalHandler returns an approval with its audit trail.
func (h *GinHandlers) GetApprovalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		approval, steps, err := h.service.GetApproval(c.Param("approval_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if approval == nil {
			response.NotFound(c, "approval not found")
			return
		}

		response.Success(c, gin.H{
			"approval": approval,
			"steps":    steps,
		})
	}
}
