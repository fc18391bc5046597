package recommendation

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/handler"
	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/httputil"
)

// Lifecycle is the slice of the workflow the doctor-facing API uses.
type Lifecycle interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Recommendation, error)
	Current(ctx context.Context, patientID uuid.UUID) (*model.Recommendation, error)
	History(ctx context.Context, patientID uuid.UUID) ([]*model.Recommendation, error)
	DoctorApprove(ctx context.Context, id uuid.UUID, actor model.Actor, comment string) (*model.Recommendation, error)
	DoctorReject(ctx context.Context, id uuid.UUID, actor model.Actor, reason string) (*model.Recommendation, *model.Escalation, error)
	AddComment(ctx context.Context, id uuid.UUID, actor model.Actor, text string) (*model.Recommendation, error)
}

type Handler struct {
	lifecycle Lifecycle
}

func NewHandler(lifecycle Lifecycle) *Handler {
	return &Handler{lifecycle: lifecycle}
}

type ApproveRequest struct {
	Comment string `json:"comment"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type CommentRequest struct {
	Text string `json:"text" binding:"required"`
}

// RejectResponse pairs the rejected recommendation with the escalation the
// rejection opened.
type RejectResponse struct {
	Recommendation *model.Recommendation `json:"recommendation"`
	Escalation     *model.Escalation     `json:"escalation"`
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/patients/:id/recommendations", h.History)
	r.GET("/patients/:id/recommendations/current", h.Current)

	recs := r.Group("/recommendations")
	{
		recs.GET("/:id", h.Get)
		recs.POST("/:id/approve", middleware.RequireRole(model.RoleDoctor), h.Approve)
		recs.POST("/:id/reject", middleware.RequireRole(model.RoleDoctor), h.Reject)
		recs.POST("/:id/comments", h.Comment)
	}
}

func (h *Handler) History(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	history, err := h.lifecycle.History(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, history)
}

func (h *Handler) Current(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	rec, err := h.lifecycle.Current(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rec)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	rec, err := h.lifecycle.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rec)
}

func (h *Handler) Approve(c *gin.Context) {
	id, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	var req ApproveRequest
	if err := handler.BindOptional(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	rec, err := h.lifecycle.DoctorApprove(c.Request.Context(), id, actor, req.Comment)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rec)
}

func (h *Handler) Reject(c *gin.Context) {
	id, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	var req RejectRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	rec, esc, err := h.lifecycle.DoctorReject(c.Request.Context(), id, actor, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, RejectResponse{Recommendation: rec, Escalation: esc})
}

func (h *Handler) Comment(c *gin.Context) {
	id, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	var req CommentRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	rec, err := h.lifecycle.AddComment(c.Request.Context(), id, actor, req.Text)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, rec)
}
