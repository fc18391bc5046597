package escalation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/handler"
	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/service/workflow"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/httputil"
)

type Manager interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Escalation, error)
	Acknowledge(ctx context.Context, id uuid.UUID, actor model.Actor) (*model.Escalation, error)
	Resolve(ctx context.Context, id uuid.UUID, req workflow.ResolveRequest, actor model.Actor) (*model.Escalation, *model.Recommendation, error)
	Worklist(ctx context.Context, filter model.EscalationFilter) ([]*model.Escalation, error)
	Summary(ctx context.Context, now time.Time) (*model.EscalationSummary, error)
}

type Handler struct {
	manager Manager
}

func NewHandler(manager Manager) *Handler {
	return &Handler{manager: manager}
}

type ResolveResponse struct {
	Escalation     *model.Escalation     `json:"escalation"`
	Recommendation *model.Recommendation `json:"recommendation"`
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	escalations := r.Group("/escalations")
	{
		escalations.GET("", h.Worklist)
		escalations.GET("/summary", h.Summary)
		escalations.GET("/:id", h.Get)
		escalations.POST("/:id/acknowledge", middleware.RequireRole(model.RoleAnesthesiologist), h.Acknowledge)
		escalations.POST("/:id/resolve", middleware.RequireRole(model.RoleAnesthesiologist), h.Resolve)
	}
}

// Worklist accepts status (comma separated), priority, patient_id and limit.
func (h *Handler) Worklist(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	list, err := h.manager.Worklist(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, list)
}

func parseFilter(c *gin.Context) (model.EscalationFilter, error) {
	var f model.EscalationFilter
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := model.EscalationStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !validStatus(st) {
				return f, errors.Validation("unknown escalation status %q", s)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := c.Query("priority"); raw != "" {
		p := model.EscalationPriority(strings.ToUpper(raw))
		if p.Rank() == 0 {
			return f, errors.Validation("unknown priority %q", raw)
		}
		f.Priority = p
	}
	if raw := c.Query("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, errors.Validation("invalid patient_id")
		}
		f.PatientID = &id
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, errors.Validation("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func validStatus(s model.EscalationStatus) bool {
	switch s {
	case model.EscalationStatusPending, model.EscalationStatusInProgress,
		model.EscalationStatusResolved, model.EscalationStatusCancelled:
		return true
	}
	return false
}

func (h *Handler) Summary(c *gin.Context) {
	sum, err := h.manager.Summary(c.Request.Context(), time.Now().UTC())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sum)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	esc, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, esc)
}

func (h *Handler) Acknowledge(c *gin.Context) {
	id, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	esc, err := h.manager.Acknowledge(c.Request.Context(), id, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, esc)
}

func (h *Handler) Resolve(c *gin.Context) {
	id, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	var req workflow.ResolveRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	esc, rec, err := h.manager.Resolve(c.Request.Context(), id, req, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ResolveResponse{Escalation: esc, Recommendation: rec})
}
