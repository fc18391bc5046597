package dose

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/handler"
	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/httputil"
)

type Ledger interface {
	RegisterDose(ctx context.Context, dose *model.DoseAdministration, actor model.Actor) (*model.DoseAdministration, error)
	Status(ctx context.Context, patientID uuid.UUID, now time.Time) (*model.DoseStatus, error)
	History(ctx context.Context, patientID uuid.UUID) ([]*model.DoseAdministration, error)
}

type Handler struct {
	ledger Ledger
}

func NewHandler(ledger Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type RegisterRequest struct {
	DrugName         string     `json:"drug_name" binding:"required"`
	Amount           float64    `json:"amount" binding:"required,gt=0"`
	Unit             string     `json:"unit" binding:"required"`
	Route            string     `json:"route" binding:"required"`
	AdministeredAt   *time.Time `json:"administered_at"`
	VASBefore        *int       `json:"vas_before" binding:"omitempty,gte=0,lte=10"`
	VASAfter         *int       `json:"vas_after" binding:"omitempty,gte=0,lte=10"`
	RecommendationID *uuid.UUID `json:"recommendation_id"`
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	doses := r.Group("/patients/:id/doses")
	{
		doses.POST("", middleware.RequireRole(model.RoleNurse), h.Register)
		doses.GET("", h.History)
		doses.GET("/status", h.Status)
	}
}

func (h *Handler) Register(c *gin.Context) {
	patientID, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	var req RegisterRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	dose := &model.DoseAdministration{
		PatientID:        patientID,
		DrugName:         req.DrugName,
		Amount:           req.Amount,
		Unit:             req.Unit,
		Route:            req.Route,
		VASBefore:        req.VASBefore,
		VASAfter:         req.VASAfter,
		RecommendationID: req.RecommendationID,
	}
	if req.AdministeredAt != nil {
		dose.AdministeredAt = *req.AdministeredAt
	}

	out, err := h.ledger.RegisterDose(c.Request.Context(), dose, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, out)
}

func (h *Handler) History(c *gin.Context) {
	patientID, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	list, err := h.ledger.History(c.Request.Context(), patientID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, list)
}

func (h *Handler) Status(c *gin.Context) {
	patientID, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	status, err := h.ledger.Status(c.Request.Context(), patientID, time.Now().UTC())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, status)
}
