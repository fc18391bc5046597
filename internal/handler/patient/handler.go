package patient

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/handler"
	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/service/clinical"
	"github.com/jwalitptl/painmgmt-api/internal/service/pain"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/httputil"
)

// Service is the clinical intake the handler drives.
type Service interface {
	Admit(ctx context.Context, req clinical.AdmitRequest, actor model.Actor) (*model.Patient, error)
	Patient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	Patients(ctx context.Context) ([]*model.Patient, error)
	RecordPain(ctx context.Context, obs *model.PainObservation, actor model.Actor) (*clinical.PainResult, error)
	PainHistory(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*model.PainObservation, error)
	Trend(ctx context.Context, patientID uuid.UUID, now time.Time) (pain.Trend, error)
	RecordSnapshot(ctx context.Context, snap *model.ClinicalSnapshot, actor model.Actor) (*clinical.SnapshotResult, error)
	Snapshots(ctx context.Context, patientID uuid.UUID) ([]*model.ClinicalSnapshot, error)
	GenerateInitial(ctx context.Context, patientID uuid.UUID, startLine int, route string, actor model.Actor) (*model.Recommendation, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type PainRequest struct {
	VAS        *int       `json:"vas" binding:"required,gte=0,lte=10"`
	Site       string     `json:"site" binding:"max=200"`
	RecordedAt *time.Time `json:"recorded_at"`
}

type SnapshotRequest struct {
	HeightCm   float64    `json:"height_cm"`
	WeightKg   float64    `json:"weight_kg"`
	GFR        float64    `json:"gfr"`
	RenalStage string     `json:"renal_stage"`
	ChildPugh  string     `json:"child_pugh"`
	Platelets  float64    `json:"platelets"`
	WBC        float64    `json:"wbc"`
	Saturation float64    `json:"saturation"`
	Sodium     float64    `json:"sodium"`
	RecordedAt *time.Time `json:"recorded_at"`
}

type GenerateRequest struct {
	StartLine int    `json:"start_line" binding:"gte=0"`
	Route     string `json:"route"`
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.POST("", middleware.RequireRole(model.RoleDoctor, model.RoleNurse), h.Admit)
		patients.GET("", h.List)
		patients.GET("/:id", h.Get)

		patients.POST("/:id/pain", middleware.RequireRole(model.RoleNurse, model.RoleDoctor), h.RecordPain)
		patients.GET("/:id/pain", h.PainHistory)
		patients.GET("/:id/pain/trend", h.Trend)

		patients.POST("/:id/snapshots", h.RecordSnapshot)
		patients.GET("/:id/snapshots", h.Snapshots)

		patients.POST("/:id/recommendations", middleware.RequireRole(model.RoleDoctor), h.Generate)
	}
}

func (h *Handler) Admit(c *gin.Context) {
	actor, err := handler.Actor(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req clinical.AdmitRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	p, err := h.service.Admit(c.Request.Context(), req, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, p)
}

func (h *Handler) List(c *gin.Context) {
	list, err := h.service.Patients(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, list)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	p, err := h.service.Patient(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) RecordPain(c *gin.Context) {
	id, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	var req PainRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	obs := &model.PainObservation{PatientID: id, VAS: *req.VAS, Site: req.Site}
	if req.RecordedAt != nil {
		obs.RecordedAt = *req.RecordedAt
	}
	res, err := h.service.RecordPain(c.Request.Context(), obs, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, res)
}

func (h *Handler) PainHistory(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			httputil.RespondWithError(c, errors.Validation("since must be an RFC 3339 timestamp"))
			return
		}
	}

	history, err := h.service.PainHistory(c.Request.Context(), id, since)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, history)
}

func (h *Handler) Trend(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	trend, err := h.service.Trend(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, trend)
}

func (h *Handler) RecordSnapshot(c *gin.Context) {
	id, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	var req SnapshotRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	snap := &model.ClinicalSnapshot{
		PatientID:  id,
		HeightCm:   req.HeightCm,
		WeightKg:   req.WeightKg,
		GFR:        req.GFR,
		RenalStage: req.RenalStage,
		ChildPugh:  req.ChildPugh,
		Platelets:  req.Platelets,
		WBC:        req.WBC,
		Saturation: req.Saturation,
		Sodium:     req.Sodium,
	}
	if req.RecordedAt != nil {
		snap.RecordedAt = *req.RecordedAt
	}
	res, err := h.service.RecordSnapshot(c.Request.Context(), snap, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, res)
}

func (h *Handler) Snapshots(c *gin.Context) {
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	snaps, err := h.service.Snapshots(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, snaps)
}

func (h *Handler) Generate(c *gin.Context) {
	id, actor, ok := handler.Target(c)
	if !ok {
		return
	}
	var req GenerateRequest
	if err := handler.BindOptional(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	rec, err := h.service.GenerateInitial(c.Request.Context(), id, req.StartLine, req.Route, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, rec)
}
