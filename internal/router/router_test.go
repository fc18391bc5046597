package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/painmgmt-api/internal/app"
	"github.com/jwalitptl/painmgmt-api/internal/config"
	"github.com/jwalitptl/painmgmt-api/internal/handler/dose"
	"github.com/jwalitptl/painmgmt-api/internal/handler/escalation"
	"github.com/jwalitptl/painmgmt-api/internal/handler/health"
	"github.com/jwalitptl/painmgmt-api/internal/handler/patient"
	"github.com/jwalitptl/painmgmt-api/internal/handler/prometheus"
	"github.com/jwalitptl/painmgmt-api/internal/handler/recommendation"
	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/auth"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
)

// TestResponse is the decoded response envelope.
type TestResponse struct {
	Code    int
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r TestResponse) decode(t *testing.T, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, dst))
}

type apiFixture struct {
	engine *gin.Engine
	tokens map[model.Role]string
}

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Catalog:  config.CatalogConfig{Path: "../../config/protocols.csv", DefaultRoute: "PO"},
		Clinical: config.ClinicalConfig{
			MinVasIncrease:           2,
			MinDoseIntervalHours:     4,
			CriticalVasLevel:         8,
			HighVasLevel:             6,
			TrendAnalysisPeriodHours: 24,
			GFRRenalFailure:          30,
			GFRDropDelta:             25,
			PLTBleedingRisk:          50,
			WBCImmunosuppression:     2,
			SATHypoxia:               90,
			SodiumLow:                130,
			SodiumHigh:               150,
			EscalationKeywords:       map[string]string{"allergy": "CRITICAL"},
		},
	}
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a, err := app.New(context.Background(), testConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	tokens, err := auth.NewJWTService("test-secret", "painmgmt-api")
	require.NoError(t, err)

	r := NewRouter(
		middleware.NewAuthMiddleware(tokens),
		Handlers{
			Health:          health.NewHandler(a.HealthChecks()),
			Metrics:         prometheus.New(a.Registry),
			Patients:        patient.NewHandler(a.Clinical),
			Recommendations: recommendation.NewHandler(a.Lifecycle),
			Escalations:     escalation.NewHandler(a.Escalations),
			Doses:           dose.NewHandler(a.Ledger),
		},
		logger.Nop(),
		a.Metrics,
		RouterConfig{RequestTimeout: 5 * time.Second},
	)
	r.Setup()

	f := &apiFixture{engine: r.Engine(), tokens: map[model.Role]string{}}
	for _, role := range []model.Role{model.RoleNurse, model.RoleDoctor, model.RoleAnesthesiologist} {
		token, err := tokens.GenerateAccessToken(model.Actor{ID: uuid.New(), Name: string(role), Role: role}, time.Hour)
		require.NoError(t, err)
		f.tokens[role] = token
	}
	return f
}

func (f *apiFixture) makeRequest(t *testing.T, method, path string, body interface{}, role model.Role) TestResponse {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[role])
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	resp := TestResponse{Code: w.Code}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return resp
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	resp := f.makeRequest(t, http.MethodGet, "/api/v1/patients", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRejectionEscalationFlow(t *testing.T) {
	f := newAPIFixture(t)

	// Admit
	resp := f.makeRequest(t, http.MethodPost, "/api/v1/patients", map[string]interface{}{
		"mrn":       "MRN-1001",
		"full_name": "Ada Patient",
		"age_years": 54,
	}, model.RoleNurse)
	require.Equal(t, http.StatusCreated, resp.Code)
	var p model.Patient
	resp.decode(t, &p)
	base := fmt.Sprintf("/api/v1/patients/%s", p.ID)

	// Nurses may not generate recommendations.
	resp = f.makeRequest(t, http.MethodPost, base+"/recommendations", nil, model.RoleNurse)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.makeRequest(t, http.MethodPost, base+"/pain", map[string]interface{}{"vas": 5, "site": "lumbar"}, model.RoleNurse)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = f.makeRequest(t, http.MethodPost, base+"/recommendations", nil, model.RoleDoctor)
	require.Equal(t, http.StatusCreated, resp.Code)
	var rec model.Recommendation
	resp.decode(t, &rec)
	assert.Equal(t, model.RecommendationStatusPending, rec.Status)

	// A second generation is refused while the first is active.
	resp = f.makeRequest(t, http.MethodPost, base+"/recommendations", nil, model.RoleDoctor)
	assert.Equal(t, http.StatusConflict, resp.Code)

	// Doctor rejects; the keyword makes the escalation CRITICAL.
	resp = f.makeRequest(t, http.MethodPost, "/api/v1/recommendations/"+rec.ID.String()+"/reject",
		map[string]string{"reason": "Suspected allergy to the first line drug"}, model.RoleDoctor)
	require.Equal(t, http.StatusOK, resp.Code)
	var rejected recommendation.RejectResponse
	resp.decode(t, &rejected)
	require.NotNil(t, rejected.Escalation)
	assert.Equal(t, model.RecommendationStatusEscalated, rejected.Recommendation.Status)
	assert.Equal(t, model.PriorityCritical, rejected.Escalation.Priority)

	resp = f.makeRequest(t, http.MethodGet, "/api/v1/escalations?status=PENDING&priority=critical", nil, model.RoleAnesthesiologist)
	require.Equal(t, http.StatusOK, resp.Code)
	var worklist []*model.Escalation
	resp.decode(t, &worklist)
	require.Len(t, worklist, 1)
	assert.Equal(t, rejected.Escalation.ID, worklist[0].ID)

	resp = f.makeRequest(t, http.MethodGet, "/api/v1/escalations?status=BOGUS", nil, model.RoleAnesthesiologist)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// Only anesthesiologists resolve.
	escPath := "/api/v1/escalations/" + rejected.Escalation.ID.String()
	resp = f.makeRequest(t, http.MethodPost, escPath+"/acknowledge", nil, model.RoleDoctor)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.makeRequest(t, http.MethodPost, escPath+"/acknowledge", nil, model.RoleAnesthesiologist)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.makeRequest(t, http.MethodPost, escPath+"/resolve", map[string]interface{}{
		"decision":   "APPROVE",
		"resolution": "No documented allergy; proceed with the first line",
	}, model.RoleAnesthesiologist)
	require.Equal(t, http.StatusOK, resp.Code)
	var resolved escalation.ResolveResponse
	resp.decode(t, &resolved)
	assert.Equal(t, model.EscalationStatusResolved, resolved.Escalation.Status)
	assert.Equal(t, model.RecommendationStatusApproved, resolved.Recommendation.Status)

	// The nurse administers the approved recommendation.
	resp = f.makeRequest(t, http.MethodPost, base+"/doses", map[string]interface{}{
		"drug_name":         "Ibuprofen",
		"amount":            600,
		"unit":              "mg",
		"route":             "PO",
		"recommendation_id": rec.ID,
	}, model.RoleNurse)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = f.makeRequest(t, http.MethodGet, base+"/recommendations/current", nil, model.RoleDoctor)
	require.Equal(t, http.StatusOK, resp.Code)
	var current model.Recommendation
	resp.decode(t, &current)
	assert.Equal(t, model.RecommendationStatusExecuted, current.Status)

	// Inside the dose interval the next dose is refused.
	resp = f.makeRequest(t, http.MethodPost, base+"/doses", map[string]interface{}{
		"drug_name": "Ibuprofen", "amount": 600, "unit": "mg", "route": "PO",
	}, model.RoleNurse)
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = f.makeRequest(t, http.MethodGet, base+"/doses/status", nil, model.RoleNurse)
	require.Equal(t, http.StatusOK, resp.Code)
	var status model.DoseStatus
	resp.decode(t, &status)
	assert.False(t, status.CanAdminister)
	require.NotNil(t, status.LastDose)
}

func TestValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.makeRequest(t, http.MethodPost, "/api/v1/patients/not-a-uuid/pain", map[string]int{"vas": 3}, model.RoleNurse)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.makeRequest(t, http.MethodPost, "/api/v1/patients/"+uuid.NewString()+"/pain", map[string]int{"vas": 11}, model.RoleNurse)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.makeRequest(t, http.MethodGet, "/api/v1/patients/"+uuid.NewString(), nil, model.RoleDoctor)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
}
