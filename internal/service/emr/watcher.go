package emr

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/service/matcher"
	"github.com/jwalitptl/painmgmt-api/internal/service/workflow"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
)

// Generator produces a recommendation from clinical state.
type Generator interface {
	Generate(in matcher.Input) *model.Recommendation
}

// Outcome reports what a snapshot change caused.
type Outcome struct {
	Changes        []Change              `json:"changes"`
	Findings       []Finding             `json:"findings"`
	ReviewRequired []uuid.UUID           `json:"review_required,omitempty"`
	Replacement    *model.Recommendation `json:"replacement,omitempty"`
}

func (o *Outcome) Critical() bool { return len(o.Findings) > 0 }

type Watcher struct {
	lifecycle *workflow.Lifecycle
	generator Generator
	rules     Rules
	logger    *logger.Logger
}

func NewWatcher(lifecycle *workflow.Lifecycle, generator Generator, rules Rules, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{lifecycle: lifecycle, generator: generator, rules: rules, logger: log}
}

// Handle applies the consequences of moving from old to next in its own
// patient-scoped transaction.
func (w *Watcher) Handle(ctx context.Context, old, next *model.ClinicalSnapshot) (*Outcome, error) {
	if next == nil {
		return nil, errors.Validation("snapshot is required")
	}
	var out *Outcome
	err := w.lifecycle.Run(ctx, next.PatientID, func(op *workflow.Op) error {
		var err error
		out, err = w.Apply(op, old, next)
		return err
	})
	return out, err
}

// Apply runs inside an existing unit of work. On a critical change every
// live APPROVED recommendation moves to REQUIRES_REVIEW and a replacement is
// generated from next and the latest VAS.
func (w *Watcher) Apply(op *workflow.Op, old, next *model.ClinicalSnapshot) (*Outcome, error) {
	out := &Outcome{
		Changes:  Diff(old, next),
		Findings: w.rules.Critical(old, next),
	}
	log := w.logger.WithFields(map[string]interface{}{"patient_id": next.PatientID.String()})

	if !out.Critical() {
		if len(out.Changes) > 0 {
			log.Info("clinical snapshot changed", "changes", len(out.Changes))
		}
		return out, nil
	}
	reason := Summary(out.Findings)
	log.Warn("critical clinical change", "reason", reason)

	approved, err := op.Tx().Recommendations().ListByStatus(op.Context(), next.PatientID, model.RecommendationStatusApproved)
	if err != nil {
		return nil, errors.FromRepo("recommendations", err)
	}
	route := ""
	for _, rec := range approved {
		if rec.SupersededBy != nil {
			continue
		}
		if _, err := op.RequireReview(rec.ID, reason); err != nil {
			return nil, err
		}
		out.ReviewRequired = append(out.ReviewRequired, rec.ID)
		route = rec.Route
	}

	patient, err := op.Patient()
	if err != nil {
		return nil, err
	}
	pain, err := op.Tx().Pain().Latest(op.Context(), next.PatientID)
	if err != nil {
		if !errors.IsRecordNotFound(err) {
			return nil, errors.FromRepo("pain observation", err)
		}
		log.Info("no pain observation, recommendation not regenerated")
		op.Notify(&model.Notification{
			Type:           model.NotificationReviewRequired,
			Priority:       model.PriorityHigh,
			Title:          "Critical clinical change",
			Message:        reason,
			TargetRole:     model.RoleDoctor,
			RequiresAction: true,
		})
		return out, nil
	}

	rec := w.generator.Generate(matcher.Input{
		Patient:  patient,
		Snapshot: next,
		Pain:     pain,
		Route:    route,
	})
	rec.AddComment(model.SystemActor(), "Auto-regenerated after critical EMR change: "+reason, op.Now())
	created, err := op.Create(rec, model.SystemActor())
	if err != nil {
		return nil, err
	}
	out.Replacement = created
	return out, nil
}
