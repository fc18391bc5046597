// Package workflow owns the recommendation state machine and the escalations
// it hands to the anesthesiologist level.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/keylock"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/metrics"
	"github.com/jwalitptl/painmgmt-api/pkg/validator"
)

// Notifier delivers workflow notifications. Delivery is best effort and
// never fails the transition that raised it.
type Notifier interface {
	Notify(ctx context.Context, n *model.Notification)
}

type Lifecycle struct {
	store    repository.Store
	locks    *keylock.Locker
	notifier Notifier
	rules    PriorityRules
	validate validator.Validator
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewLifecycle(
	store repository.Store,
	locks *keylock.Locker,
	notifier Notifier,
	rules PriorityRules,
	log *logger.Logger,
	m *metrics.Metrics,
) *Lifecycle {
	if locks == nil {
		locks = keylock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Lifecycle{
		store:    store,
		locks:    locks,
		notifier: notifier,
		rules:    rules,
		validate: validator.New(),
		logger:   log,
		metrics:  m,
		now:      time.Now,
	}
}

// WithClock overrides the time source, used by tests.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// Run executes fn for one patient inside one transaction. The patient is
// held by the in-process lock and by a row lock in the store, so writers in
// other processes wait too. Both are released before the notifications
// queued on the Op are sent.
func (l *Lifecycle) Run(ctx context.Context, patientID uuid.UUID, fn func(op *Op) error) error {
	outbox, err := l.run(ctx, patientID, fn)
	if err != nil {
		return err
	}
	if l.notifier != nil {
		for _, n := range outbox {
			l.notifier.Notify(ctx, n)
		}
	}
	return nil
}

func (l *Lifecycle) run(ctx context.Context, patientID uuid.UUID, fn func(op *Op) error) ([]*model.Notification, error) {
	unlock, err := l.locks.LockContext(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("waiting for patient %s: %w", patientID, err)
	}
	defer unlock()

	var outbox []*model.Notification
	err = l.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Patients().Lock(ctx, patientID); err != nil {
			return errors.FromRepo("patient", err)
		}
		op := &Op{l: l, ctx: ctx, tx: tx, patientID: patientID, now: l.now().UTC()}
		if err := fn(op); err != nil {
			return err
		}
		outbox = op.outbox
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outbox, nil
}

// onRecommendation resolves the patient owning id, then runs fn in Run.
func (l *Lifecycle) onRecommendation(ctx context.Context, id uuid.UUID, fn func(op *Op) (*model.Recommendation, error)) (*model.Recommendation, error) {
	rec, err := l.store.Recommendations().Get(ctx, id)
	if err != nil {
		return nil, errors.FromRepo("recommendation", err)
	}
	var out *model.Recommendation
	err = l.Run(ctx, rec.PatientID, func(op *Op) error {
		var err error
		out, err = fn(op)
		return err
	})
	return out, err
}

func (l *Lifecycle) Create(ctx context.Context, rec *model.Recommendation, actor model.Actor) (*model.Recommendation, error) {
	var out *model.Recommendation
	err := l.Run(ctx, rec.PatientID, func(op *Op) error {
		var err error
		out, err = op.Create(rec, actor)
		return err
	})
	return out, err
}

func (l *Lifecycle) DoctorApprove(ctx context.Context, id uuid.UUID, actor model.Actor, comment string) (*model.Recommendation, error) {
	return l.onRecommendation(ctx, id, func(op *Op) (*model.Recommendation, error) {
		return op.DoctorApprove(id, actor, comment)
	})
}

// DoctorReject rejects a PENDING recommendation and escalates it in the same
// transaction.
func (l *Lifecycle) DoctorReject(ctx context.Context, id uuid.UUID, actor model.Actor, reason string) (*model.Recommendation, *model.Escalation, error) {
	var esc *model.Escalation
	rec, err := l.onRecommendation(ctx, id, func(op *Op) (*model.Recommendation, error) {
		rec, e, err := op.DoctorReject(id, actor, reason)
		esc = e
		return rec, err
	})
	return rec, esc, err
}

func (l *Lifecycle) AnesthesiologistApprove(ctx context.Context, id uuid.UUID, actor model.Actor, comment string, edits []model.DrugRecommendation) (*model.Recommendation, error) {
	return l.onRecommendation(ctx, id, func(op *Op) (*model.Recommendation, error) {
		return op.AnesthesiologistApprove(id, actor, comment, edits)
	})
}

func (l *Lifecycle) AnesthesiologistReject(ctx context.Context, id uuid.UUID, actor model.Actor, reason string) (*model.Recommendation, error) {
	return l.onRecommendation(ctx, id, func(op *Op) (*model.Recommendation, error) {
		return op.AnesthesiologistReject(id, actor, reason)
	})
}

func (l *Lifecycle) MarkExecuted(ctx context.Context, id uuid.UUID, actor model.Actor) (*model.Recommendation, error) {
	return l.onRecommendation(ctx, id, func(op *Op) (*model.Recommendation, error) {
		return op.MarkExecuted(id, actor)
	})
}

func (l *Lifecycle) RequireReview(ctx context.Context, id uuid.UUID, reason string) (*model.Recommendation, error) {
	return l.onRecommendation(ctx, id, func(op *Op) (*model.Recommendation, error) {
		return op.RequireReview(id, reason)
	})
}

func (l *Lifecycle) AddComment(ctx context.Context, id uuid.UUID, actor model.Actor, text string) (*model.Recommendation, error) {
	return l.onRecommendation(ctx, id, func(op *Op) (*model.Recommendation, error) {
		return op.AddComment(id, actor, text)
	})
}

func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*model.Recommendation, error) {
	rec, err := l.store.Recommendations().Get(ctx, id)
	if err != nil {
		return nil, errors.FromRepo("recommendation", err)
	}
	return rec, nil
}

func (l *Lifecycle) Current(ctx context.Context, patientID uuid.UUID) (*model.Recommendation, error) {
	rec, err := l.store.Recommendations().Current(ctx, patientID)
	if err != nil {
		return nil, errors.FromRepo("current recommendation", err)
	}
	return rec, nil
}

func (l *Lifecycle) History(ctx context.Context, patientID uuid.UUID) ([]*model.Recommendation, error) {
	recs, err := l.store.Recommendations().History(ctx, patientID)
	if err != nil {
		return nil, errors.FromRepo("recommendation history", err)
	}
	return recs, nil
}

// Op is one patient-scoped unit of work. All reads and writes go through
// the transaction it was created for.
type Op struct {
	l         *Lifecycle
	ctx       context.Context
	tx        repository.Store
	patientID uuid.UUID
	now       time.Time
	patient   *model.Patient
	outbox    []*model.Notification
}

// Tx is the transactional store, for collaborators that persist their own
// records in the same unit of work.
func (op *Op) Tx() repository.Store { return op.tx }

func (op *Op) Now() time.Time { return op.now }

func (op *Op) Context() context.Context { return op.ctx }

func (op *Op) PatientID() uuid.UUID { return op.patientID }

// Notify queues n for delivery after commit.
func (op *Op) Notify(n *model.Notification) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.PatientID = op.patientID
	if n.PatientName == "" {
		if p, err := op.Patient(); err == nil {
			n.PatientName = p.FullName
		}
	}
	n.CreatedAt = op.now
	op.outbox = append(op.outbox, n)
}

func (op *Op) Patient() (*model.Patient, error) {
	if op.patient != nil {
		return op.patient, nil
	}
	p, err := op.tx.Patients().Get(op.ctx, op.patientID)
	if err != nil {
		return nil, errors.FromRepo("patient", err)
	}
	op.patient = p
	return p, nil
}

func (op *Op) get(id uuid.UUID) (*model.Recommendation, error) {
	rec, err := op.tx.Recommendations().Get(op.ctx, id)
	if err != nil {
		return nil, errors.FromRepo("recommendation", err)
	}
	if rec.PatientID != op.patientID {
		return nil, errors.NotFound("recommendation", nil)
	}
	return rec, nil
}

func (op *Op) save(rec *model.Recommendation, from model.RecommendationStatus) error {
	rec.UpdatedAt = op.now
	if err := op.tx.Recommendations().Update(op.ctx, rec); err != nil {
		return errors.FromRepo("recommendation", err)
	}
	if from != rec.Status {
		op.l.metrics.Transition(string(from), string(rec.Status))
		op.l.logger.Info("recommendation transition",
			"recommendation_id", rec.ID.String(),
			"patient_id", rec.PatientID.String(),
			"from", string(from),
			"to", string(rec.Status))
	}
	return nil
}

// Create stores rec as the patient's new current recommendation. The
// previous current one, when still live, is superseded and its open
// escalation cancelled; history is kept.
func (op *Op) Create(rec *model.Recommendation, actor model.Actor) (*model.Recommendation, error) {
	if rec == nil {
		return nil, errors.Validation("recommendation is required")
	}
	if rec.PatientID != op.patientID {
		return nil, errors.Validation("recommendation belongs to another patient")
	}
	if !actor.Role.Valid() {
		return nil, errors.Forbidden("unknown role %q", actor.Role)
	}
	if _, err := op.Patient(); err != nil {
		return nil, err
	}

	rec = rec.Clone()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Status = model.RecommendationStatusPending
	rec.SupersededBy = nil
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = op.now
	}
	rec.UpdatedAt = op.now

	live, err := op.liveRecommendations()
	if err != nil {
		return nil, err
	}
	if cur, err := op.tx.Recommendations().Current(op.ctx, op.patientID); err == nil {
		id := cur.ID
		rec.Supersedes = &id
	} else if !errors.IsRecordNotFound(err) {
		return nil, errors.FromRepo("recommendation", err)
	}

	if err := op.tx.Recommendations().Create(op.ctx, rec); err != nil {
		return nil, errors.FromRepo("recommendation", err)
	}
	if err := op.tx.Recommendations().SetCurrent(op.ctx, op.patientID, rec.ID); err != nil {
		return nil, errors.FromRepo("recommendation", err)
	}
	for _, prev := range live {
		if err := op.supersede(prev, rec.ID); err != nil {
			return nil, err
		}
	}

	op.l.metrics.RecommendationGenerated(rec.GenerationFailed)
	op.l.logger.Info("recommendation created",
		"recommendation_id", rec.ID.String(),
		"patient_id", rec.PatientID.String(),
		"sequence", rec.Sequence,
		"generation_failed", rec.GenerationFailed,
		"actor", actor.String())

	title := "New pain management recommendation"
	msg := fmt.Sprintf("Line %d recommendation awaiting review", rec.Line)
	if rec.GenerationFailed {
		title = "Recommendation generation failed"
		msg = rec.RejectionReason
	} else if names := drugNames(rec.Drugs); names != "" {
		msg = fmt.Sprintf("Line %d: %s awaiting review", rec.Line, names)
	}
	op.Notify(&model.Notification{
		Type:           model.NotificationNewRecommendation,
		Priority:       model.PriorityMedium,
		Title:          title,
		Message:        msg,
		TargetRole:     model.RoleDoctor,
		RequiresAction: true,
	})
	return rec, nil
}

// liveRecommendations returns every recommendation of the patient that is
// neither terminal nor superseded.
func (op *Op) liveRecommendations() ([]*model.Recommendation, error) {
	history, err := op.tx.Recommendations().History(op.ctx, op.patientID)
	if err != nil {
		return nil, errors.FromRepo("recommendation", err)
	}
	var out []*model.Recommendation
	for _, r := range history {
		if !r.Status.IsTerminal() && r.SupersededBy == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (op *Op) supersede(prev *model.Recommendation, by uuid.UUID) error {
	prev.SupersededBy = &by
	if err := op.save(prev, prev.Status); err != nil {
		return err
	}

	esc, err := op.tx.Escalations().GetByRecommendation(op.ctx, prev.ID)
	if err != nil {
		if errors.IsRecordNotFound(err) {
			return nil
		}
		return errors.FromRepo("escalation", err)
	}
	if !esc.Status.IsOpen() {
		return nil
	}
	esc.Status = model.EscalationStatusCancelled
	esc.Resolution = fmt.Sprintf("superseded by recommendation %s", by)
	at := op.now
	esc.ResolvedAt = &at
	if err := op.tx.Escalations().Update(op.ctx, esc); err != nil {
		return errors.FromRepo("escalation", err)
	}
	return nil
}

func (op *Op) DoctorApprove(id uuid.UUID, actor model.Actor, comment string) (*model.Recommendation, error) {
	if err := authorize(ActionDoctorApprove, actor); err != nil {
		return nil, err
	}
	rec, err := op.get(id)
	if err != nil {
		return nil, err
	}
	to, err := checkTransition(ActionDoctorApprove, rec)
	if err != nil {
		return nil, err
	}
	if rec.GenerationFailed || len(rec.Drugs) == 0 {
		return nil, errors.InvalidState("recommendation %s has no drug to approve", rec.ID)
	}

	from := rec.Status
	actorID, at := actor.ID, op.now
	rec.Status = to
	rec.DoctorID = &actorID
	rec.DoctorActionAt = &at
	rec.DoctorComment = comment
	rec.FinalApproverID = &actorID
	rec.ApprovedAt = &at
	if comment != "" {
		rec.AddComment(actor, comment, at)
	}
	if err := op.save(rec, from); err != nil {
		return nil, err
	}

	op.notifyApproved(rec)
	return rec, nil
}

// DoctorReject records the doctor-level rejection and hands the
// recommendation to an anesthesiologist through a new escalation.
func (op *Op) DoctorReject(id uuid.UUID, actor model.Actor, reason string) (*model.Recommendation, *model.Escalation, error) {
	if err := authorize(ActionDoctorReject, actor); err != nil {
		return nil, nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, nil, errors.Validation("a rejection reason is required")
	}
	rec, err := op.get(id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := checkTransition(ActionDoctorReject, rec); err != nil {
		return nil, nil, err
	}

	actorID, at := actor.ID, op.now
	rec.DoctorID = &actorID
	rec.DoctorActionAt = &at
	rec.DoctorComment = reason
	rec.AddComment(actor, "Rejected: "+reason, at)

	priority := op.l.rules.Priority(reason, op.latestVAS())
	esc, err := op.escalate(rec, ActionDoctorReject, actor, model.EscalationSourceDoctorRejection, priority, reason)
	if err != nil {
		return nil, nil, err
	}
	return rec, esc, nil
}

// AutoEscalate moves a PENDING recommendation to ESCALATED on behalf of the
// system, for pain alerts raised by the detector.
func (op *Op) AutoEscalate(id uuid.UUID, source model.EscalationSource, priority model.EscalationPriority, reason string) (*model.Recommendation, *model.Escalation, error) {
	actor := model.SystemActor()
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, nil, errors.Validation("an escalation reason is required")
	}
	if priority.Rank() == 0 {
		return nil, nil, errors.Validation("unknown priority %q", priority)
	}
	rec, err := op.get(id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := checkTransition(ActionAutoEscalate, rec); err != nil {
		return nil, nil, err
	}
	rec.AddComment(actor, "Escalated automatically: "+reason, op.now)

	esc, err := op.escalate(rec, ActionAutoEscalate, actor, source, priority, reason)
	if err != nil {
		return nil, nil, err
	}
	return rec, esc, nil
}

func (op *Op) escalate(rec *model.Recommendation, action Action, actor model.Actor, source model.EscalationSource, priority model.EscalationPriority, reason string) (*model.Escalation, error) {
	to, err := checkTransition(action, rec)
	if err != nil {
		return nil, err
	}
	from := rec.Status
	rec.Status = to
	if err := op.save(rec, from); err != nil {
		return nil, err
	}

	esc := &model.Escalation{
		ID:               uuid.New(),
		RecommendationID: rec.ID,
		PatientID:        rec.PatientID,
		Priority:         priority,
		Status:           model.EscalationStatusPending,
		Source:           source,
		Reason:           reason,
		EscalatedBy:      actor.ID,
		EscalatedAt:      op.now,
		UpdatedAt:        op.now,
	}
	if err := op.tx.Escalations().Create(op.ctx, esc); err != nil {
		if errors.IsStale(err) {
			return nil, errors.InvalidState("recommendation %s already has an escalation", rec.ID)
		}
		return nil, errors.FromRepo("escalation", err)
	}

	op.l.metrics.EscalationOpened(string(priority), string(source))
	op.l.logger.Info("escalation opened",
		"escalation_id", esc.ID.String(),
		"recommendation_id", rec.ID.String(),
		"priority", string(priority),
		"source", string(source))

	op.Notify(&model.Notification{
		Type:           model.NotificationEscalation,
		Priority:       priority,
		Title:          fmt.Sprintf("%s escalation", priority),
		Message:        reason,
		TargetRole:     model.RoleAnesthesiologist,
		RequiresAction: true,
	})
	return esc, nil
}

// RaiseEscalation lifts an open escalation to priority when that is more
// urgent. The escalation keeps its identity, status and EscalatedAt so it
// does not lose its place in the worklist.
func (op *Op) RaiseEscalation(id uuid.UUID, priority model.EscalationPriority, reason string) (*model.Escalation, bool, error) {
	esc, err := op.tx.Escalations().Get(op.ctx, id)
	if err != nil {
		return nil, false, errors.FromRepo("escalation", err)
	}
	if esc.PatientID != op.patientID {
		return nil, false, errors.NotFound("escalation", nil)
	}
	if !esc.Status.IsOpen() {
		return nil, false, errors.InvalidState("escalation %s is %s", esc.ID, esc.Status)
	}
	if priority.Rank() <= esc.Priority.Rank() {
		return esc, false, nil
	}

	from := esc.Priority
	esc.Priority = priority
	if reason = strings.TrimSpace(reason); reason != "" {
		esc.Reason = reason
	}
	esc.UpdatedAt = op.now
	if err := op.tx.Escalations().Update(op.ctx, esc); err != nil {
		return nil, false, errors.FromRepo("escalation", err)
	}
	op.l.logger.Info("escalation priority raised",
		"escalation_id", esc.ID.String(),
		"from", string(from),
		"to", string(priority))

	op.Notify(&model.Notification{
		Type:           model.NotificationEscalation,
		Priority:       priority,
		Title:          fmt.Sprintf("Escalation raised to %s", priority),
		Message:        esc.Reason,
		TargetRole:     model.RoleAnesthesiologist,
		RequiresAction: true,
	})
	return esc, true, nil
}

func (op *Op) latestVAS() int {
	obs, err := op.tx.Pain().Latest(op.ctx, op.patientID)
	if err != nil {
		return 0
	}
	return obs.VAS
}

// AnesthesiologistApprove finalises an ESCALATED recommendation. Drug edits
// replace the drug slots and must be explained in comment.
func (op *Op) AnesthesiologistApprove(id uuid.UUID, actor model.Actor, comment string, edits []model.DrugRecommendation) (*model.Recommendation, error) {
	if err := authorize(ActionAnesthesiologistApprove, actor); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	if len(edits) > 0 {
		if comment == "" {
			return nil, errors.Validation("drug changes require an explanatory comment")
		}
		for i := range edits {
			if err := op.l.validate.Validate(edits[i]); err != nil {
				return nil, errors.Validation("drug %d: %v", i+1, err)
			}
		}
	}
	rec, err := op.get(id)
	if err != nil {
		return nil, err
	}
	to, err := checkTransition(ActionAnesthesiologistApprove, rec)
	if err != nil {
		return nil, err
	}
	if len(edits) == 0 && len(rec.Drugs) == 0 {
		return nil, errors.Validation("recommendation has no drug; provide one to approve")
	}

	from := rec.Status
	actorID, at := actor.ID, op.now
	if len(edits) > 0 {
		rec.Drugs = append(model.DrugSlots(nil), edits...)
		rec.GenerationFailed = false
	}
	rec.Status = to
	rec.AnesthesiologistID = &actorID
	rec.AnesthesiologistActionAt = &at
	rec.AnesthesiologistComment = comment
	rec.FinalApproverID = &actorID
	rec.ApprovedAt = &at
	if comment != "" {
		rec.AddComment(actor, comment, at)
	}
	if err := op.save(rec, from); err != nil {
		return nil, err
	}

	resolution := comment
	if resolution == "" {
		resolution = "approved"
	}
	if err := op.resolveEscalation(rec.ID, actor, model.DecisionApprove, resolution); err != nil {
		return nil, err
	}

	op.notifyApproved(rec)
	return rec, nil
}

func (op *Op) AnesthesiologistReject(id uuid.UUID, actor model.Actor, reason string) (*model.Recommendation, error) {
	if err := authorize(ActionAnesthesiologistReject, actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation("a rejection reason is required")
	}
	rec, err := op.get(id)
	if err != nil {
		return nil, err
	}
	to, err := checkTransition(ActionAnesthesiologistReject, rec)
	if err != nil {
		return nil, err
	}

	from := rec.Status
	actorID, at := actor.ID, op.now
	rec.Status = to
	rec.AnesthesiologistID = &actorID
	rec.AnesthesiologistActionAt = &at
	rec.AnesthesiologistComment = reason
	rec.AddComment(actor, "Rejected: "+reason, at)
	if err := op.save(rec, from); err != nil {
		return nil, err
	}
	if err := op.resolveEscalation(rec.ID, actor, model.DecisionReject, reason); err != nil {
		return nil, err
	}

	op.Notify(&model.Notification{
		Type:       model.NotificationRejected,
		Priority:   model.PriorityHigh,
		Title:      "Recommendation rejected by anesthesiology",
		Message:    reason,
		TargetRole: model.RoleDoctor,
		// A new recommendation has to be generated.
		RequiresAction: true,
	})
	return rec, nil
}

func (op *Op) resolveEscalation(recID uuid.UUID, actor model.Actor, decision model.EscalationDecision, resolution string) error {
	esc, err := op.tx.Escalations().GetByRecommendation(op.ctx, recID)
	if err != nil {
		if errors.IsRecordNotFound(err) {
			return nil
		}
		return errors.FromRepo("escalation", err)
	}
	if !esc.Status.IsOpen() {
		return nil
	}
	actorID, at := actor.ID, op.now
	esc.Status = model.EscalationStatusResolved
	esc.Decision = decision
	esc.Resolution = resolution
	esc.ResolvedBy = &actorID
	esc.ResolvedAt = &at
	if err := op.tx.Escalations().Update(op.ctx, esc); err != nil {
		return errors.FromRepo("escalation", err)
	}
	return nil
}

func (op *Op) MarkExecuted(id uuid.UUID, actor model.Actor) (*model.Recommendation, error) {
	if err := authorize(ActionMarkExecuted, actor); err != nil {
		return nil, err
	}
	rec, err := op.get(id)
	if err != nil {
		return nil, err
	}
	to, err := checkTransition(ActionMarkExecuted, rec)
	if err != nil {
		return nil, err
	}
	from := rec.Status
	at := op.now
	rec.Status = to
	rec.ExecutedAt = &at
	if err := op.save(rec, from); err != nil {
		return nil, err
	}
	return rec, nil
}

// RequireReview parks an APPROVED recommendation after a critical EMR change.
func (op *Op) RequireReview(id uuid.UUID, reason string) (*model.Recommendation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation("a review reason is required")
	}
	rec, err := op.get(id)
	if err != nil {
		return nil, err
	}
	to, err := checkTransition(ActionRequireReview, rec)
	if err != nil {
		return nil, err
	}
	from := rec.Status
	rec.Status = to
	rec.ReviewReason = reason
	rec.AddComment(model.SystemActor(), "Review required: "+reason, op.now)
	if err := op.save(rec, from); err != nil {
		return nil, err
	}

	op.Notify(&model.Notification{
		Type:           model.NotificationReviewRequired,
		Priority:       model.PriorityHigh,
		Title:          "Approved recommendation requires review",
		Message:        reason,
		TargetRole:     model.RoleDoctor,
		RequiresAction: true,
	})
	return rec, nil
}

func (op *Op) AddComment(id uuid.UUID, actor model.Actor, text string) (*model.Recommendation, error) {
	if !actor.Role.Valid() {
		return nil, errors.Forbidden("unknown role %q", actor.Role)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.Validation("comment text is required")
	}
	rec, err := op.get(id)
	if err != nil {
		return nil, err
	}
	rec.AddComment(actor, text, op.now)
	if err := op.save(rec, rec.Status); err != nil {
		return nil, err
	}
	return rec, nil
}

func (op *Op) notifyApproved(rec *model.Recommendation) {
	op.Notify(&model.Notification{
		Type:           model.NotificationApproved,
		Priority:       model.PriorityMedium,
		Title:          "Recommendation approved",
		Message:        fmt.Sprintf("Ready to administer: %s", drugNames(rec.Drugs)),
		TargetRole:     model.RoleNurse,
		RequiresAction: true,
	})
}

func drugNames(drugs model.DrugSlots) string {
	names := make([]string, 0, len(drugs))
	for _, d := range drugs {
		names = append(names, fmt.Sprintf("%s %s", d.Name, d.Dose))
	}
	return strings.Join(names, ", ")
}
