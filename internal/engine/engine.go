// Package engine is the plan lifecycle manager: the only component
// that constructs, validates, mutates or destroys plan records. It
// consults the policy package before touching any record.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"roadcheck/internal/config"
	"roadcheck/internal/domain"
	"roadcheck/internal/engine/policy"
	"roadcheck/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError reports which fields of a plan payload violate the
// data model.
type ValidationError struct {
	Fields []string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid plan: %s", strings.Join(e.Fields, ", "))
}

// StorageError hides the persistence failure behind a stable message.
// The cause stays available for logs via Unwrap.
type StorageError struct {
	cause error
}

func (e StorageError) Error() string { return "storage unavailable" }
func (e StorageError) Unwrap() error { return e.cause }

// WrapStorage wraps infrastructure errors; ErrNotFound passes through.
func WrapStorage(err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return StorageError{cause: err}
}

// ListPlans returns the plans visible to the actor. It never fails
// with an authorization error: the policy scope narrows the result
// set instead, and an empty slice is a valid outcome.
func (e Engine) ListPlans(ctx context.Context, actor domain.Actor) ([]domain.Plan, error) {
	var filters repo.PlanFilters
	if policy.ListScope(actor.Role) == policy.ScopeInvolved {
		filters.InvolvedUserID = actor.ID
	}
	plans, err := e.Repo.FindPlans(ctx, filters)
	if err != nil {
		return nil, WrapStorage(err)
	}
	if plans == nil {
		plans = []domain.Plan{}
	}
	return plans, nil
}

// GetPlan loads one plan. Existence is checked before permission, so
// a missing id reports not-found even to an admin.
func (e Engine) GetPlan(ctx context.Context, actor domain.Actor, id string) (domain.Plan, error) {
	p, err := e.Repo.FindPlanByID(ctx, id)
	if err != nil {
		return domain.Plan{}, WrapStorage(err)
	}
	if err := policy.Check(actor, policy.OpRead, p); err != nil {
		return domain.Plan{}, err
	}
	return p, nil
}

// PlanCreateOptions are the caller-supplied fields of a new plan.
// Ownership is never caller-supplied: CreatedBy is always the acting
// actor.
type PlanCreateOptions struct {
	Vehicle             string
	RoadWorthinessScore string
	OverallTrafficScore string
	ActionRequired      string
	Documents           []domain.Document
	AssignedTo          string
}

// CreatePlan validates, authorizes and persists a new plan.
func (e Engine) CreatePlan(ctx context.Context, actor domain.Actor, opts PlanCreateOptions) (domain.Plan, error) {
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Plan{
		ID:                  uuid.New().String(),
		Vehicle:             opts.Vehicle,
		RoadWorthinessScore: opts.RoadWorthinessScore,
		OverallTrafficScore: opts.OverallTrafficScore,
		ActionRequired:      opts.ActionRequired,
		Documents:           opts.Documents,
		CreatedBy:           actor.ID,
		AssignedTo:          opts.AssignedTo,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if p.ActionRequired == "" {
		p.ActionRequired = "None"
	}
	if p.AssignedTo == "" {
		p.AssignedTo = actor.ID
	}
	if p.Documents == nil {
		p.Documents = []domain.Document{}
	}
	if err := validatePlan(p); err != nil {
		return domain.Plan{}, err
	}
	if err := policy.CheckCreate(actor); err != nil {
		return domain.Plan{}, err
	}
	if err := e.Repo.InsertPlan(ctx, p); err != nil {
		return domain.Plan{}, WrapStorage(err)
	}
	return p, nil
}

// PlanPatch carries partial updates. Nil fields are left unchanged.
// There is deliberately no way to express id, createdBy or timestamps
// here; payload attempts to set them are dropped before they reach
// the engine.
type PlanPatch struct {
	Vehicle             *string
	RoadWorthinessScore *string
	OverallTrafficScore *string
	ActionRequired      *string
	Documents           *[]domain.Document
	AssignedTo          *string
}

// UpdatePlan merges the patch into the stored plan and persists the
// result. Concurrent updates race at the store; the last write wins.
func (e Engine) UpdatePlan(ctx context.Context, actor domain.Actor, id string, patch PlanPatch) (domain.Plan, error) {
	p, err := e.Repo.FindPlanByID(ctx, id)
	if err != nil {
		return domain.Plan{}, WrapStorage(err)
	}
	if err := policy.Check(actor, policy.OpUpdate, p); err != nil {
		return domain.Plan{}, err
	}
	if patch.Vehicle != nil {
		p.Vehicle = *patch.Vehicle
	}
	if patch.RoadWorthinessScore != nil {
		p.RoadWorthinessScore = *patch.RoadWorthinessScore
	}
	if patch.OverallTrafficScore != nil {
		p.OverallTrafficScore = *patch.OverallTrafficScore
	}
	if patch.ActionRequired != nil {
		p.ActionRequired = *patch.ActionRequired
	}
	if patch.Documents != nil {
		p.Documents = *patch.Documents
		if p.Documents == nil {
			p.Documents = []domain.Document{}
		}
	}
	if patch.AssignedTo != nil {
		p.AssignedTo = *patch.AssignedTo
	}
	if err := validatePlan(p); err != nil {
		return domain.Plan{}, err
	}
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	updated, err := e.Repo.UpdatePlanByID(ctx, id, p)
	if err != nil {
		return domain.Plan{}, WrapStorage(err)
	}
	return updated, nil
}

// DeletePlan removes a plan permanently. A second delete of the same
// id reports not-found; that failure is terminal, not transient.
func (e Engine) DeletePlan(ctx context.Context, actor domain.Actor, id string) error {
	p, err := e.Repo.FindPlanByID(ctx, id)
	if err != nil {
		return WrapStorage(err)
	}
	if err := policy.Check(actor, policy.OpDelete, p); err != nil {
		return err
	}
	removed, err := e.Repo.DeletePlanByID(ctx, id)
	if err != nil {
		return WrapStorage(err)
	}
	if !removed {
		return repo.ErrNotFound
	}
	return nil
}

// validatePlan checks the field invariants shared by create and
// update. The returned ValidationError names every offending field.
func validatePlan(p domain.Plan) error {
	var fields []string
	if strings.TrimSpace(p.Vehicle) == "" {
		fields = append(fields, "vehicle")
	}
	if strings.TrimSpace(p.RoadWorthinessScore) == "" {
		fields = append(fields, "roadWorthinessScore")
	}
	if !domain.ValidTrafficGrade(p.OverallTrafficScore) {
		fields = append(fields, "overallTrafficScore")
	}
	if strings.TrimSpace(p.AssignedTo) == "" {
		fields = append(fields, "assignedTo")
	}
	for i, doc := range p.Documents {
		for j, td := range doc.TextDocs {
			if strings.TrimSpace(td.Label) == "" {
				fields = append(fields, fmt.Sprintf("documents[%d].textDocs[%d].label", i, j))
			}
			if strings.TrimSpace(td.Description) == "" {
				fields = append(fields, fmt.Sprintf("documents[%d].textDocs[%d].description", i, j))
			}
		}
	}
	if len(fields) > 0 {
		return ValidationError{Fields: fields}
	}
	return nil
}
