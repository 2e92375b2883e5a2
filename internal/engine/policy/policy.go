// Package policy decides, for one (actor, operation, plan) triple,
// whether the operation is permitted. It is pure: no I/O, no state.
package policy

import (
	"fmt"

	"roadcheck/internal/domain"
)

// Operation on a plan record.
type Operation string

const (
	OpList   Operation = "list"
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Relation of an actor to a target plan, computed once per check.
type Relation int

const (
	// RelationNone is used for create, where no target exists yet.
	RelationNone Relation = iota
	RelationOwner
	RelationAssignee
	RelationNeither
)

func (r Relation) String() string {
	switch r {
	case RelationOwner:
		return "owner"
	case RelationAssignee:
		return "assignee"
	case RelationNeither:
		return "neither"
	}
	return "none"
}

// ForbiddenError indicates the policy denied an operation.
type ForbiddenError struct {
	Op Operation
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not authorized to %s this plan", e.Op)
}

// Scope narrows a list query. List never fails with an authorization
// error; it shrinks the visible set instead.
type Scope int

const (
	// ScopeAll exposes every plan.
	ScopeAll Scope = iota
	// ScopeInvolved exposes plans where the actor is creator or assignee.
	ScopeInvolved
)

// ListScope returns the visibility scope for a role. Viewers see the
// full listing even though read denies them plans they are not
// assigned to; the asymmetry is deliberate.
func ListScope(role domain.Role) Scope {
	if role == domain.RoleInspector {
		return ScopeInvolved
	}
	return ScopeAll
}

// rule is one row of the decision table: which relations a role may
// hold to perform an operation. An empty set denies outright.
type rule struct {
	role      domain.Role
	op        Operation
	relations []Relation
}

var anyRelation = []Relation{RelationOwner, RelationAssignee, RelationNeither}

// The table is evaluated top to bottom; the first matching (role, op)
// row wins. Absent rows deny.
var rules = []rule{
	{domain.RoleAdmin, OpRead, anyRelation},
	{domain.RoleAdmin, OpCreate, []Relation{RelationNone}},
	{domain.RoleAdmin, OpUpdate, anyRelation},
	{domain.RoleAdmin, OpDelete, anyRelation},

	{domain.RoleInspector, OpRead, []Relation{RelationAssignee}},
	{domain.RoleInspector, OpCreate, []Relation{RelationNone}},
	{domain.RoleInspector, OpUpdate, []Relation{RelationOwner}},
	{domain.RoleInspector, OpDelete, []Relation{RelationOwner}},

	{domain.RoleViewer, OpRead, []Relation{RelationAssignee}},
}

// Relate computes the actor's relation to a plan. Owner wins over
// assignee when the actor is both.
func Relate(actorID string, p domain.Plan) Relation {
	if actorID != "" && actorID == p.CreatedBy {
		return RelationOwner
	}
	if actorID != "" && actorID == p.AssignedTo {
		return RelationAssignee
	}
	return RelationNeither
}

// Allows reports whether a role holding the given relation may perform
// op. An actor can hold more than one relation to the same plan (a
// creator assigned to their own plan); callers deciding from a
// concrete record should use AllowsPlan, which tries each.
func Allows(role domain.Role, op Operation, rel Relation) bool {
	if op == OpList {
		return true
	}
	for _, r := range rules {
		if r.role != role || r.op != op {
			continue
		}
		for _, allowed := range r.relations {
			if allowed == rel {
				return true
			}
		}
		return false
	}
	return false
}

// AllowsPlan decides op for an actor against a concrete plan. It
// evaluates every relation the actor holds, so a creator who is also
// the assignee passes assignee-gated operations.
func AllowsPlan(actor domain.Actor, op Operation, p domain.Plan) bool {
	if op == OpCreate || op == OpList {
		return Allows(actor.Role, op, RelationNone)
	}
	if actor.ID != "" && actor.ID == p.CreatedBy && Allows(actor.Role, op, RelationOwner) {
		return true
	}
	if actor.ID != "" && actor.ID == p.AssignedTo && Allows(actor.Role, op, RelationAssignee) {
		return true
	}
	return Allows(actor.Role, op, Relate(actor.ID, p))
}

// Check returns nil or a ForbiddenError for op against p.
func Check(actor domain.Actor, op Operation, p domain.Plan) error {
	if AllowsPlan(actor, op, p) {
		return nil
	}
	return ForbiddenError{Op: op}
}

// CheckCreate returns nil or a ForbiddenError for create, which has no
// target record.
func CheckCreate(actor domain.Actor) error {
	if Allows(actor.Role, OpCreate, RelationNone) {
		return nil
	}
	return ForbiddenError{Op: OpCreate}
}
