package server

import (
	"roadcheck/internal/domain"
)

// Request payloads
//
// Both plan payloads accept unknown keys instead of rejecting the
// request: a payload carrying id, createdBy or timestamps must still
// succeed, with those keys silently dropped.

type CreatePlanRequest struct {
	_                   struct{}          `json:"-" additionalProperties:"true"`
	Vehicle             string            `json:"vehicle"`
	RoadWorthinessScore string            `json:"roadWorthinessScore"`
	OverallTrafficScore string            `json:"overallTrafficScore"`
	ActionRequired      *string           `json:"actionRequired,omitempty"`
	Documents           []domain.Document `json:"documents,omitempty"`
	AssignedTo          *string           `json:"assignedTo,omitempty"`
}

// UpdatePlanRequest deliberately has no id, createdBy or timestamp
// fields: those keys in a payload are discarded, never applied.
type UpdatePlanRequest struct {
	_                   struct{}           `json:"-" additionalProperties:"true"`
	Vehicle             *string            `json:"vehicle,omitempty"`
	RoadWorthinessScore *string            `json:"roadWorthinessScore,omitempty"`
	OverallTrafficScore *string            `json:"overallTrafficScore,omitempty"`
	ActionRequired      *string            `json:"actionRequired,omitempty"`
	Documents           *[]domain.Document `json:"documents,omitempty"`
	AssignedTo          *string            `json:"assignedTo,omitempty"`
}

type DevLoginRequest struct {
	Username string `json:"username"`
}

// Response payloads

type PlanResponse struct {
	domain.Plan
	CreatedByUser  *domain.UserRef `json:"createdByUser,omitempty"`
	AssignedToUser *domain.UserRef `json:"assignedToUser,omitempty"`
}

type PlanListResponse struct {
	Count int            `json:"count"`
	Items []PlanResponse `json:"items"`
}

type DeleteAckResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

type MeResponse struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role" enum:"admin,inspector,viewer"`
}

type DevLoginResponse struct {
	Token string       `json:"token"`
	Actor domain.Actor `json:"actor"`
}
