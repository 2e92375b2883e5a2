package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roadcheck/internal/domain"
	"roadcheck/internal/repo"
)

// SeedResult reports what the demo seed created.
type SeedResult struct {
	Users []domain.User `json:"users"`
	Plans []domain.Plan `json:"plans"`
}

// SeedDemo provisions the demo users and their inspection plans. It
// refuses to run against a database that already has users.
func (e Engine) SeedDemo(ctx context.Context) (SeedResult, error) {
	existing, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return SeedResult{}, WrapStorage(err)
	}
	if len(existing) > 0 {
		return SeedResult{}, errors.New("database already has users; refusing to seed")
	}

	now := e.now().UTC().Format(time.RFC3339)
	users := []domain.User{
		{ID: uuid.New().String(), Username: "admin_user", Email: "admin@test.com", Role: domain.RoleAdmin, CreatedAt: now},
		{ID: uuid.New().String(), Username: "inspector_user", Email: "inspector@test.com", Role: domain.RoleInspector, CreatedAt: now},
		{ID: uuid.New().String(), Username: "viewer_user", Email: "viewer@test.com", Role: domain.RoleViewer, CreatedAt: now},
	}
	for _, u := range users {
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return SeedResult{}, WrapStorage(err)
		}
	}
	admin := domain.Actor{ID: users[0].ID, Role: domain.RoleAdmin}
	inspector := domain.Actor{ID: users[1].ID, Role: domain.RoleInspector}
	viewerID := users[2].ID

	seeds := []struct {
		actor domain.Actor
		opts  PlanCreateOptions
	}{
		{inspector, PlanCreateOptions{
			Vehicle:             "Truck-12",
			RoadWorthinessScore: "78%",
			OverallTrafficScore: "B",
			ActionRequired:      "Replace worn brake pads",
			AssignedTo:          viewerID,
			Documents: []domain.Document{{
				TextDocs: []domain.TextDoc{
					{Label: "Brake Inspection", Description: "Brake pads worn 60%"},
					{Label: "Engine Check", Description: "Engine running smoothly"},
				},
				Attachments: []string{"brake_report.pdf", "engine_log.txt"},
			}},
		}},
		{admin, PlanCreateOptions{
			Vehicle:             "Van-45",
			RoadWorthinessScore: "92%",
			OverallTrafficScore: "A",
			ActionRequired:      "None",
			AssignedTo:          viewerID,
			Documents: []domain.Document{{
				TextDocs: []domain.TextDoc{
					{Label: "Full Inspection", Description: "All systems functioning normally"},
				},
				Attachments: []string{"inspection_report.pdf"},
			}},
		}},
		{inspector, PlanCreateOptions{
			Vehicle:             "Bus-23",
			RoadWorthinessScore: "65%",
			OverallTrafficScore: "D",
			ActionRequired:      "Replace brake fluid, check suspension",
			AssignedTo:          viewerID,
			Documents: []domain.Document{{
				TextDocs: []domain.TextDoc{
					{Label: "Brake Fluid Check", Description: "Low brake fluid level"},
					{Label: "Suspension Test", Description: "Worn suspension components detected"},
				},
				Attachments: []string{"maintenance_log.pdf"},
			}},
		}},
	}

	result := SeedResult{Users: users}
	for _, s := range seeds {
		p, err := e.CreatePlan(ctx, s.actor, s.opts)
		if err != nil {
			return SeedResult{}, fmt.Errorf("seed plan %s: %w", s.opts.Vehicle, err)
		}
		result.Plans = append(result.Plans, p)
	}
	return result, nil
}

// EnsureUser inserts a user with a fresh id, returning the record.
func (e Engine) EnsureUser(ctx context.Context, username, email string, role domain.Role) (domain.User, error) {
	if username == "" {
		return domain.User{}, errors.New("username is required")
	}
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("unknown role %s", role)
	}
	if _, err := e.Repo.GetUserByUsername(ctx, username); err == nil {
		return domain.User{}, fmt.Errorf("user %s already exists", username)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, WrapStorage(err)
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		Role:      role,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, WrapStorage(err)
	}
	return u, nil
}

// MintAPIKey creates an API key for a user and returns the plaintext
// key exactly once.
func (e Engine) MintAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return "", domain.APIKey{}, WrapStorage(err)
	}
	plaintext := uuid.New().String() + uuid.New().String()
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, WrapStorage(err)
	}
	return plaintext, key, nil
}
