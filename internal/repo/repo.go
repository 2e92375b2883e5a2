package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"roadcheck/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const planColumns = `id, vehicle, road_worthiness_score, overall_traffic_score, action_required, documents_json, created_by, assigned_to, created_at, updated_at`

func scanPlan(scan func(...any) error) (domain.Plan, error) {
	var p domain.Plan
	var docsJSON string
	err := scan(&p.ID, &p.Vehicle, &p.RoadWorthinessScore, &p.OverallTrafficScore,
		&p.ActionRequired, &docsJSON, &p.CreatedBy, &p.AssignedTo, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(docsJSON), &p.Documents); err != nil {
		return p, fmt.Errorf("decode documents for plan %s: %w", p.ID, err)
	}
	if p.Documents == nil {
		p.Documents = []domain.Document{}
	}
	return p, nil
}

func encodeDocuments(docs []domain.Document) (string, error) {
	if docs == nil {
		docs = []domain.Document{}
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PlanFilters narrow a plan listing.
type PlanFilters struct {
	// InvolvedUserID keeps plans where the user is creator or assignee.
	InvolvedUserID string
	// AssignedTo keeps plans assigned to the given user.
	AssignedTo string
	// Vehicle keeps plans for an exact vehicle name.
	Vehicle string
}

// FindPlans returns plans matching the filters, newest first.
func (r Repo) FindPlans(ctx context.Context, f PlanFilters) ([]domain.Plan, error) {
	var clauses []string
	var args []any
	if f.InvolvedUserID != "" {
		clauses = append(clauses, "(created_by=? OR assigned_to=?)")
		args = append(args, f.InvolvedUserID, f.InvolvedUserID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Vehicle != "" {
		clauses = append(clauses, "vehicle=?")
		args = append(args, f.Vehicle)
	}
	query := `SELECT ` + planColumns + ` FROM plans`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// FindPlanByID loads one plan or ErrNotFound.
func (r Repo) FindPlanByID(ctx context.Context, id string) (domain.Plan, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=?`, id)
	return scanPlan(row.Scan)
}

// InsertPlan stores a fully populated plan.
func (r Repo) InsertPlan(ctx context.Context, p domain.Plan) error {
	docsJSON, err := encodeDocuments(p.Documents)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO plans(`+planColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Vehicle, p.RoadWorthinessScore, p.OverallTrafficScore,
		p.ActionRequired, docsJSON, p.CreatedBy, p.AssignedTo, p.CreatedAt, p.UpdatedAt)
	return err
}

// UpdatePlanByID overwrites the mutable columns of a plan. The id,
// created_by and created_at columns are never touched.
func (r Repo) UpdatePlanByID(ctx context.Context, id string, p domain.Plan) (domain.Plan, error) {
	docsJSON, err := encodeDocuments(p.Documents)
	if err != nil {
		return domain.Plan{}, err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE plans
SET vehicle=?, road_worthiness_score=?, overall_traffic_score=?, action_required=?, documents_json=?, assigned_to=?, updated_at=?
WHERE id=?`,
		p.Vehicle, p.RoadWorthinessScore, p.OverallTrafficScore, p.ActionRequired,
		docsJSON, p.AssignedTo, p.UpdatedAt, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Plan{}, ErrNotFound
	}
	return r.FindPlanByID(ctx, id)
}

// DeletePlanByID removes a plan, reporting whether a row existed.
func (r Repo) DeletePlanByID(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM plans WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
