package repo

import (
	"context"
	"database/sql"

	"roadcheck/internal/domain"
)

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	err := row.Scan(&u.ID, &u.Username, &email, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if email.Valid {
		u.Email = email.String
	}
	return u, err
}

// InsertUser stores an identity record.
func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id, username, email, role, created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Username, nullable(u.Email), u.Role, u.CreatedAt)
	return err
}

// GetUser loads a user by id.
func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id, username, email, role, created_at FROM users WHERE id=?`, id))
}

// GetUserByUsername loads a user by unique username.
func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id, username, email, role, created_at FROM users WHERE username=?`, username))
}

// ListUsers returns all identity records, oldest first.
func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, username, email, role, created_at FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &email, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		if email.Valid {
			u.Email = email.String
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UserRefs resolves a set of user ids to display projections. Missing
// ids are simply absent from the result.
func (r Repo) UserRefs(ctx context.Context, ids []string) (map[string]domain.UserRef, error) {
	refs := make(map[string]domain.UserRef, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := refs[id]; ok {
			continue
		}
		u, err := r.GetUser(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		refs[id] = domain.UserRef{ID: u.ID, Username: u.Username, Role: u.Role}
	}
	return refs, nil
}
