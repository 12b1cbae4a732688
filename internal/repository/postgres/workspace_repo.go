// internal/repository/postgres/workspace_repo.go
package postgres

import (
	"context"
	"fmt"
	"strings"

	"copydrive-service/internal/domain/workspace"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WorkspaceRepository struct {
	db *pgxpool.Pool
}

func NewWorkspaceRepository(db *pgxpool.Pool) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// FindProfileByEmail matches the email case-insensitively.
func (r *WorkspaceRepository) FindProfileByEmail(ctx context.Context, email string) (*workspace.Profile, error) {
	query := `
		SELECT id, email, full_name
		FROM profiles
		WHERE LOWER(email) = $1
		LIMIT 1
	`

	var p workspace.Profile
	err := r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(&p.ID, &p.Email, &p.FullName)
	if err != nil {
		return nil, mapError(err, "find profile")
	}
	return &p, nil
}

// FindOwnedWorkspace returns the oldest workspace the user owns.
func (r *WorkspaceRepository) FindOwnedWorkspace(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	query := `
		SELECT workspace_id
		FROM workspace_members
		WHERE user_id = $1 AND role = 'owner'
		ORDER BY created_at ASC
		LIMIT 1
	`

	var id uuid.UUID
	if err := r.db.QueryRow(ctx, query, userID).Scan(&id); err != nil {
		return uuid.Nil, mapError(err, "find owned workspace")
	}
	return id, nil
}

// LockWithTx takes the per-workspace row lock that serializes subscription
// changes.
func (r *WorkspaceRepository) LockWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM workspaces WHERE id = $1 FOR UPDATE`, workspaceID).Scan(&id)
	if err != nil {
		return mapError(err, "lock workspace")
	}
	return nil
}

// FindMember returns the caller's membership in a workspace.
func (r *WorkspaceRepository) FindMember(ctx context.Context, workspaceID, userID uuid.UUID) (*workspace.Member, error) {
	query := `
		SELECT workspace_id, user_id, role, created_at
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2
	`

	var m workspace.Member
	err := r.db.QueryRow(ctx, query, workspaceID, userID).Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, mapError(err, "find workspace member")
	}
	return &m, nil
}

// GetUsageWithTx counts projects and copies under the workspace lock.
func (r *WorkspaceRepository) GetUsageWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*workspace.Usage, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM projects WHERE workspace_id = $1),
			(SELECT COUNT(*) FROM copies WHERE workspace_id = $1)
	`

	var u workspace.Usage
	if err := tx.QueryRow(ctx, query, workspaceID).Scan(&u.Projects, &u.Copies); err != nil {
		return nil, fmt.Errorf("failed to count workspace usage: %w", err)
	}
	return &u, nil
}

// ListMemberIDs returns every user id in the workspace.
func (r *WorkspaceRepository) ListMemberIDs(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM workspace_members WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace members: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workspace member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
