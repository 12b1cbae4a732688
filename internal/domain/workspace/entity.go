// internal/domain/workspace/entity.go
package workspace

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CanManageBilling reports whether the role may change the workspace plan.
func (r Role) CanManageBilling() bool {
	return r == RoleOwner || r == RoleAdmin
}

type Workspace struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Profile struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Email    string    `json:"email" db:"email"`
	FullName *string   `json:"full_name,omitempty" db:"full_name"`
}

type Member struct {
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Role        Role      `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Usage is the current resource count checked against plan limits.
type Usage struct {
	Projects int `json:"projects"`
	Copies   int `json:"copies"`
}
