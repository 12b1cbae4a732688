package workspace

import (
	"context"
	"errors"
	"testing"

	"copydrive-service/internal/domain/workspace"
	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembers struct {
	roles map[uuid.UUID]workspace.Role
	err   error
}

func (f *fakeMembers) FindMember(ctx context.Context, workspaceID, userID uuid.UUID) (*workspace.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	role, ok := f.roles[userID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &workspace.Member{WorkspaceID: workspaceID, UserID: userID, Role: role}, nil
}

func TestAccessService(t *testing.T) {
	ctx := context.Background()
	ws := uuid.New()
	owner, viewer, stranger := uuid.New(), uuid.New(), uuid.New()
	svc := NewAccessService(&fakeMembers{roles: map[uuid.UUID]workspace.Role{
		owner:  workspace.RoleOwner,
		viewer: workspace.RoleViewer,
	}})

	tests := []struct {
		name     string
		user     uuid.UUID
		admin    bool
		wantView bool
	}{
		{"owner", owner, false, true},
		{"viewer", viewer, false, true},
		{"stranger", stranger, false, false},
		{"platform admin", stranger, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := svc.CanView(ctx, ws, tt.user, tt.admin)
			require.NoError(t, err)
			assert.Equal(t, tt.wantView, view)
		})
	}
}

func TestAccessServicePropagatesErrors(t *testing.T) {
	svc := NewAccessService(&fakeMembers{err: errors.New("db down")})

	_, err := svc.CanView(context.Background(), uuid.New(), uuid.New(), false)
	assert.Error(t, err)
}
