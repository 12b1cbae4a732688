// internal/service/workspace/access.go
package workspace

import (
	"context"
	"errors"
	"fmt"

	"copydrive-service/internal/domain/workspace"
	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
)

type MemberRepository interface {
	FindMember(ctx context.Context, workspaceID, userID uuid.UUID) (*workspace.Member, error)
}

// AccessService answers workspace membership questions for handlers.
type AccessService struct {
	members MemberRepository
}

func NewAccessService(members MemberRepository) *AccessService {
	return &AccessService{members: members}
}

// CanView reports whether the user may read workspace billing data.
// Platform admins may read every workspace.
func (s *AccessService) CanView(ctx context.Context, workspaceID, userID uuid.UUID, platformAdmin bool) (bool, error) {
	if platformAdmin {
		return true, nil
	}
	m, err := s.member(ctx, workspaceID, userID)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

func (s *AccessService) member(ctx context.Context, workspaceID, userID uuid.UUID) (*workspace.Member, error) {
	m, err := s.members.FindMember(ctx, workspaceID, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return m, nil
}
