package services

import (
	"errors"

	"github.com/huangang/testsentry/internal/models"
)

// AccessService is the single place project-role authorization happens.
// Every mutating operation on invitations and members goes through
// Authorize before touching the store.
type AccessService struct {
	members *MembershipService
}

func NewAccessService(members *MembershipService) *AccessService {
	return &AccessService{members: members}
}

// Authorize checks that userID is a member of projectID holding one of the
// required roles. With no required roles, any membership passes. Returns
// ErrUnauthenticated for an absent caller, ErrForbidden when the caller is
// not a member or holds an insufficient role.
func (s *AccessService) Authorize(userID, projectID uint, required ...models.ProjectRole) (models.ProjectRole, error) {
	if userID == 0 {
		return "", ErrUnauthenticated
	}

	role, err := s.members.Resolve(userID, projectID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrForbidden
	}
	if err != nil {
		return "", err
	}

	if len(required) == 0 {
		return role, nil
	}
	for _, r := range required {
		if role == r {
			return role, nil
		}
	}
	return "", ErrForbidden
}

// CanManageMembers is shorthand for the owner-or-manager check used by
// invitation creation and member administration.
func (s *AccessService) CanManageMembers(userID, projectID uint) (models.ProjectRole, error) {
	return s.Authorize(userID, projectID, models.RoleOwner, models.RoleManager)
}
