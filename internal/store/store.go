package store

import (
	"errors"

	"github.com/hpcops/tenantgate/pkg/types"
)

// Store is the in-memory source of truth for group membership and role
// assignments. It owns uniqueness and cascade rules; it never talks to
// the cluster. All implementations must be safe for concurrent use.
type Store interface {
	// CreateGroup records a group, returning false when it is already
	// tracked. No side effect in that case.
	CreateGroup(name string) bool

	// AddMember registers a member. A username may be tracked in at most
	// one group at a time; violations return ErrAlreadyMember.
	AddMember(group string, m types.Member) error

	// MoveMember relocates username from one group to another, pruning
	// the source group if it becomes empty. The member's short name is
	// replaced when newShortName is non-empty. Atomic with respect to
	// concurrent readers.
	MoveMember(username, fromGroup, toGroup, newShortName string) error

	// RemoveMember drops username from the group, pruning the group if it
	// becomes empty. Pruning never touches the cluster namespace.
	RemoveMember(group, username string) error

	SetRoleAssignment(username, group, role string)
	ClearRoleAssignment(username string)
	GetRoleAssignment(username string) (types.RoleAssignment, error)

	ListGroups() []types.GroupMembers
	ListMembers(group string) ([]types.Member, error)
	ListRoleAssignments() []types.RoleAssignment

	// FindMember returns the member record and its group for a username.
	FindMember(username string) (types.Member, string, error)
}

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyMember = errors.New("already a member")
)
