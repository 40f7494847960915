package store

import (
	"sort"
	"sync"

	"github.com/hpcops/tenantgate/pkg/types"
)

// Memory is the volatile Store implementation. State does not survive a
// restart; cluster objects created before a crash persist and must be
// reconciled by the operator.
type Memory struct {
	mu     sync.RWMutex
	groups map[string][]types.Member
	roles  map[string]types.RoleAssignment
}

func NewMemory() *Memory {
	return &Memory{
		groups: map[string][]types.Member{},
		roles:  map[string]types.RoleAssignment{},
	}
}

func (m *Memory) CreateGroup(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[name]; ok {
		return false
	}
	m.groups[name] = []types.Member{}
	return true
}

func (m *Memory) AddMember(group string, mem types.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, members := range m.groups {
		for _, existing := range members {
			if existing.Username == mem.Username {
				return ErrAlreadyMember
			}
		}
	}
	m.groups[group] = append(m.groups[group], mem)
	return nil
}

func (m *Memory) MoveMember(username, fromGroup, toGroup, newShortName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.groups[fromGroup]
	if !ok {
		return ErrNotFound
	}
	idx := -1
	for i, mem := range members {
		if mem.Username == username {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	moved := members[idx]
	if newShortName != "" {
		moved.ShortName = newShortName
	}
	members = append(members[:idx], members[idx+1:]...)
	if len(members) == 0 {
		delete(m.groups, fromGroup)
	} else {
		m.groups[fromGroup] = members
	}
	m.groups[toGroup] = append(m.groups[toGroup], moved)
	return nil
}

func (m *Memory) RemoveMember(group, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.groups[group]
	if !ok {
		return ErrNotFound
	}
	idx := -1
	for i, mem := range members {
		if mem.Username == username {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	members = append(members[:idx], members[idx+1:]...)
	if len(members) == 0 {
		// An emptied group disappears from tracking; its cluster
		// namespace is left alone.
		delete(m.groups, group)
	} else {
		m.groups[group] = members
	}
	return nil
}

func (m *Memory) SetRoleAssignment(username, group, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[username] = types.RoleAssignment{Username: username, Group: group, Role: role}
}

func (m *Memory) ClearRoleAssignment(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, username)
}

func (m *Memory) GetRoleAssignment(username string) (types.RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ra, ok := m.roles[username]
	if !ok {
		return types.RoleAssignment{}, ErrNotFound
	}
	return ra, nil
}

func (m *Memory) ListGroups() []types.GroupMembers {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.GroupMembers, 0, len(m.groups))
	for name, members := range m.groups {
		gm := types.GroupMembers{Group: name, Members: make([]types.Member, len(members))}
		copy(gm.Members, members)
		out = append(out, gm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

func (m *Memory) ListMembers(group string) ([]types.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members, ok := m.groups[group]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]types.Member, len(members))
	copy(out, members)
	return out, nil
}

func (m *Memory) ListRoleAssignments() []types.RoleAssignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.RoleAssignment, 0, len(m.roles))
	for _, ra := range m.roles {
		out = append(out, ra)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (m *Memory) FindMember(username string) (types.Member, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for group, members := range m.groups {
		for _, mem := range members {
			if mem.Username == username {
				return mem, group, nil
			}
		}
	}
	return types.Member{}, "", ErrNotFound
}
