package rbac

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/congregate/congregate/internal/shared"
)

// memStore is an in-memory RoleRepository and CatalogRepository.
type memStore struct {
	mu      sync.Mutex
	members map[string]Member
	perms   []Permission
	grants  map[Role][]uuid.UUID

	readErr    error
	replaceErr error
	beforeIns  func()
	inserts    int
	roleWrites int
}

func newMemStore() *memStore {
	return &memStore{
		members: make(map[string]Member),
		grants:  make(map[Role][]uuid.UUID),
	}
}

func (s *memStore) addPermission(name string) Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Permission{ID: uuid.New(), Name: name, Description: name}
	s.perms = append(s.perms, p)
	sort.Slice(s.perms, func(i, j int) bool { return s.perms[i].Name < s.perms[j].Name })
	return p
}

func (s *memStore) addMember(email string, role Role) Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Member{ID: uuid.NewString(), Email: email, Role: role}
	s.members[email] = m
	return m
}

func (s *memStore) addMemberWithID(id, email string, role Role) Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Member{ID: id, Email: email, Role: role}
	s.members[email] = m
	return m
}

func (s *memStore) memberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (s *memStore) role(email string) Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[email].Role
}

func (s *memStore) FindMemberByEmail(ctx context.Context, email string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return Member{}, s.readErr
	}
	m, ok := s.members[strings.ToLower(email)]
	if !ok {
		return Member{}, shared.ErrNotFound
	}
	return m, nil
}

func (s *memStore) InsertMember(ctx context.Context, nm NewMember) (Member, error) {
	if s.beforeIns != nil {
		s.beforeIns()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[nm.Email]; ok {
		return Member{}, shared.ErrDuplicate
	}
	for _, m := range s.members {
		if nm.ID != "" && m.ID == nm.ID {
			return Member{}, shared.ErrDuplicate
		}
	}
	id := nm.ID
	if id == "" {
		id = uuid.NewString()
	}
	m := Member{ID: id, Email: nm.Email, Role: nm.Role}
	s.members[nm.Email] = m
	s.inserts++
	return m, nil
}

func (s *memStore) UpdateRole(ctx context.Context, id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	admins := 0
	for _, m := range s.members {
		if m.Role == RoleAdmin {
			admins++
		}
	}
	for email, m := range s.members {
		if m.ID == id {
			if m.Role == RoleAdmin && role != RoleAdmin && admins <= 1 {
				return ErrLastAdmin
			}
			m.Role = role
			s.members[email] = m
			s.roleWrites++
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return slices.Clone(s.perms), nil
}

func (s *memStore) ListGrants(ctx context.Context) (map[Role][]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make(map[Role][]uuid.UUID, len(s.grants))
	for role, ids := range s.grants {
		out[role] = slices.Clone(ids)
	}
	return out, nil
}

func (s *memStore) PermissionNamesForRole(ctx context.Context, role Role) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var names []string
	for _, id := range s.grants[role] {
		for _, p := range s.perms {
			if p.ID == id {
				names = append(names, p.Name)
			}
		}
	}
	return names, nil
}

func (s *memStore) ReplaceGrants(ctx context.Context, grants map[Role][]uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	for role := range grants {
		if role == RoleAdmin {
			return ErrAdminImplicit
		}
	}
	for role, ids := range grants {
		s.grants[role] = slices.Clone(ids)
	}
	return nil
}

func (s *memStore) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.perms {
		if p.Name == name {
			s.perms[i].Description = description
			return s.perms[i], nil
		}
	}
	p := Permission{ID: uuid.New(), Name: name, Description: description}
	s.perms = append(s.perms, p)
	sort.Slice(s.perms, func(i, j int) bool { return s.perms[i].Name < s.perms[j].Name })
	return p, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if actor, ok := shared.ActorFromContext(ctx); ok && log.ActorID == "" {
		log.ActorID = actor.AccountID
	}
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}
