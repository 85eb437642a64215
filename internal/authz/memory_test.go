package authz

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warden-gate/warden-gate/internal/audit"
	"github.com/warden-gate/warden-gate/internal/store"
)

var errStoreDown = errors.New("store down")

// memoryStore is an in-memory Store used across the package tests. Failure
// injection is per operation, keyed by permission id for mutations.
type memoryStore struct {
	mu sync.Mutex

	roles       map[string][]store.Role
	permissions map[string]map[string]struct{}
	users       map[string]bool

	failRoles       bool
	failPermissions bool
	failExists      bool
	failGrant       map[string]bool
	failRevoke      map[string]bool

	grants  int
	revokes int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		roles:       make(map[string][]store.Role),
		permissions: make(map[string]map[string]struct{}),
		users:       make(map[string]bool),
		failGrant:   make(map[string]bool),
		failRevoke:  make(map[string]bool),
	}
}

func (m *memoryStore) addUser(userID string, roleNames ...string) {
	m.users[userID] = true
	for _, name := range roleNames {
		m.roles[userID] = append(m.roles[userID], store.Role{ID: int64(len(m.roles[userID]) + 1), Name: name})
	}
}

func (m *memoryStore) setPermissions(userID string, ids ...string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	m.permissions[userID] = set
}

func (m *memoryStore) permissionSet(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.permissions[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *memoryStore) FetchRoles(ctx context.Context, userID string) ([]store.Role, error) {
	if m.failRoles {
		return nil, errStoreDown
	}
	return m.roles[userID], nil
}

func (m *memoryStore) FetchPermissions(ctx context.Context, userID string) ([]string, error) {
	if m.failPermissions {
		return nil, errStoreDown
	}
	return m.permissionSet(userID), nil
}

func (m *memoryStore) GrantPermission(ctx context.Context, userID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGrant[permissionID] {
		return errStoreDown
	}
	if m.permissions[userID] == nil {
		m.permissions[userID] = make(map[string]struct{})
	}
	m.permissions[userID][permissionID] = struct{}{}
	m.grants++
	return nil
}

func (m *memoryStore) RevokePermission(ctx context.Context, userID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRevoke[permissionID] {
		return errStoreDown
	}
	delete(m.permissions[userID], permissionID)
	m.revokes++
	return nil
}

func (m *memoryStore) UserExists(ctx context.Context, userID string) (bool, error) {
	if m.failExists {
		return false, errStoreDown
	}
	return m.users[userID], nil
}

// recorderStub captures dispatched audit entries.
type recorderStub struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorderStub) Dispatch(ctx context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorderStub) recorded() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}
