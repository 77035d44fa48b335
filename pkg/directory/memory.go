package directory

import (
	"context"
	"sort"
	"sync"
)

type membership struct {
	role   string
	scopes map[string]bool
}

// MemoryDirectory is an in-process authz.Directory for tests and
// single-node development runs.
type MemoryDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string]*membership // tenantID -> userID -> membership
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{members: make(map[string]map[string]*membership)}
}

func (d *MemoryDirectory) TenantRole(ctx context.Context, userID, tenantID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if m := d.members[tenantID][userID]; m != nil {
		return m.role, nil
	}
	return "", nil
}

func (d *MemoryDirectory) ScopedResourceIDs(ctx context.Context, userID, tenantID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m := d.members[tenantID][userID]
	if m == nil {
		return nil, nil
	}
	ids := make([]string, 0, len(m.scopes))
	for id := range m.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *MemoryDirectory) IsTenantMember(ctx context.Context, userID, tenantID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.members[tenantID][userID] != nil, nil
}

func (d *MemoryDirectory) AddMember(ctx context.Context, userID, tenantID, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[tenantID] == nil {
		d.members[tenantID] = make(map[string]*membership)
	}
	if m := d.members[tenantID][userID]; m != nil {
		m.role = role
		return nil
	}
	d.members[tenantID][userID] = &membership{role: role, scopes: make(map[string]bool)}
	return nil
}

func (d *MemoryDirectory) RemoveMember(ctx context.Context, userID, tenantID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[tenantID], userID)
	return nil
}

func (d *MemoryDirectory) AssignScope(ctx context.Context, userID, tenantID, resourceID, assignedBy string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m := d.members[tenantID][userID]; m != nil {
		m.scopes[resourceID] = true
	}
	return nil
}

func (d *MemoryDirectory) RemoveScope(ctx context.Context, userID, tenantID, resourceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m := d.members[tenantID][userID]; m != nil {
		delete(m.scopes, resourceID)
	}
	return nil
}
