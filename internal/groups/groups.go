// Package groups answers membership questions for jobs that restrict who
// may claim them.
package groups

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

//go:generate mockgen -source=groups.go -destination=mocks/mocks.go -package=mocks Store

// Store reports whether a member is approved in a group. Only approved
// membership counts; pending or rejected members are outsiders.
type Store interface {
	IsApprovedMember(ctx context.Context, group, memberRef string) (bool, error)
}

// InMemory is a membership store backed by a map, for tests and the demo
// environment.
type InMemory struct {
	mu      sync.RWMutex
	members map[string]map[string]bool
}

// NewInMemory creates an empty in-memory membership store.
func NewInMemory() *InMemory {
	return &InMemory{members: make(map[string]map[string]bool)}
}

// Approve records memberRef as an approved member of group.
func (s *InMemory) Approve(group, memberRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[group] == nil {
		s.members[group] = make(map[string]bool)
	}
	s.members[group][memberRef] = true
}

// Revoke removes memberRef from group.
func (s *InMemory) Revoke(group, memberRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[group], memberRef)
}

// IsApprovedMember implements Store.
func (s *InMemory) IsApprovedMember(_ context.Context, group, memberRef string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[group][memberRef], nil
}

// Postgres is a membership store backed by the group_members table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed membership store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// IsApprovedMember implements Store.
func (s *Postgres) IsApprovedMember(ctx context.Context, group, memberRef string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM group_members
			WHERE group_name = $1 AND member_ref = $2 AND status = 'approved'
		)
	`
	var approved bool
	if err := s.db.QueryRowContext(ctx, query, group, memberRef).Scan(&approved); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return approved, nil
}

var (
	_ Store = (*InMemory)(nil)
	_ Store = (*Postgres)(nil)
)
