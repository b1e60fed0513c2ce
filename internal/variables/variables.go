// Package variables provides the shared working-memory key/value store.
//
// Variables are written by variable_set actions and the operator API, read
// by condition evaluation. The in-memory map is authoritative; every write
// goes through to SQLite so values survive a restart.
package variables

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a variable name does not exist.
var ErrNotFound = errors.New("variable: not found")

// Variable is a single named value.
type Variable struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository defines the persistence interface for variables.
type Repository interface {
	List(ctx context.Context) ([]Variable, error)
	Upsert(ctx context.Context, v Variable) error
	Delete(ctx context.Context, name string) error
}

// Store is a thread-safe variable store with write-through persistence.
type Store struct {
	repo  Repository
	mu    sync.RWMutex
	cache map[string]Variable
	now   func() time.Time
}

// NewStore creates a variable store over the given repository.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:  repo,
		cache: make(map[string]Variable),
		now:   time.Now,
	}
}

// RefreshCache loads all persisted variables. Called on startup.
func (s *Store) RefreshCache(ctx context.Context) error {
	vars, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading variables: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]Variable, len(vars))
	for _, v := range vars {
		s.cache[v.Name] = v
	}
	return nil
}

// Get returns a variable's current value.
func (s *Store) Get(name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cache[name]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Value, nil
}

// List returns all variables.
func (s *Store) List() []Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Variable, 0, len(s.cache))
	for _, v := range s.cache {
		out = append(out, v)
	}
	return out
}

// Set writes a variable. The in-memory value is updated even when the
// write-through fails; persistence retries on the next successful Set.
func (s *Store) Set(ctx context.Context, name string, value any) error {
	if name == "" {
		return errors.New("variable: name is required")
	}
	v := Variable{Name: name, Value: value, UpdatedAt: s.now().UTC()}

	s.mu.Lock()
	s.cache[name] = v
	s.mu.Unlock()

	if err := s.repo.Upsert(ctx, v); err != nil {
		return fmt.Errorf("persisting variable %q: %w", name, err)
	}
	return nil
}

// Delete removes a variable.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	_, ok := s.cache[name]
	delete(s.cache, name)
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, name)
}

// Lookup resolves a variable for condition evaluation.
func (s *Store) Lookup(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cache[name]
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// SQLiteRepository implements Repository using SQLite. Values are stored
// as JSON so any JSON-representable type round-trips.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves all variables.
func (r *SQLiteRepository) List(ctx context.Context) ([]Variable, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, value, updated_at FROM variables ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying variables: %w", err)
	}
	defer rows.Close()

	var vars []Variable
	for rows.Next() {
		var v Variable
		var raw, updatedAt string
		if scanErr := rows.Scan(&v.Name, &raw, &updatedAt); scanErr != nil {
			return nil, fmt.Errorf("scanning variable: %w", scanErr)
		}
		if jsonErr := json.Unmarshal([]byte(raw), &v.Value); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling variable %q: %w", v.Name, jsonErr)
		}
		if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
			v.UpdatedAt = t
		}
		vars = append(vars, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating variables: %w", err)
	}
	return vars, nil
}

// Upsert inserts or replaces a variable.
func (r *SQLiteRepository) Upsert(ctx context.Context, v Variable) error {
	raw, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("marshalling variable %q: %w", v.Name, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO variables (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		v.Name, string(raw), v.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting variable: %w", err)
	}
	return nil
}

// Delete removes a variable by name.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM variables WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting variable: %w", err)
	}
	return nil
}
