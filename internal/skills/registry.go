package skills

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SourceValidator checks that a skill body compiles and defines the
// Execute entry point. The sandbox provides the real implementation;
// tests inject lighter ones.
type SourceValidator func(name, source string) error

// Registry owns all skill definitions for one process. Mutations are
// atomic per skill; reads observe a consistent snapshot and never block
// behind writes in progress on other skills.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Skill
	order    []string
	validate SourceValidator
	store    *FileStore
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. validate may be nil, in which
// case only shape validation runs.
func NewRegistry(validate SourceValidator, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName:   make(map[string]*Skill),
		validate: validate,
		logger:   logger,
	}
}

// AttachStore wires the persisted backing store. Registered non-verified
// skills are written through to it from then on.
func (r *Registry) AttachStore(store *FileStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// Register adds a new skill. It fails with ErrDuplicateName if the name
// is taken and ErrInvalidDefinition if the definition does not validate.
// Non-verified skills are persisted when a store is attached.
func (r *Registry) Register(s *Skill) error {
	if err := r.validateDefinition(s); err != nil {
		return err
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.LastModified = now
	if s.SuccessRate == 0 && s.ExecutionCount == 0 {
		s.SuccessRate = 100.0
	}

	r.mu.Lock()
	if _, exists := r.byName[s.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateName, s.Name)
	}
	clone := s.Clone()
	r.byName[s.Name] = clone
	r.order = append(r.order, s.Name)
	store := r.store
	r.mu.Unlock()

	if store != nil && !s.Verified {
		if err := store.Save(clone); err != nil {
			r.mu.Lock()
			delete(r.byName, s.Name)
			for i, n := range r.order {
				if n == s.Name {
					r.order = append(r.order[:i], r.order[i+1:]...)
					break
				}
			}
			r.mu.Unlock()
			return fmt.Errorf("persisting skill %q: %w", s.Name, err)
		}
	}
	r.logger.Info("registered skill",
		zap.String("name", s.Name),
		zap.String("role", clone.Role),
		zap.Bool("verified", s.Verified))
	return nil
}

// Update replaces the definition of an existing non-verified skill. The
// patch's name is forced to name; creation time and execution bookkeeping
// carry over from the existing record.
func (r *Registry) Update(name string, patch *Skill) error {
	r.mu.RLock()
	existing, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if existing.Verified {
		return fmt.Errorf("%w: %s", ErrProtected, name)
	}

	next := patch.Clone()
	next.Name = name
	next.Verified = false
	if err := r.validateDefinition(next); err != nil {
		return err
	}
	next.CreatedAt = existing.CreatedAt
	next.LastModified = time.Now().UTC()
	next.ExecutionCount = existing.ExecutionCount
	next.SuccessRate = existing.SuccessRate
	next.AverageMs = existing.AverageMs

	r.mu.Lock()
	current, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if current.Verified {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProtected, name)
	}
	r.byName[name] = next
	store := r.store
	r.mu.Unlock()

	if store != nil {
		if err := store.Save(next); err != nil {
			return fmt.Errorf("persisting skill %q: %w", name, err)
		}
	}
	r.logger.Info("updated skill", zap.String("name", name))
	return nil
}

// Remove deletes a non-verified skill and its persisted record.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	existing, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if existing.Verified {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProtected, name)
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	store := r.store
	r.mu.Unlock()

	if store != nil {
		if err := store.Delete(name); err != nil {
			return fmt.Errorf("removing persisted skill %q: %w", name, err)
		}
	}
	r.logger.Info("removed skill", zap.String("name", name))
	return nil
}

// Get returns a copy of the named skill.
func (r *Registry) Get(name string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.Clone(), nil
}

// List returns copies of all skills in registration order, optionally
// filtered by role. An empty role matches everything.
func (r *Registry) List(role string) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.order))
	for _, name := range r.order {
		s := r.byName[name]
		if role != "" && s.Role != role {
			continue
		}
		out = append(out, s.Clone())
	}
	return out
}

// Names returns all skill names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered skills.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// RecordExecution folds one sandbox run into a skill's bookkeeping. The
// success rate and average duration are rolling means over all runs.
func (r *Registry) RecordExecution(name string, ok bool, elapsed time.Duration) {
	r.mu.Lock()
	s, found := r.byName[name]
	if !found {
		r.mu.Unlock()
		return
	}
	s.ExecutionCount++
	n := float64(s.ExecutionCount)
	outcome := 0.0
	if ok {
		outcome = 100.0
	}
	s.SuccessRate = (s.SuccessRate*(n-1) + outcome) / n
	s.AverageMs = (s.AverageMs*(n-1) + float64(elapsed.Milliseconds())) / n
	clone := s.Clone()
	store := r.store
	r.mu.Unlock()

	if store != nil && !clone.Verified {
		if err := store.Save(clone); err != nil {
			r.logger.Warn("could not persist execution stats",
				zap.String("name", name), zap.Error(err))
		}
	}
}

// adopt validates and inserts without writing through to the store. The
// loader and the directory watcher use it because the file on disk is
// already the source of truth.
func (r *Registry) adopt(s *Skill) error {
	if err := r.validateDefinition(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, s.Name)
	}
	r.byName[s.Name] = s.Clone()
	r.order = append(r.order, s.Name)
	return nil
}

// upsert replaces a non-verified skill in place, or inserts it when
// absent. Verified skills are never replaced.
func (r *Registry) upsert(s *Skill) error {
	if err := r.validateDefinition(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, exists := r.byName[s.Name]; exists {
		if existing.Verified {
			return fmt.Errorf("%w: %s", ErrProtected, s.Name)
		}
		r.byName[s.Name] = s.Clone()
		return nil
	}
	r.byName[s.Name] = s.Clone()
	r.order = append(r.order, s.Name)
	return nil
}

// dropLoaded removes a non-verified skill from memory only, used when its
// backing file disappears out from under the watcher.
func (r *Registry) dropLoaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byName[name]
	if !ok || existing.Verified {
		return false
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// validateDefinition checks shape first, then hands the source to the
// injected validator. Every failure wraps ErrInvalidDefinition.
func (r *Registry) validateDefinition(s *Skill) error {
	if s == nil {
		return fmt.Errorf("%w: nil skill", ErrInvalidDefinition)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if strings.ContainsAny(s.Name, "/\\ \t\n") {
		return fmt.Errorf("%w: name %q contains path or space characters", ErrInvalidDefinition, s.Name)
	}
	if strings.TrimSpace(s.Description) == "" {
		return fmt.Errorf("%w: skill %q has no description", ErrInvalidDefinition, s.Name)
	}
	if s.Role == "" {
		s.Role = "general"
	}
	if !ValidRole(s.Role) {
		return fmt.Errorf("%w: skill %q has unknown role %q", ErrInvalidDefinition, s.Name, s.Role)
	}
	seen := make(map[string]bool, len(s.Parameters))
	for _, p := range s.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: skill %q has a parameter with no name", ErrInvalidDefinition, s.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: skill %q declares parameter %q twice", ErrInvalidDefinition, s.Name, p.Name)
		}
		seen[p.Name] = true
		if !p.Kind.Valid() {
			return fmt.Errorf("%w: skill %q parameter %q has unsupported type %q",
				ErrInvalidDefinition, s.Name, p.Name, p.Kind)
		}
	}
	if strings.TrimSpace(s.Source) == "" {
		return fmt.Errorf("%w: skill %q has no source", ErrInvalidDefinition, s.Name)
	}
	if r.validate != nil {
		if err := r.validate(s.Name, s.Source); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	}
	return nil
}
