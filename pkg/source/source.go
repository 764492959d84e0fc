// Package source defines where field descriptors come from. A Provider
// returns the current field list; a Watcher additionally reports changes so
// running flows can reload their steps.
package source

import (
	"context"
	"sort"
	"sync"

	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/step"
)

// Snapshot is the field list of a flow at one point in time.
type Snapshot struct {
	Lead     *step.Lead
	Sections []step.Section
	Fields   []field.Descriptor
}

// DeriveOptions converts the snapshot's lead and sections into step options.
func (s Snapshot) DeriveOptions() []step.Option {
	var opts []step.Option
	if s.Lead != nil {
		opts = append(opts, step.WithLead(*s.Lead))
	}
	if len(s.Sections) > 0 {
		opts = append(opts, step.WithSections(s.Sections...))
	}
	return opts
}

// Provider returns the current snapshot.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Snapshot, error)

// Snapshot implements Provider.
func (fn ProviderFunc) Snapshot(ctx context.Context) (Snapshot, error) {
	return fn(ctx)
}

// Watcher is implemented by providers that can announce changes. fn is
// called after every update with the new snapshot; stop unregisters it.
type Watcher interface {
	Watch(fn func(Snapshot)) (stop func())
}

// Static is an in-memory provider. Update replaces the snapshot and notifies
// watchers.
type Static struct {
	mu       sync.RWMutex
	snapshot Snapshot
	watchers map[int]func(Snapshot)
	nextID   int
}

var (
	_ Provider = (*Static)(nil)
	_ Watcher  = (*Static)(nil)
)

// NewStatic returns a provider serving snapshot.
func NewStatic(snapshot Snapshot) *Static {
	return &Static{snapshot: clone(snapshot), watchers: map[int]func(Snapshot){}}
}

// Snapshot implements Provider.
func (s *Static) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.snapshot), nil
}

// Update replaces the snapshot and notifies watchers.
func (s *Static) Update(snapshot Snapshot) {
	s.mu.Lock()
	s.snapshot = clone(snapshot)
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	current := clone(s.snapshot)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(clone(current))
	}
}

// Watch implements Watcher.
func (s *Static) Watch(fn func(Snapshot)) (stop func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func clone(s Snapshot) Snapshot {
	out := Snapshot{
		Sections: append([]step.Section(nil), s.Sections...),
		Fields:   append([]field.Descriptor(nil), s.Fields...),
	}
	if s.Lead != nil {
		lead := *s.Lead
		lead.Fields = append([]field.Descriptor(nil), s.Lead.Fields...)
		out.Lead = &lead
	}
	return out
}
