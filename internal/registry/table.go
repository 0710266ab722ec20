package registry

import (
	"fmt"
	"sort"
	"sync"
)

type entry[F any] struct {
	params []Param
	fn     F
}

// table is the name -> handler mapping shared by both registries.
type table[F any] struct {
	kind    Kind
	mu      sync.RWMutex
	entries map[string]entry[F]
}

func newTable[F any](kind Kind) *table[F] {
	return &table[F]{kind: kind, entries: make(map[string]entry[F])}
}

func (t *table[F]) register(name string, params []Param, fn F) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", t.kind)
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			return fmt.Errorf("%s '%s' declares parameter '%s' twice", t.kind, name, p.Name)
		}
		seen[p.Name] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[name]; exists {
		return fmt.Errorf("duplicate %s name '%s'", t.kind, name)
	}
	t.entries[name] = entry[F]{params: append([]Param(nil), params...), fn: fn}
	return nil
}

// resolve looks up name and binds params against its declaration.
func (t *table[F]) resolve(name string, params map[string]any) (F, Args, error) {
	t.mu.RLock()
	e, ok := t.entries[name]
	t.mu.RUnlock()
	if !ok {
		var zero F
		return zero, nil, &UnknownError{Kind: t.kind, Name: name, Available: t.names()}
	}
	args, err := bind(t.kind, name, e.params, params)
	if err != nil {
		var zero F
		return zero, nil, err
	}
	return e.fn, args, nil
}

func (t *table[F]) has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[name]
	return ok
}

func (t *table[F]) params(name string) ([]Param, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	if !ok {
		return nil, false
	}
	return append([]Param(nil), e.params...), true
}

func (t *table[F]) names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.entries))
	for n := range t.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
