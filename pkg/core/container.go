package core

import (
	"fmt"
	"reflect"
	"sync"
)

// Container is the host application's dependency container.
type Container interface {
	Get(id string) (any, error)
	Has(id string) bool
}

// TypeID is the id a value of type t is looked up with when resolved by type.
func TypeID(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeID(t.Elem())
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Services is a map backed Container.
type Services struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewServices creates an empty container.
func NewServices() *Services {
	return &Services{entries: make(map[string]any)}
}

// Set registers a value under id.
func (s *Services) Set(id string, v any) *Services {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = v
	return s
}

// Provide registers a value under the id of its dynamic type.
func (s *Services) Provide(v any) *Services {
	return s.Set(TypeID(reflect.TypeOf(v)), v)
}

// ProvideAs registers v under the id of T, typically an interface type.
func ProvideAs[T any](s *Services, v T) *Services {
	return s.Set(TypeID(reflect.TypeOf((*T)(nil)).Elem()), v)
}

// Get returns the value registered under id.
func (s *Services) Get(id string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: service %q", ErrNotFound, id)
	}
	return v, nil
}

// Has reports whether id is registered.
func (s *Services) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

var _ Container = (*Services)(nil)
