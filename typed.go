package silo

import (
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/repository"
)

// Repository is the type-safe repository of class T.
type Repository[T any] = repository.Repository[T]

// RepositoryOf returns the typed repository of T from a manager.
func RepositoryOf[T any](m core.Manager) (*Repository[T], error) {
	return repository.Of[T](m)
}
