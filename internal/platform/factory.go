package platform

import (
	"fmt"

	"github.com/aretw0/silo/pkg/registry"
)

// New creates a registry from a settings map: the optional "registry" entry
// configures the registry, the manager entries register builders.
//
//	reg, err := silo.New(settings, silo.WithEntities(User{}))
func New(settings map[string]any, opts ...Option) (*registry.Registry, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	reg := registry.New(o.registryOptions()...)
	for name, ctor := range o.repos {
		if err := reg.Repositories().Register(name, ctor); err != nil {
			return nil, err
		}
	}

	managers := make(map[string]any, len(settings))
	for k, v := range settings {
		if k != RegistryKey {
			managers[k] = v
		}
	}
	if raw, ok := settings[RegistryKey]; ok {
		cfg, isMap := raw.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("registry settings must be a map, %T given", raw)
		}
		if err := reg.Configure(cfg); err != nil {
			return nil, err
		}
	}

	if err := reg.RegisterManagers(managers); err != nil {
		return nil, err
	}
	return reg, nil
}

// Open loads a settings file and creates a registry from it.
func Open(path string, opts ...Option) (*registry.Registry, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	settings, err := LoadSettings(path, o.env)
	if err != nil {
		return nil, err
	}
	return New(settings, opts...)
}
