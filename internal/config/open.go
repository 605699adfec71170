package config

import (
	"fmt"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/boltstore"
	"github.com/roach88/txentity/internal/model"
	"github.com/roach88/txentity/internal/session"
	"github.com/roach88/txentity/internal/store"
)

// OpenBackend opens the configured backend at Path.
func (c *Config) OpenBackend() (backend.Backend, error) {
	switch c.Backend {
	case BackendSQLite:
		return store.Open(c.Path)
	case BackendBolt:
		return boltstore.Open(c.Path)
	default:
		return nil, fmt.Errorf("open backend: unknown backend %q", c.Backend)
	}
}

// LoadModel loads the configured model, or returns nil if none is set.
func (c *Config) LoadModel() (*model.Model, error) {
	if c.Model == "" {
		return nil, nil
	}
	return model.Load(c.Model)
}

// ManagerOptions returns the session manager options the configuration
// implies. The model is loaded here, so a broken model file fails early.
func (c *Config) ManagerOptions() ([]session.Option, error) {
	opts := []session.Option{
		session.WithIdentityCacheSize(c.IdentityCacheSize),
		session.WithCreationTracking(c.TrackEntityCreation),
	}
	m, err := c.LoadModel()
	if err != nil {
		return nil, err
	}
	if m != nil {
		opts = append(opts, session.WithModel(m))
	}
	return opts, nil
}
