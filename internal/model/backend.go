package model

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
)

// DefaultBackend is the pure Go engine, always compiled in
const DefaultBackend = "go"

// NewBackend opens the named compute backend. An empty name defers to the
// GOMLX_BACKEND environment variable.
func NewBackend(name string) (backends.Backend, error) {
	var backend backends.Backend
	err := exceptions.TryCatch[error](func() {
		if name == "" {
			backend = backends.New()
			return
		}
		backend = backends.NewWithConfig(name)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %q backend: %w", name, err)
	}
	return backend, nil
}
