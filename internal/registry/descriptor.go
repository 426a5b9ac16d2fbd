// Package registry maps module names to network locations, loads them
// through a Fetcher and caches the resulting factories for the process
// lifetime.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Environment selects which URL a descriptor resolves to.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// ParseEnvironment accepts "development"/"dev" and "production"/"prod".
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "development", "dev":
		return Development, nil
	case "production", "prod":
		return Production, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

func (e Environment) String() string {
	return string(e)
}

// ResolveFunc maps an environment to the module's entry URL.
type ResolveFunc func(env Environment) (string, error)

// StaticResolver resolves from a fixed dev/production URL pair.
func StaticResolver(devURL, prodURL string) ResolveFunc {
	return func(env Environment) (string, error) {
		var url string
		switch env {
		case Production:
			url = prodURL
		default:
			url = devURL
		}
		if url == "" {
			return "", fmt.Errorf("no %s url configured", env)
		}
		return url, nil
	}
}

// Descriptor is the static description of one remote module. It is never
// modified after Register.
type Descriptor struct {
	// Name is the registry key, for example "headerMfe".
	Name string
	// Scope is the name the remote publishes under in its manifest.
	Scope string
	// Expose is the manifest key of the entry to instantiate, for example "./Header".
	Expose  string
	Resolve ResolveFunc
}

var (
	ErrDuplicate         = errors.New("module already registered")
	ErrInvalidDescriptor = errors.New("invalid module descriptor")
)

func (d Descriptor) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if d.Resolve == nil {
		return fmt.Errorf("%w: %s has no resolver", ErrInvalidDescriptor, d.Name)
	}
	return nil
}
