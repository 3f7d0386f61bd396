// Package credential implements the Credential Resolver (spec.md §4.1):
// turning a ProviderBinding's Credential location into the literal
// secret value an adapter attaches to its outbound HTTP request.
package credential

import (
	"fmt"
	"os"
	"sync"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwlog"
	"github.com/inferencegw/core/pkg/gwtypes"
)

// Resolved is the outcome of resolving a Credential: either a literal
// secret value to attach, or a sentinel meaning "defer to the provider
// SDK's own credential discovery" or "no credential required".
type Resolved struct {
	Value   string
	IsSdk   bool
	IsNone  bool
}

// Resolver resolves gwtypes.Credential values, caching static and
// file-backed credentials for the process lifetime (spec.md §4.1
// "Caching"). Dynamic credentials are re-resolved every call and are
// never cached.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]string // keyed by Credential.String() for Env/PathFromEnv/Path
}

// NewResolver returns an empty Resolver ready for use.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]string)}
}

// Resolve implements the §4.1 contract: resolve(location, kind,
// dynamicKeys) → Credential | error("ApiKeyMissing"). provider is used
// only for error messages and the WARN-level fallback log. dynamicKeys
// is the per-request InferenceCredentials map consulted for
// CredentialDynamic.
func (r *Resolver) Resolve(provider string, c gwtypes.Credential, dynamicKeys map[string]string) (Resolved, error) {
	resolved, err := r.resolveOnce(provider, c, dynamicKeys)
	if err == nil {
		return resolved, nil
	}
	if !gwerrors.IsApiKeyMissingError(err) || c.Fallback == nil {
		return Resolved{}, err
	}
	gwlog.Warnf("credential: provider %q falling back from %s to %s after: %v",
		provider, c.String(), c.Fallback.String(), err)
	return r.Resolve(provider, *c.Fallback, dynamicKeys)
}

func (r *Resolver) resolveOnce(provider string, c gwtypes.Credential, dynamicKeys map[string]string) (Resolved, error) {
	switch c.Kind {
	case gwtypes.CredentialSdk:
		return Resolved{IsSdk: true}, nil

	case gwtypes.CredentialNone:
		return Resolved{IsNone: true}, nil

	case gwtypes.CredentialStatic:
		if c.StaticValue == "" {
			return Resolved{}, gwerrors.NewApiKeyMissingError(provider, c.String(), fmt.Errorf("static credential is empty"))
		}
		return Resolved{Value: c.StaticValue}, nil

	case gwtypes.CredentialDynamic:
		v, ok := dynamicKeys[c.DynamicName]
		if !ok || v == "" {
			return Resolved{}, gwerrors.NewApiKeyMissingError(provider, c.String(),
				fmt.Errorf("dynamic key %q not present in per-request credentials", c.DynamicName))
		}
		return Resolved{Value: v}, nil

	case gwtypes.CredentialEnv:
		return r.resolveCached(provider, c, func() (string, error) {
			v, ok := os.LookupEnv(c.EnvVar)
			if !ok || v == "" {
				return "", fmt.Errorf("environment variable %q not set", c.EnvVar)
			}
			return v, nil
		})

	case gwtypes.CredentialPathFromEnv:
		return r.resolveCached(provider, c, func() (string, error) {
			path, ok := os.LookupEnv(c.EnvVar)
			if !ok || path == "" {
				return "", fmt.Errorf("environment variable %q not set", c.EnvVar)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading credential file %q (from env %q): %w", path, c.EnvVar, err)
			}
			return string(data), nil
		})

	case gwtypes.CredentialPath:
		return r.resolveCached(provider, c, func() (string, error) {
			data, err := os.ReadFile(c.FilePath)
			if err != nil {
				return "", fmt.Errorf("reading credential file %q: %w", c.FilePath, err)
			}
			return string(data), nil
		})

	default:
		return Resolved{}, gwerrors.NewApiKeyMissingError(provider, c.String(), fmt.Errorf("unknown credential kind %q", c.Kind))
	}
}

func (r *Resolver) resolveCached(provider string, c gwtypes.Credential, resolve func() (string, error)) (Resolved, error) {
	key := c.String()

	r.mu.RLock()
	if v, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return Resolved{Value: v}, nil
	}
	r.mu.RUnlock()

	v, err := resolve()
	if err != nil {
		return Resolved{}, gwerrors.NewApiKeyMissingError(provider, key, err)
	}

	r.mu.Lock()
	r.cache[key] = v
	r.mu.Unlock()

	return Resolved{Value: v}, nil
}
