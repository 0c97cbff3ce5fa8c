// Package secrets holds credentials such as the MCP API key and the
// Postgres DSN so they can be rotated without restarting the server.
package secrets

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Well-known keys.
const (
	MCPAPIKey   = "OVERHEAROPS_MCP_API_KEY"
	DatabaseURL = "DATABASE_URL"
)

// Loader returns the current secret values.
type Loader func() (map[string]string, error)

// Vault serves secrets from memory and swaps them atomically on Reload.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault loads once and fails if the loader does.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or "".
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Getter binds key for callers that want a func() string.
func (v *Vault) Getter(key string) func() string {
	return func() string { return v.Get(key) }
}

// Reload swaps in fresh values. On error the old values stay.
func (v *Vault) Reload() error {
	vals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = vals
	v.mu.Unlock()
	return nil
}

// EnvLoader reads the named environment variables, skipping unset ones.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// FileLoader reads KEY=VALUE lines from path. Blank lines and # comments
// are skipped. A missing file yields no values.
func FileLoader(path string) Loader {
	return func() (map[string]string, error) {
		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
		vals := make(map[string]string)
		sc := bufio.NewScanner(bytes.NewReader(data))
		for n := 1; sc.Scan(); n++ {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return nil, fmt.Errorf("secrets file %s line %d: expected KEY=VALUE", path, n)
			}
			vals[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
		}
		return vals, sc.Err()
	}
}

// Merge layers loaders; later loaders override earlier ones.
func Merge(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string)
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			for k, v := range vals {
				out[k] = v
			}
		}
		return out, nil
	}
}
