// Package offline implements provider.Provider over recorded JSON fixtures
// laid out as <dir>/<thread>/<task>.json.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/port/provider"
)

// Provider answers plan and judge tasks from files.
type Provider struct {
	dir  string
	name string
}

var _ provider.Provider = (*Provider)(nil)

// New returns a provider rooted at dir. name is the label recorded on runs.
func New(dir, name string) *Provider {
	if name == "" {
		name = "offline"
	}
	return &Provider{dir: dir, name: name}
}

// Name returns the provider label.
func (p *Provider) Name() string { return p.name }

// GenerateJSON returns the fixture for task on threadID. The payload is
// ignored; fixtures are keyed by thread only.
func (p *Provider) GenerateJSON(ctx context.Context, task, threadID string, _ any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validSegment(task) || !validSegment(threadID) {
		return nil, fmt.Errorf("offline %s/%s: invalid path segment: %w", threadID, task, domain.ErrValidation)
	}

	path := filepath.Join(p.dir, threadID, task+".json")
	data, err := os.ReadFile(path) //nolint:gosec // G304: segments validated above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("offline %s/%s: %w", threadID, task, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("offline %s/%s: %w", threadID, task, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("offline %s/%s: %w", threadID, task, domain.ErrMalformed)
	}
	return data, nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
