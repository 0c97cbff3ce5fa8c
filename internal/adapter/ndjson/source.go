// Package ndjson reads recorded threads from <dir>/<thread>.ndjson files,
// one Teams-shaped message per line.
package ndjson

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/port/threadsource"
)

const ext = ".ndjson"

// maxLine bounds a single message line.
const maxLine = 1 << 20

// Source is a directory of NDJSON thread files.
type Source struct {
	dir string
}

var _ threadsource.Source = (*Source)(nil)

// New returns a source over dir.
func New(dir string) *Source {
	return &Source{dir: dir}
}

// Threads returns every thread id with its message count.
func (s *Source) Threads(ctx context.Context) (map[string]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read thread dir %s: %w", s.dir, err)
	}
	out := make(map[string]int)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		msgs, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = len(msgs)
	}
	return out, nil
}

// Messages returns the thread's messages ordered by createdDateTime.
func (s *Source) Messages(ctx context.Context, threadID string) ([]message.Message, error) {
	if threadID == "" || strings.ContainsAny(threadID, `/\`) || threadID == ".." {
		return nil, fmt.Errorf("thread %q: %w", threadID, domain.ErrNotFound)
	}
	msgs, err := s.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	message.SortByCreated(msgs)
	return msgs, nil
}

func (s *Source) load(ctx context.Context, threadID string) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, threadID+ext)
	data, err := os.ReadFile(path) //nolint:gosec // G304: thread id validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read thread %s: %w", threadID, err)
	}
	return Parse(data)
}

// Parse decodes NDJSON messages, skipping blank lines.
func Parse(data []byte) ([]message.Message, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var msgs []message.Message
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var m message.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", line, domain.ErrMalformed, err)
		}
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ndjson: %w", err)
	}
	return msgs, nil
}
