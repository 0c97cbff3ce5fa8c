package ndjson

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/overhearops/overhearops/internal/domain"
)

const thread = `{"id":"2","createdDateTime":"2024-05-01T10:00:05Z","body":{"content":"second"}}

{"id":"1","createdDateTime":"2024-05-01T10:00:00Z","body":{"content":"CI failing with timeout"}}
`

func newSource(t *testing.T) *Source {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ci_flake.ndjson"), []byte(thread), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "empty.ndjson"), []byte("\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	return New(dir)
}

func TestThreads(t *testing.T) {
	got, err := newSource(t).Threads(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["ci_flake"] != 2 || got["empty"] != 0 {
		t.Fatalf("unexpected threads %v", got)
	}
}

func TestMessagesSorted(t *testing.T) {
	msgs, err := newSource(t).Messages(context.Background(), "ci_flake")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Fatalf("unexpected order %+v", msgs)
	}
	if msgs[0].Content() != "CI failing with timeout" {
		t.Errorf("unexpected content %q", msgs[0].Content())
	}
}

func TestMessagesNotFound(t *testing.T) {
	s := newSource(t)
	for _, id := range []string{"missing", "empty", "../etc", ""} {
		if _, err := s.Messages(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%q: expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("{\"id\":\"1\"}\n{oops\n"))
	if !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
