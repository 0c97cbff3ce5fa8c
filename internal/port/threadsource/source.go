// Package threadsource defines the port for reading recorded conversation threads.
package threadsource

import (
	"context"

	"github.com/overhearops/overhearops/internal/domain/message"
)

// Source lists threads and returns their messages ordered by creation time.
// Unknown threads yield domain.ErrNotFound.
type Source interface {
	Threads(ctx context.Context) (map[string]int, error)
	Messages(ctx context.Context, threadID string) ([]message.Message, error)
}
