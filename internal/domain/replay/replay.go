// Package replay turns a recorded thread into a paced, reproducible delivery
// schedule.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/overhearops/overhearops/internal/domain/message"
)

// Options tune pacing. A nil Seed draws jitter from an unseeded source.
type Options struct {
	Speed  float64 `json:"speed"`
	Jitter float64 `json:"jitter"`
	Seed   *int64  `json:"seed,omitempty"`
}

// DefaultOptions returns real-time pacing with 10% jitter.
func DefaultOptions() Options {
	return Options{Speed: 1.0, Jitter: 0.1}
}

// Scheduled is one message with the wait before delivering it.
type Scheduled struct {
	Message message.Message `json:"message"`
	Delay   float64         `json:"delay"` // seconds, never negative
}

// Wait returns Delay as a duration.
func (s Scheduled) Wait() time.Duration {
	return time.Duration(s.Delay * float64(time.Second))
}

// Schedule is an ordered delivery plan.
type Schedule []Scheduled

// Build computes delays for msgs in their given order. The first message has
// no base delay; later ones wait for the gap to their predecessor, perturbed
// by a jitter fraction of that gap and divided by speed. Speed <= 0 delivers
// everything immediately. Given a seed, Build is a pure function of its input.
func Build(msgs []message.Message, opts Options) (Schedule, error) {
	rng := newSource(opts.Seed)

	out := make(Schedule, 0, len(msgs))
	var prev time.Time
	for i, m := range msgs {
		ts, err := m.CreatedAt()
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		base := 0.0
		if i > 0 {
			base = ts.Sub(prev).Seconds()
		}
		prev = ts

		jitter := 0.0
		if opts.Jitter > 0 {
			jitter = base * opts.Jitter * (rng.Float64()*2 - 1)
		}

		delay := 0.0
		if opts.Speed > 0 {
			delay = math.Max(0, (base+jitter)/opts.Speed)
		}
		out = append(out, Scheduled{Message: m, Delay: delay})
	}
	return out, nil
}

func newSource(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // pacing jitter, not security sensitive
	}
	s := uint64(*seed)                                    //nolint:gosec // bit pattern reuse is intended
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15)) //nolint:gosec // pacing jitter, not security sensitive
}

// Fingerprint hashes message ids and delays formatted to six decimals.
func (s Schedule) Fingerprint() string {
	h := sha256.New()
	for _, e := range s {
		h.Write([]byte(e.Message.ID))
		fmt.Fprintf(h, "%.6f", e.Delay)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Total is the sum of all delays.
func (s Schedule) Total() time.Duration {
	var d time.Duration
	for _, e := range s {
		d += e.Wait()
	}
	return d
}
