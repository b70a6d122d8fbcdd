package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClaimGuard locks a box id out of the claim endpoint after repeated
// identity mismatches within a rolling window, slowing down guessing of
// stored names/emails for someone else's box.
type ClaimGuard struct {
	client      *redis.Client
	prefix      string
	maxFailures int
	window      time.Duration
}

// NewClaimGuard builds a Redis-backed guard.
func NewClaimGuard(addr, password string, maxFailures int, window time.Duration) (*ClaimGuard, error) {
	if maxFailures <= 0 || window <= 0 {
		return nil, errors.New("claim guard requires positive max failures and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("claim guard redis addr is required")
	}
	return &ClaimGuard{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix:      "enviobox:claimguard",
		maxFailures: maxFailures,
		window:      window,
	}, nil
}

// Blocked reports whether the box id has exhausted its allowed failures.
// It fails closed on Redis errors.
func (g *ClaimGuard) Blocked(boxID string) bool {
	if g == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := g.client.Get(ctx, g.key(boxID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false
		}
		return true
	}
	return count >= g.maxFailures
}

// RecordFailure counts one failed identity check against the box id.
// The window starts at the first failure.
func (g *ClaimGuard) RecordFailure(boxID string) {
	if g == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = fixedWindowScript.Run(ctx, g.client, []string{g.key(boxID)}, g.window.Milliseconds()).Int64()
}

func (g *ClaimGuard) key(boxID string) string {
	return fmt.Sprintf("%s:%s", g.prefix, strings.ToUpper(strings.TrimSpace(boxID)))
}
