// Package limiter throttles failed admin credential attempts.
package limiter

import (
	"context"
	"time"
)

// Limiter controls credential attempts and temporary lockouts per (principal, ip).
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and an optional retry-after.
	Allow(ctx context.Context, principal string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, principal string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, principal string, ipHash []byte) (bool, time.Duration, error)
}

// Policy is the sliding window configuration.
type Policy struct {
	Window   time.Duration // failures older than this start a new count
	MaxFails int
	BlockFor time.Duration
}

// DefaultPolicy allows five failures per fifteen minutes.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}
