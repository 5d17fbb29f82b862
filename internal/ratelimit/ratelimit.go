// Package ratelimit is the admission-control gate in front of the
// signing routes. It is pure gatekeeping: nothing in the state machine
// depends on it.
package ratelimit

import (
	"context"
	"time"
)

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter answers whether one more request under key fits inside the
// window budget. Implementations: fixed-window counters in process
// memory or in redis for multi-node deployments.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
