package connmgr

import (
	"math/rand"
	"time"

	"github.com/quorumlayer/valnet/config"
)

// backoff tracks the exponential-with-jitter retry delay for one
// peer's outgoing dialer (spec §4.7.1: base 1s, factor 2, cap 60s,
// jitter ±20%). Reset on a clean worker exit, advanced on a dirty one.
type backoff struct {
	cfg     config.Config
	current time.Duration
}

func newBackoff(cfg config.Config) *backoff {
	return &backoff{cfg: cfg, current: cfg.BackoffBase}
}

// Reset restores the delay to its base value, used after a clean
// (handshake-completed, later disconnected normally) connection.
func (b *backoff) Reset() {
	b.current = b.cfg.BackoffBase
}

// Next returns the delay to wait before the next dial attempt and
// advances the internal state toward the cap, applying jitter so
// many peers retrying simultaneously do not thunder in lockstep.
func (b *backoff) Next() time.Duration {
	delay := b.current

	advanced := time.Duration(float64(b.current) * b.cfg.BackoffFactor)
	if advanced > b.cfg.BackoffCap {
		advanced = b.cfg.BackoffCap
	}
	b.current = advanced

	if b.cfg.BackoffJitter <= 0 {
		return delay
	}
	jitterRange := float64(delay) * b.cfg.BackoffJitter
	offset := (rand.Float64()*2 - 1) * jitterRange
	jittered := time.Duration(float64(delay) + offset)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}
