// Package keypool implements round-robin credential rotation with
// per-credential cooldown over N LLM API keys, as described in §4.1.
package keypool

import (
	"context"
	"fmt"
	"sync"
	"time"

	alexerrors "alex/internal/errors"
	"alex/internal/logging"
)

// Config configures a Pool.
type Config struct {
	// Credentials is the ordered list of opaque API keys/tokens.
	Credentials []string
	// MinInterval is the minimum spacing enforced between any two
	// acquisitions, regardless of which credential is returned. Default 4s,
	// matching the teacher's MIN_REQUEST_INTERVAL.
	MinInterval time.Duration
	// Cooldown is how long a credential is skipped after an overload-class
	// failure. Default 60s.
	Cooldown time.Duration
	// PostSuccessCooldown is a short pause enforced after every successful
	// acquisition to prevent bursting immediately after recovery. Default 3s.
	PostSuccessCooldown time.Duration
	Logger              logging.Logger
}

// Pool hands out credentials in round-robin order, skipping any currently
// in cooldown, and enforces a global minimum inter-acquisition interval.
type Pool struct {
	credentials         []string
	minInterval         time.Duration
	cooldown            time.Duration
	postSuccessCooldown time.Duration
	logger              logging.Logger

	mu              sync.Mutex
	currentIndex    int
	lastRequestTime time.Time
	cooldownUntil   []time.Time
}

// ErrNoCredentials is returned by New when Config.Credentials is empty.
var ErrNoCredentials = fmt.Errorf("keypool: no credentials configured")

// ErrAllKeysOverloaded is returned by Acquire after 2×N attempts with every
// credential still in cooldown, matching the all_keys_overloaded error_type.
var ErrAllKeysOverloaded = fmt.Errorf("keypool: all credentials overloaded")

// New builds a Pool. Returns ErrNoCredentials if cfg.Credentials is empty.
func New(cfg Config) (*Pool, error) {
	if len(cfg.Credentials) == 0 {
		return nil, ErrNoCredentials
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 4 * time.Second
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.PostSuccessCooldown == 0 {
		cfg.PostSuccessCooldown = 3 * time.Second
	}
	return &Pool{
		credentials:         cfg.Credentials,
		minInterval:         cfg.MinInterval,
		cooldown:            cfg.Cooldown,
		postSuccessCooldown: cfg.PostSuccessCooldown,
		logger:              logging.OrNop(cfg.Logger),
		cooldownUntil:       make([]time.Time, len(cfg.Credentials)),
	}, nil
}

// Acquisition is the result of Acquire: the credential text and its
// 0-based ordinal in the pool (used for metrics/logging, and as the
// per-credential circuit breaker key).
type Acquisition struct {
	Credential string
	Ordinal    int
}

// Acquire selects the next usable credential, sleeping as needed to honor
// MinInterval and any active cooldowns. It blocks until a credential is
// available or ctx is cancelled, and fails with ErrAllKeysOverloaded once
// every credential has been found cooling across 2×N probe rounds.
func (p *Pool) Acquire(ctx context.Context) (Acquisition, error) {
	maxAttempts := 2 * len(p.credentials)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		acq, wait, ok := p.tryAcquireOnce()
		if ok {
			if wait > 0 {
				select {
				case <-ctx.Done():
					return Acquisition{}, ctx.Err()
				case <-time.After(wait):
				}
			}
			return acq, nil
		}

		// All credentials cooling: sleep until the earliest expiry, then retry.
		select {
		case <-ctx.Done():
			return Acquisition{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return Acquisition{}, ErrAllKeysOverloaded
}

// tryAcquireOnce runs the mutually-exclusive critical section: it advances
// currentIndex past any cooling credential and, if one is usable, updates
// lastRequestTime and returns it plus the wait duration the caller must
// honor (outside the lock) before actually using it. If none is usable it
// returns the shortest remaining cooldown as the wait.
func (p *Pool) tryAcquireOnce() (Acquisition, time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	n := len(p.credentials)

	earliestCooldown := time.Duration(0)
	for i := 0; i < n; i++ {
		idx := (p.currentIndex + i) % n
		if p.cooldownUntil[idx].After(now) {
			remaining := p.cooldownUntil[idx].Sub(now)
			if earliestCooldown == 0 || remaining < earliestCooldown {
				earliestCooldown = remaining
			}
			continue
		}

		// Usable credential found.
		p.currentIndex = (idx + 1) % n

		wait := time.Duration(0)
		if since := now.Sub(p.lastRequestTime); since < p.minInterval {
			wait = p.minInterval - since
		}
		p.lastRequestTime = now.Add(wait)

		return Acquisition{Credential: p.credentials[idx], Ordinal: idx}, wait, true
	}

	if earliestCooldown <= 0 {
		earliestCooldown = 100 * time.Millisecond
	}
	return Acquisition{}, earliestCooldown, false
}

// ReportSuccess clears the credential's cooldown and enforces the
// post-success cooldown before the caller's next use of this ordinal.
func (p *Pool) ReportSuccess(ordinal int) {
	p.mu.Lock()
	if ordinal >= 0 && ordinal < len(p.cooldownUntil) {
		p.cooldownUntil[ordinal] = time.Time{}
	}
	p.mu.Unlock()
	time.Sleep(p.postSuccessCooldown)
}

// ReportFailure inspects err; if it matches the overload-class substring
// set, the credential is placed into cooldown for Config.Cooldown.
func (p *Pool) ReportFailure(ordinal int, err error) {
	if !alexerrors.IsOverloadClass(err) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ordinal >= 0 && ordinal < len(p.cooldownUntil) {
		p.cooldownUntil[ordinal] = time.Now().Add(p.cooldown)
		p.logger.Warn("credential #%d placed in cooldown until %v: %v", ordinal+1, p.cooldownUntil[ordinal], err)
	}
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int { return len(p.credentials) }
