// Package ratelimit rotates requests across several provider API keys, keeping
// each key under a requests-per-minute ceiling and benching keys that the
// provider rejected.
//
// The limiter is a fixed window per key, not a token bucket: staying under the
// provider quota is the only requirement.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	DefaultRPMLimit      = 12
	DefaultWindow        = 60 * time.Second
	DefaultCooldown      = 60 * time.Second
	DefaultRetryInterval = 1 * time.Second
)

// ErrNoCredentials is returned by Acquire when the pool was built without keys.
var ErrNoCredentials = errors.New("no api credentials configured")

type credential struct {
	key           string
	usage         int
	windowStart   time.Time
	cooldownUntil time.Time
}

// CredentialState is a read-only view of one key, safe to log or serve.
type CredentialState struct {
	Key           string    `json:"key"` // masked
	Usage         int       `json:"usage"`
	WindowStart   time.Time `json:"window_start"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
	CoolingDown   bool      `json:"cooling_down"`
}

// KeyPool hands out API keys in fixed priority order.
type KeyPool struct {
	mu    sync.Mutex
	creds []*credential
	index map[string]*credential

	limit         int
	window        time.Duration
	cooldown      time.Duration
	retryInterval time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option customizes the pool.
type Option func(*KeyPool)

// WithRPMLimit overrides the per-key requests-per-window ceiling (defaults to 12).
func WithRPMLimit(limit int) Option {
	return func(p *KeyPool) {
		if limit > 0 {
			p.limit = limit
		}
	}
}

// WithCooldown overrides how long a failing key is benched.
func WithCooldown(d time.Duration) Option {
	return func(p *KeyPool) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

// WithRetryInterval overrides the wait between Acquire scans.
func WithRetryInterval(d time.Duration) Option {
	return func(p *KeyPool) {
		if d > 0 {
			p.retryInterval = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(p *KeyPool) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleeper overrides how Acquire waits between scans (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(p *KeyPool) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New builds a pool over keys. Empty and duplicate keys are ignored; order is
// preserved and defines selection priority.
func New(keys []string, opts ...Option) *KeyPool {
	p := &KeyPool{
		index:         make(map[string]*credential),
		limit:         DefaultRPMLimit,
		window:        DefaultWindow,
		cooldown:      DefaultCooldown,
		retryInterval: DefaultRetryInterval,
		now:           time.Now,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}

	start := p.now()
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := p.index[k]; dup {
			continue
		}
		c := &credential{key: k, windowStart: start}
		p.creds = append(p.creds, c)
		p.index[k] = c
	}
	return p
}

// Len returns the number of distinct keys in the pool.
func (p *KeyPool) Len() int {
	return len(p.creds)
}

// Limit returns the per-key ceiling.
func (p *KeyPool) Limit() int {
	return p.limit
}

// TryAcquire returns the first usable key and counts one request against it.
func (p *KeyPool) TryAcquire() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, c := range p.creds {
		if now.Before(c.cooldownUntil) {
			continue
		}
		if now.Sub(c.windowStart) > p.window {
			c.usage = 0
			c.windowStart = now
		}
		if c.usage < p.limit {
			c.usage++
			return c.key, true
		}
	}
	return "", false
}

// Acquire blocks until a key is usable. It only fails when ctx is done or the
// pool is empty; the lock is never held while waiting.
func (p *KeyPool) Acquire(ctx context.Context) (string, error) {
	if len(p.creds) == 0 {
		return "", ErrNoCredentials
	}

	waits := 0
	for {
		if key, ok := p.TryAcquire(); ok {
			if waits > 0 {
				log.Printf("[Keys] Key ...%s available after %d waits", mask(key), waits)
			}
			return key, nil
		}

		if waits == 0 {
			log.Printf("[Keys] All %d keys busy or cooling down, waiting...", len(p.creds))
		}
		waits++

		if err := p.sleep(ctx, p.retryInterval); err != nil {
			return "", fmt.Errorf("waiting for api key: %w", err)
		}
	}
}

// MarkFailure benches key for the cooldown period. Unknown keys are ignored.
func (p *KeyPool) MarkFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.index[key]
	if !ok {
		return
	}
	c.cooldownUntil = p.now().Add(p.cooldown)
	log.Printf("[Keys] Key error on ...%s, cooling down for %v", mask(key), p.cooldown)
}

// Snapshot returns the current state of every key in priority order.
func (p *KeyPool) Snapshot() []CredentialState {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	states := make([]CredentialState, 0, len(p.creds))
	for _, c := range p.creds {
		states = append(states, CredentialState{
			Key:           "..." + mask(c.key),
			Usage:         c.usage,
			WindowStart:   c.windowStart,
			CooldownUntil: c.cooldownUntil,
			CoolingDown:   now.Before(c.cooldownUntil),
		})
	}
	return states
}

// mask returns the last four characters of a key.
func mask(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
