package reliability

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mwald/cadenza/pkg/models"
)

// CallFunc performs one outbound call. The key argument is the key the
// call was actually routed to, which differs from the requested key when
// a fallback was taken.
type CallFunc func(ctx context.Context, key string) error

// Manager tracks a circuit breaker per key and routes calls around
// unhealthy keys. It is the single writer of all breaker state.
type Manager struct {
	mu        sync.Mutex
	breakers  map[string]*breaker
	fallbacks map[string]string
	pools     map[string][]string
	poolNext  map[string]int

	threshold   int
	cooldown    time.Duration
	callRetries int
	callBackoff time.Duration

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCallRetries overrides the per-call retry count used by DoWithRetry.
func WithCallRetries(retries int, backoff time.Duration) Option {
	return func(m *Manager) {
		m.callRetries = retries
		m.callBackoff = backoff
	}
}

// NewManager creates a Manager with the given breaker threshold and
// open-state cooldown.
func NewManager(threshold int, cooldown time.Duration, opts ...Option) *Manager {
	if threshold < 1 {
		threshold = 1
	}
	m := &Manager{
		breakers:    make(map[string]*breaker),
		fallbacks:   make(map[string]string),
		pools:       make(map[string][]string),
		poolNext:    make(map[string]int),
		threshold:   threshold,
		cooldown:    cooldown,
		callRetries: 2,
		callBackoff: 500 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetFallback routes calls for key to fallback while key's breaker is open.
func (m *Manager) SetFallback(key, fallback string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[key] = fallback
}

// RegisterPool names a set of interchangeable keys for load balancing.
func (m *Manager) RegisterPool(name string, keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = append([]string(nil), keys...)
}

// Do executes fn under the breaker for key. An open breaker returns
// CircuitOpenError without invoking fn, after trying the configured
// fallback key if one exists and is healthy. Breaker rejections are not
// recorded as failures.
func (m *Manager) Do(ctx context.Context, key string, fn CallFunc) error {
	target, retryIn, ok := m.admit(key)
	if !ok {
		return &models.CircuitOpenError{Key: key, RetryIn: retryIn}
	}
	if target != key {
		log.Printf("[reliability] circuit open for %s, falling back to %s", key, target)
	}

	err := fn(ctx, target)
	m.record(target, err)
	return err
}

// DoWithRetry executes fn under the breaker for key, retrying transient
// failures with exponential backoff. Breaker rejections abort retrying
// immediately; context cancellation is never retried.
func (m *Manager) DoWithRetry(ctx context.Context, key string, fn CallFunc) error {
	var lastErr error

	delay := m.callBackoff
	for attempt := 0; attempt <= m.callRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = m.Do(ctx, key, fn)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt < m.callRetries {
			log.Printf("[reliability] call to %s failed (attempt %d/%d): %v",
				key, attempt+1, m.callRetries+1, lastErr)
		}
	}
	return lastErr
}

// retryable reports whether the per-call retry loop should try again.
// Circuit rejections and cancellations are final; provider failures and
// unclassified errors are treated as transient.
func retryable(err error) bool {
	var open *models.CircuitOpenError
	if errors.As(err, &open) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch models.KindOf(err) {
	case models.KindCancellation, models.KindTimeout, models.KindValidation:
		return false
	}
	return true
}

// admit decides which key a call may use. It returns the routed key, or
// ok=false with the remaining cooldown when neither the key nor its
// fallback admits the call.
func (m *Manager) admit(key string) (target string, retryIn time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b := m.breakerLocked(key)
	allowed, remaining := b.allow(now, m.cooldown)
	if allowed {
		return key, 0, true
	}

	if fb, has := m.fallbacks[key]; has {
		fbBreaker := m.breakerLocked(fb)
		if fbAllowed, _ := fbBreaker.allow(now, m.cooldown); fbAllowed {
			return fb, 0, true
		}
	}
	return "", remaining, false
}

// record updates the breaker for key with the call outcome. Calls that
// never reached the backend (cancellation, validation) leave breaker
// state untouched.
func (m *Manager) record(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.breakerLocked(key)
	if err == nil {
		b.recordSuccess(m.now())
		return
	}

	switch models.KindOf(err) {
	case models.KindCancellation, models.KindValidation:
		b.trialInFlight = false
		return
	}
	if errors.Is(err, context.Canceled) {
		b.trialInFlight = false
		return
	}

	wasClosed := b.state == StateClosed
	b.recordFailure(m.now(), m.threshold)
	if wasClosed && b.state == StateOpen {
		log.Printf("[reliability] circuit opened for %s after %d consecutive failures",
			key, b.consecutiveFailures)
	}
}

// Pick returns a healthy key from a registered pool, rotating among keys
// whose breakers admit calls. Falls back to plain rotation when every key
// is open so callers still get a deterministic target to fail against.
func (m *Manager) Pick(pool string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.pools[pool]
	if len(keys) == 0 {
		return "", &models.ValidationError{Field: "pool", Reason: "unknown pool " + pool}
	}

	now := m.now()
	start := m.poolNext[pool]
	for i := 0; i < len(keys); i++ {
		key := keys[(start+i)%len(keys)]
		b := m.breakerLocked(key)
		if b.state == StateOpen && now.Sub(b.lastFailure) < m.cooldown {
			continue
		}
		m.poolNext[pool] = (start + i + 1) % len(keys)
		return key, nil
	}

	key := keys[start%len(keys)]
	m.poolNext[pool] = (start + 1) % len(keys)
	return key, nil
}

// Allows reports whether a call to key would be admitted right now,
// without consuming the half-open trial slot.
func (m *Manager) Allows(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.breakers[key]
	if !exists {
		return true
	}
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return m.now().Sub(b.lastFailure) >= m.cooldown
	case StateHalfOpen:
		return !b.trialInFlight
	}
	return true
}

// Snapshot returns the breaker state for key.
func (m *Manager) Snapshot(key string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.breakers[key]
	if !exists {
		return Snapshot{Key: key, State: StateClosed, Threshold: m.threshold, Cooldown: m.cooldown}
	}
	return Snapshot{
		Key:                 key,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailure:         b.lastFailure,
		Threshold:           m.threshold,
		Cooldown:            m.cooldown,
	}
}

// Reset closes the breaker for key and clears its failure count.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, exists := m.breakers[key]; exists {
		b.state = StateClosed
		b.consecutiveFailures = 0
		b.trialInFlight = false
		b.openedAt = time.Time{}
	}
}

func (m *Manager) breakerLocked(key string) *breaker {
	b, exists := m.breakers[key]
	if !exists {
		b = newBreaker()
		m.breakers[key] = b
	}
	return b
}
