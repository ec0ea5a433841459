package reliability

import (
	"sort"
	"time"
)

// Health summarizes one key's recorded reliability.
type Health struct {
	// Key is the provider/agent identifier.
	Key string `json:"key"`
	// State is the current circuit state.
	State State `json:"state"`
	// Failures is the number of failures in the retained history.
	Failures int `json:"failures"`
	// Successes is the number of successes in the retained history.
	Successes int `json:"successes"`
	// MTBF is the mean interval between consecutive failures.
	// Zero when fewer than two failures have been recorded.
	MTBF time.Duration `json:"mtbf"`
	// MTTR is the mean time an opened circuit took to close again.
	// Zero when no recovery has been observed.
	MTTR time.Duration `json:"mttr"`
}

// HealthOf returns the reliability summary for key.
func (m *Manager) HealthOf(key string) Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.breakers[key]
	if !exists {
		return Health{Key: key, State: StateClosed}
	}
	return healthLocked(key, b)
}

// HealthAll returns summaries for every key seen so far, sorted by key.
func (m *Manager) HealthAll() []Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Health, 0, len(m.breakers))
	for key, b := range m.breakers {
		out = append(out, healthLocked(key, b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func healthLocked(key string, b *breaker) Health {
	h := Health{
		Key:       key,
		State:     b.state,
		Failures:  len(b.failureTimes),
		Successes: len(b.successTimes),
	}

	if len(b.failureTimes) >= 2 {
		var total time.Duration
		for i := 1; i < len(b.failureTimes); i++ {
			total += b.failureTimes[i].Sub(b.failureTimes[i-1])
		}
		h.MTBF = total / time.Duration(len(b.failureTimes)-1)
	}

	if len(b.recoveryTimes) > 0 {
		var total time.Duration
		for _, d := range b.recoveryTimes {
			total += d
		}
		h.MTTR = total / time.Duration(len(b.recoveryTimes))
	}

	return h
}
