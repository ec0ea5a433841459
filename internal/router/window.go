package router

import (
	"sync"
	"time"
)

// observation is one completed call's recorded outcome.
type observation struct {
	latency       time.Duration
	cost          float64
	accepted      bool
	hasAcceptance bool
}

// window is a fixed-size rolling buffer of observations for one model.
type window struct {
	obs  []observation
	next int
	full bool
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{obs: make([]observation, size)}
}

func (w *window) add(o observation) {
	w.obs[w.next] = o
	w.next = (w.next + 1) % len(w.obs)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) count() int {
	if w.full {
		return len(w.obs)
	}
	return w.next
}

// ModelStats summarizes the rolling window for one model.
type ModelStats struct {
	// Model is the model identifier.
	Model string `json:"model"`
	// Calls is the number of observations in the window.
	Calls int `json:"calls"`
	// AvgLatency is the mean observed latency.
	AvgLatency time.Duration `json:"avg_latency"`
	// AvgCost is the mean observed cost per call in USD.
	AvgCost float64 `json:"avg_cost"`
	// AcceptanceRate is the fraction of accepted results among calls
	// that carried an acceptance signal. 1.0 when no signal was seen.
	AcceptanceRate float64 `json:"acceptance_rate"`
}

func (w *window) stats(model string) ModelStats {
	n := w.count()
	s := ModelStats{Model: model, Calls: n, AcceptanceRate: 1.0}
	if n == 0 {
		return s
	}

	var totalLatency time.Duration
	var totalCost float64
	signals, accepted := 0, 0
	for i := 0; i < n; i++ {
		o := w.obs[i]
		totalLatency += o.latency
		totalCost += o.cost
		if o.hasAcceptance {
			signals++
			if o.accepted {
				accepted++
			}
		}
	}

	s.AvgLatency = totalLatency / time.Duration(n)
	s.AvgCost = totalCost / float64(n)
	if signals > 0 {
		s.AcceptanceRate = float64(accepted) / float64(signals)
	}
	return s
}

// tracker holds rolling windows for all models.
type tracker struct {
	mu      sync.Mutex
	size    int
	windows map[string]*window
}

func newTracker(size int) *tracker {
	return &tracker{size: size, windows: make(map[string]*window)}
}

func (t *tracker) record(model string, o observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, exists := t.windows[model]
	if !exists {
		w = newWindow(t.size)
		t.windows[model] = w
	}
	w.add(o)
}

func (t *tracker) statsFor(model string) ModelStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, exists := t.windows[model]
	if !exists {
		return ModelStats{Model: model, AcceptanceRate: 1.0}
	}
	return w.stats(model)
}
