// Package usage accumulates LLM token usage per generation purpose.
package usage

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gomatter/internal"
)

var tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gomatter",
	Subsystem: "llm",
	Name:      "tokens_total",
	Help:      "Tokens reported by the LLM provider by model, purpose and kind (prompt, completion)",
}, []string{"model", "purpose", "kind"})

// Data is the token accounting a provider returns for one request
type Data struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Totals is the running sum for one purpose
type Totals struct {
	Requests         int `json:"requests"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (t *Totals) add(o Totals) {
	t.Requests += o.Requests
	t.PromptTokens += o.PromptTokens
	t.CompletionTokens += o.CompletionTokens
	t.TotalTokens += o.TotalTokens
}

// Tracker is safe for concurrent use
type Tracker struct {
	mu     sync.Mutex
	totals map[string]Totals
	logger *internal.Logger
}

// NewTracker creates an empty tracker
func NewTracker(logger *internal.Logger) *Tracker {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Tracker{totals: make(map[string]Totals), logger: logger}
}

// Record adds one request's usage under purpose. Missing or negative counts are
// logged and dropped; tracking never fails the caller.
func (t *Tracker) Record(purpose string, u *Data) {
	if u == nil {
		t.logger.Debug("[Usage] %s response carried no usage data", purpose)
		return
	}
	if u.PromptTokens < 0 || u.CompletionTokens < 0 || u.TotalTokens < 0 {
		t.logger.Warn("[Usage] invalid token counts for %s: %+v", purpose, *u)
		return
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}

	tokensTotal.WithLabelValues(u.Model, purpose, "prompt").Add(float64(u.PromptTokens))
	tokensTotal.WithLabelValues(u.Model, purpose, "completion").Add(float64(u.CompletionTokens))

	t.mu.Lock()
	cur := t.totals[purpose]
	cur.add(Totals{Requests: 1, PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: total})
	t.totals[purpose] = cur
	t.mu.Unlock()
}

// Summary returns a copy of the totals keyed by purpose
func (t *Tracker) Summary() map[string]Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Totals, len(t.totals))
	for k, v := range t.totals {
		out[k] = v
	}
	return out
}

// Total sums every purpose
func (t *Tracker) Total() Totals {
	var out Totals
	for _, v := range t.Summary() {
		out.add(v)
	}
	return out
}

// Purposes lists the recorded purposes in order
func (t *Tracker) Purposes() []string {
	s := t.Summary()
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
