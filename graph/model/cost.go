package model

import (
	"sync"
	"time"
)

// Pricing is the USD price per one million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing covers common models. Unknown models cost zero; add them
// with SetPricing.
var DefaultPricing = map[string]Pricing{
	"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":       {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":     {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.5-flash":  {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// Call is one recorded LLM call.
type Call struct {
	RunID     string
	NodeID    string
	Model     string
	Usage     Usage
	CostUSD   float64
	Timestamp time.Time
}

// CostTracker accumulates token usage and cost across the chat agents of a
// run, including agents running in nested and forked graphs. It is safe for
// concurrent use.
type CostTracker struct {
	mu        sync.RWMutex
	pricing   map[string]Pricing
	calls     []Call
	totalCost float64
	byModel   map[string]float64
	usage     Usage
}

// NewCostTracker creates a tracker using a copy of DefaultPricing.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]Pricing, len(DefaultPricing))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		byModel: make(map[string]float64),
	}
}

// Record adds one call and returns its cost.
func (ct *CostTracker) Record(runID, nodeID, model string, usage Usage) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[model]
	cost := float64(usage.InputTokens)/1_000_000*p.InputPer1M +
		float64(usage.OutputTokens)/1_000_000*p.OutputPer1M

	ct.calls = append(ct.calls, Call{
		RunID:     runID,
		NodeID:    nodeID,
		Model:     model,
		Usage:     usage,
		CostUSD:   cost,
		Timestamp: time.Now(),
	})
	ct.totalCost += cost
	ct.byModel[model] += cost
	ct.usage.InputTokens += usage.InputTokens
	ct.usage.OutputTokens += usage.OutputTokens
	return cost
}

// SetPricing overrides the price of one model.
func (ct *CostTracker) SetPricing(model string, p Pricing) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = p
}

// TotalCost returns the accumulated cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// CostByModel returns a copy of the per-model cost.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64, len(ct.byModel))
	for k, v := range ct.byModel {
		out[k] = v
	}
	return out
}

// Usage returns the accumulated token usage.
func (ct *CostTracker) Usage() Usage {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.usage
}

// Calls returns a copy of the call history.
func (ct *CostTracker) Calls() []Call {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]Call(nil), ct.calls...)
}
