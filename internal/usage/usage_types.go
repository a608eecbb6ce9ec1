package usage

import "sync/atomic"

// Operations recorded in the ledger.
const (
	OpFetch     = "fetch"
	OpReasoning = "reasoning"
	OpSearch    = "search"
)

// microsPerUSD converts dollar amounts to integer micro-dollars so totals
// can be kept in atomics.
const microsPerUSD = 1_000_000

// TokenCounts holds call, token and cost sums.
type TokenCounts struct {
	Calls  int64   `json:"calls"`
	Input  int64   `json:"input"`
	Output int64   `json:"output"`
	Total  int64   `json:"total"`
	Cost   float64 `json:"cost_usd"`
}

// Totals is a snapshot of everything recorded since the tracker was created.
type Totals struct {
	Session     TokenCounts            `json:"session"`
	ByService   map[string]TokenCounts `json:"by_service"`
	ByOperation map[string]TokenCounts `json:"by_operation"`
}

// counter is one lock-free accumulator.
type counter struct {
	calls  atomic.Int64
	input  atomic.Int64
	output atomic.Int64
	micros atomic.Int64
}

func (c *counter) add(input, output int, costUSD float64) {
	c.calls.Add(1)
	c.input.Add(int64(input))
	c.output.Add(int64(output))
	c.micros.Add(toMicros(costUSD))
}

func (c *counter) snapshot() TokenCounts {
	in, out := c.input.Load(), c.output.Load()
	return TokenCounts{
		Calls:  c.calls.Load(),
		Input:  in,
		Output: out,
		Total:  in + out,
		Cost:   float64(c.micros.Load()) / microsPerUSD,
	}
}

func toMicros(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(usd*microsPerUSD + 0.5)
}
