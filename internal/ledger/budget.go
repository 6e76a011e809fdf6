package ledger

import (
	"math"
	"math/bits"
)

// BudgetParams sets the resource budget attached to a batch transaction.
// The budget scales with the number of calls: Base + PerCall * calls.
type BudgetParams struct {
	PerCall uint64 `yaml:"per_call"` // PerCall is the budget per entrypoint call
	Base    uint64 `yaml:"base"`     // Base is the fixed per-transaction overhead
}

// DefaultBudgetParams returns the budget used when none is configured.
// 0.005 per call plus 0.01 overhead, in the smallest currency unit.
func DefaultBudgetParams() BudgetParams {
	return BudgetParams{
		PerCall: 5_000_000,
		Base:    10_000_000,
	}
}

// For returns the budget for a transaction with the given number of calls.
func (p BudgetParams) For(calls int) uint64 {
	if calls < 0 {
		calls = 0
	}

	return safeAdd(p.Base, safeMul(p.PerCall, uint64(calls)))
}

// safeMul returns a * b, capping at MaxUint64 on overflow.
func safeMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}

	hi, _ := bits.Mul64(a, b)
	if hi > 0 {
		return math.MaxUint64
	}

	return a * b
}

// safeAdd returns a + b, capping at MaxUint64 on overflow.
func safeAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}

	return sum
}
