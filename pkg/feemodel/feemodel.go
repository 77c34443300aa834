// Package feemodel implements the fee computation and change-distribution
// engine: given a transaction's estimated size, compute the required fee,
// then distribute whatever's left among change outputs (equally or
// randomly), recomputing size and fee until two consecutive rounds agree.
// The size estimate depends only on input/output counts and script
// lengths, never on output values.
//
// Grounded on the bitcoinecho-node teacher's VarInt-based size accounting
// (pkg/bitcoin/transaction.go) generalized into an explicit, injectable
// fee policy (spec.md §4.9) rather than the teacher's implicit "no fee
// model at all" stance.
package feemodel

import (
	"fmt"
	"math/bits"
)

// Model is the fee policy: either a fixed number of satoshis regardless
// of size, or a linear satoshis-per-kilobyte rate (spec.md §4.9).
type Model struct {
	// FixedSatoshis, if non-zero, is charged regardless of size.
	FixedSatoshis uint64
	// SatoshisPerKB is the linear rate used when FixedSatoshis is zero.
	SatoshisPerKB uint64
}

// DefaultModel is 1 sat/KB, BSV's standard relay-safe default (spec.md
// §8 scenario 2: a 4000-sat input, 1000-sat fixed output, and one change
// output must converge to change = 2999 sats under this model).
var DefaultModel = Model{SatoshisPerKB: 1}

// ComputeFee returns the fee owed for a transaction of sizeBytes.
func (m Model) ComputeFee(sizeBytes int) uint64 {
	if m.FixedSatoshis > 0 {
		return m.FixedSatoshis
	}
	rate := m.SatoshisPerKB
	if rate == 0 {
		rate = DefaultModel.SatoshisPerKB
	}
	// Ceiling division: sizeBytes*rate/1000, rounded up.
	num := uint64(sizeBytes) * rate
	fee := num / 1000
	if num%1000 != 0 {
		fee++
	}
	return fee
}

// VarIntSize returns the encoded length of a Bitcoin variable-length
// integer for n, mirroring pkg/txbin.VarIntLen without importing it (fee
// estimation only ever needs the length, never the encoding).
func VarIntSize(n uint64) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// InputSize estimates one input's serialized length: 32-byte prevout +
// 4-byte index + varint-prefixed unlocking script + 4-byte sequence.
func InputSize(unlockingScriptLen int) int {
	return 32 + 4 + VarIntSize(uint64(unlockingScriptLen)) + unlockingScriptLen + 4
}

// OutputSize estimates one output's serialized length: 8-byte value +
// varint-prefixed locking script.
func OutputSize(lockingScriptLen int) int {
	return 8 + VarIntSize(uint64(lockingScriptLen)) + lockingScriptLen
}

// TransactionSize estimates a whole transaction's serialized length given
// every input's and output's script length.
func TransactionSize(inputScriptLens, outputScriptLens []int) int {
	size := 4 + VarIntSize(uint64(len(inputScriptLens))) + VarIntSize(uint64(len(outputScriptLens))) + 4
	for _, l := range inputScriptLens {
		size += InputSize(l)
	}
	for _, l := range outputScriptLens {
		size += OutputSize(l)
	}
	return size
}

// DistributionStrategy picks how leftover value is spread across change
// outputs (spec.md §4.9).
type DistributionStrategy int

const (
	// Equal splits the remainder evenly, with any remainder-of-division
	// satoshis piled onto the first change output.
	Equal DistributionStrategy = iota
	// Random splits the remainder using a caller-supplied pseudo-random
	// source, still summing exactly to the remainder.
	Random
)

// ErrDidNotConverge is returned when the fee/size feedback loop fails to
// settle within maxIterations rounds (spec.md §4.9 edge case).
type ErrDidNotConverge struct {
	Iterations int
}

func (e *ErrDidNotConverge) Error() string {
	return fmt.Sprintf("feemodel: fee solver did not converge after %d iterations", e.Iterations)
}

const maxIterations = 10

// Solve distributes the transaction's surplus (totalInput - totalOutput
// excluding change - fee) across changeOutputCount change outputs,
// re-estimating the fee each round until fee and remainder repeat (output
// values are fixed-width, so they do not affect the size estimate).
// fixedOutputScriptLens/inputScriptLens describe
// every non-change piece of the transaction; changeLockingScriptLen is
// the (constant, for a given template) locking-script length every
// change output will carry. randSource, if non-nil, is consulted for
// Random distribution; nil falls back to Equal regardless of strategy.
func Solve(
	model Model,
	totalInput uint64,
	fixedOutputTotal uint64,
	inputScriptLens []int,
	fixedOutputScriptLens []int,
	changeOutputCount int,
	changeLockingScriptLen int,
	strategy DistributionStrategy,
	randSource func(n int) []uint64,
) ([]uint64, error) {
	return solve(model, totalInput, fixedOutputTotal, inputScriptLens, fixedOutputScriptLens,
		changeOutputCount, changeLockingScriptLen, strategy, randSource, false)
}

func solve(
	model Model,
	totalInput uint64,
	fixedOutputTotal uint64,
	inputScriptLens []int,
	fixedOutputScriptLens []int,
	changeOutputCount int,
	changeLockingScriptLen int,
	strategy DistributionStrategy,
	randSource func(n int) []uint64,
	retried bool,
) ([]uint64, error) {
	if changeOutputCount == 0 {
		size := TransactionSize(inputScriptLens, fixedOutputScriptLens)
		fee := model.ComputeFee(size)
		if totalInput < fixedOutputTotal+fee {
			return nil, fmt.Errorf("feemodel: insufficient input value: have %d, need %d", totalInput, fixedOutputTotal+fee)
		}
		return nil, nil
	}

	changeScriptLens := make([]int, changeOutputCount)
	for i := range changeScriptLens {
		changeScriptLens[i] = changeLockingScriptLen
	}
	allOutputLens := append(append([]int(nil), fixedOutputScriptLens...), changeScriptLens...)

	var fee uint64
	var remainder uint64
	for iter := 0; iter < maxIterations; iter++ {
		size := TransactionSize(inputScriptLens, allOutputLens)
		newFee := model.ComputeFee(size)
		available := int64(totalInput) - int64(fixedOutputTotal) - int64(newFee)
		if available < 0 {
			return nil, fmt.Errorf("feemodel: insufficient input value: have %d, need at least %d", totalInput, fixedOutputTotal+newFee)
		}
		if newFee == fee && uint64(available) == remainder {
			amounts := distribute(uint64(available), changeOutputCount, strategy, randSource)
			zeros := countZero(amounts)
			if zeros == 0 {
				return amounts, nil
			}
			// spec.md §4.9 step 6: drop every change output that would
			// receive zero satoshis and re-solve once with the smaller
			// transaction (fewer outputs means more room for the rest).
			if retried || zeros >= changeOutputCount {
				return nil, &ErrDidNotConverge{Iterations: maxIterations}
			}
			return solve(model, totalInput, fixedOutputTotal, inputScriptLens, fixedOutputScriptLens,
				changeOutputCount-zeros, changeLockingScriptLen, strategy, randSource, true)
		}
		fee = newFee
		remainder = uint64(available)
	}
	return nil, &ErrDidNotConverge{Iterations: maxIterations}
}

func countZero(amounts []uint64) int {
	n := 0
	for _, a := range amounts {
		if a == 0 {
			n++
		}
	}
	return n
}

func distribute(total uint64, n int, strategy DistributionStrategy, randSource func(int) []uint64) []uint64 {
	out := make([]uint64, n)
	if strategy == Random && randSource != nil {
		weights := randSource(n)
		sum := uint64(0)
		for _, w := range weights {
			sum += w
		}
		if sum > 0 {
			var assigned uint64
			for i := 0; i < n-1; i++ {
				share := mulDiv(total, weights[i], sum)
				out[i] = share
				assigned += share
			}
			out[n-1] = total - assigned
			return out
		}
	}
	base := total / uint64(n)
	rem := total % uint64(n)
	for i := range out {
		out[i] = base
	}
	out[0] += rem
	return out
}

// mulDiv computes a*b/c without overflowing for values that fit uint64
// products in practice (satoshi amounts never approach 2^64).
func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, c)
	return q
}
