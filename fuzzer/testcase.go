// Package fuzzer implements the stateful fuzzing loop: corpus, infant-state
// corpus, power scheduler, mutator, and the ordered per-iteration stages
// that drive the executor, per spec.md §4.6-§4.8.
package fuzzer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// StagedVMState is a named, hashable seed state in the infant-state corpus:
// a VMState snapshot plus the trace of how the campaign reached it.
type StagedVMState struct {
	State *fuzzvm.VMState
	// FromIdx is the infant-state corpus index this state was derived from
	// by applying one transaction, -1 for a campaign's root states.
	FromIdx int
	// Trace is the index path from the root infant state to this one,
	// oldest first. The coverage stage does not read it; it replays only
	// the final transaction.
	Trace []int
}

// EVMInput is one generated (or mutated) transaction, the getter-method
// shape mirrored from the teacher's deleted core/types/transaction_message.go
// `Message` (CallData/To/From/Value accessors) and generalized to carry the
// fuzz-specific seed-state/step/liquidation fields spec.md §3's "Transaction
// input" row names.
type EVMInput struct {
	InputType ifuzzcommon.InputTy

	Caller   common.Address
	Contract common.Address
	DataABI  []byte
	Value    *uint256.Int

	// Sstate is the seed VMState this input is evaluated against, and SIdx is
	// its index in the infant-state corpus (stateful fuzzing's "carry a
	// prior post-state forward" mechanism, spec.md §2).
	Sstate *StagedVMState
	SIdx   int

	// LiquidationPercent scales how much of UnliquidatedTokens a Liquidate
	// input redeems, 0-100.
	LiquidationPercent uint8

	Randomness []byte
	Repeat     int
}

// IsStep reports whether this input is a continuation of a suspended
// post-execution context rather than a fresh top-level call.
func (in *EVMInput) IsStep() bool { return in.InputType == ifuzzcommon.Step }

// GetCaller returns the transaction sender.
func (in *EVMInput) GetCaller() common.Address { return in.Caller }

// GetContract returns the transaction's target contract.
func (in *EVMInput) GetContract() common.Address { return in.Contract }

// GetDataABI returns the ABI-encoded calldata, nil for inputs with no ABI
// (e.g. Borrow).
func (in *EVMInput) GetDataABI() []byte { return in.DataABI }

// GetValue returns the native-value amount attached to the call.
func (in *EVMInput) GetValue() *uint256.Int {
	if in.Value == nil {
		return new(uint256.Int)
	}
	return in.Value
}

// ToCallParams builds the CallParams the executor consumes from this input.
func (in *EVMInput) ToCallParams() fuzzvm.CallParams {
	return fuzzvm.CallParams{
		Caller:   in.Caller,
		Contract: in.Contract,
		Value:    in.GetValue(),
		CallData: in.DataABI,
	}
}

// BorrowValue is the fixed native-value amount a Borrow input credits,
// 10 * 10^18 wei per spec.md §4.5.
var BorrowValue = new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Clone returns a deep-enough copy of in for safe independent mutation; the
// mutator always works off a clone so a rejected mutant never corrupts the
// corpus entry it came from.
func (in *EVMInput) Clone() *EVMInput {
	cp := *in
	if in.DataABI != nil {
		cp.DataABI = append([]byte(nil), in.DataABI...)
	}
	if in.Value != nil {
		v := *in.Value
		cp.Value = &v
	}
	if in.Randomness != nil {
		cp.Randomness = append([]byte(nil), in.Randomness...)
	}
	return &cp
}

// PowerABITestcaseMetadata is the per-testcase scheduler metadata spec.md
// §4.7 names: source-line count for ABI power bias. The uncovered-branch
// count is kept in the scheduler's UncoveredBranchesMetadata, not here,
// since it's campaign-wide bookkeeping rather than a static property of the
// input.
type PowerABITestcaseMetadata struct {
	Lines int
}

// Testcase is one corpus entry: an input plus the scheduler metadata
// accumulated about it since on_add, per spec.md §3's Testcase row.
type Testcase struct {
	Input    *EVMInput
	ParentID int // -1 if this testcase has no parent (a root seed)

	ABIMeta *PowerABITestcaseMetadata
}

// NewTestcase wraps input with empty scheduler metadata.
func NewTestcase(input *EVMInput, parentID int) *Testcase {
	return &Testcase{Input: input, ParentID: parentID}
}
