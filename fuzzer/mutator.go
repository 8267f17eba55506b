package fuzzer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rand"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
)

// mutationKind enumerates the mutator's action set, spec.md §2/§7: "choose
// between ABI-aware mutation, havoc, expand/shrink, caller/origin/value
// mutation, liquidation-percent mutation, borrow injection, and 'turn into
// step'."
type mutationKind byte

const (
	mutateABI mutationKind = iota
	mutateHavoc
	mutateExpand
	mutateShrink
	mutateCallerOriginValue
	mutateLiquidationPercent
	mutateBorrow
	mutateIntoStep
)

var allMutations = []mutationKind{
	mutateABI, mutateHavoc, mutateExpand, mutateShrink,
	mutateCallerOriginValue, mutateLiquidationPercent, mutateBorrow, mutateIntoStep,
}

// CallerPool supplies candidate caller/origin addresses the mutator may
// substitute in, e.g. a small fixed set of fuzzing accounts.
type CallerPool []common.Address

// TokenPool supplies candidate ERC20 token addresses RegisterBorrowTxn may
// target, populated from token.PairContext registration.
type TokenPool []common.Address

// Mutator applies one randomized transformation to a cloned EVMInput at a
// time, per spec.md §2/§7. It holds no state of its own beyond its RNG and
// the address pools it's configured with; randomness comes from
// pgregory.net/rand, matching the teacher's RNG choice for fuzz-adjacent
// randomized testing.
type Mutator struct {
	Rand     *rand.Rand
	Callers  CallerPool
	Tokens   TokenPool
	Infants  *InfantStateCorpus
	Scheduler *PowerABIScheduler
}

// NewMutator seeds a mutator's RNG with seed, matching the CLI's `seed`
// flag (spec.md §6) for reproducible campaigns.
func NewMutator(seed uint64, callers CallerPool, tokens TokenPool, infants *InfantStateCorpus, sched *PowerABIScheduler) *Mutator {
	return &Mutator{
		Rand:      rand.New(rand.NewSource(int64(seed))),
		Callers:   callers,
		Tokens:    tokens,
		Infants:   infants,
		Scheduler: sched,
	}
}

// Mutate returns a freshly mutated clone of in, selecting uniformly among
// all mutation kinds regardless of the input; a borrow draw with an empty
// token pool falls back to havoc.
func (m *Mutator) Mutate(in *EVMInput) *EVMInput {
	cp := in.Clone()
	kind := allMutations[m.Rand.Intn(len(allMutations))]
	switch kind {
	case mutateABI:
		m.mutateABIBytes(cp)
	case mutateHavoc:
		m.havoc(cp)
	case mutateExpand:
		m.expand(cp)
	case mutateShrink:
		m.shrink(cp)
	case mutateCallerOriginValue:
		m.mutateCallerOriginValue(cp)
	case mutateLiquidationPercent:
		m.mutateLiquidationPercent(cp)
	case mutateBorrow:
		if len(m.Tokens) > 0 {
			return m.RegisterBorrowTxn(m.Tokens[m.Rand.Intn(len(m.Tokens))])
		}
		m.havoc(cp)
	case mutateIntoStep:
		m.turnIntoStep(cp)
	}
	return cp
}

// mutateABIBytes flips bytes of the ABI-encoded calldata in place, leaving
// the 4-byte function selector untouched so the mutated input still targets
// the same function.
func (m *Mutator) mutateABIBytes(in *EVMInput) {
	if len(in.DataABI) <= 4 {
		return
	}
	body := in.DataABI[4:]
	n := 1 + m.Rand.Intn(3)
	for i := 0; i < n; i++ {
		idx := m.Rand.Intn(len(body))
		body[idx] = byte(m.Rand.Intn(256))
	}
}

// havoc applies several random byte-level tweaks across the whole payload,
// the "throw everything at it" fallback mutation most grey-box fuzzers keep
// alongside structure-aware strategies.
func (m *Mutator) havoc(in *EVMInput) {
	if len(in.DataABI) == 0 {
		return
	}
	rounds := 1 + m.Rand.Intn(8)
	for i := 0; i < rounds; i++ {
		idx := m.Rand.Intn(len(in.DataABI))
		in.DataABI[idx] ^= byte(1 << uint(m.Rand.Intn(8)))
	}
}

// expand appends random trailing bytes, exercising ABI decoders' tolerance
// of over-long calldata (e.g. trailing dynamic-array padding).
func (m *Mutator) expand(in *EVMInput) {
	extra := make([]byte, 1+m.Rand.Intn(32))
	m.Rand.Read(extra)
	in.DataABI = append(in.DataABI, extra...)
}

// shrink truncates trailing bytes, exercising short-calldata decode paths.
func (m *Mutator) shrink(in *EVMInput) {
	if len(in.DataABI) <= 4 {
		return
	}
	cut := 1 + m.Rand.Intn(len(in.DataABI)-4)
	in.DataABI = in.DataABI[:len(in.DataABI)-cut]
}

// mutateCallerOriginValue swaps the caller to a different pooled address
// and/or perturbs the attached native value, exercising access-control and
// payable-function edge cases.
func (m *Mutator) mutateCallerOriginValue(in *EVMInput) {
	if len(m.Callers) > 0 {
		in.Caller = m.Callers[m.Rand.Intn(len(m.Callers))]
	}
	if in.Value == nil {
		in.Value = new(uint256.Int)
	}
	switch m.Rand.Intn(3) {
	case 0:
		in.Value = new(uint256.Int)
	case 1:
		in.Value.AddUint64(in.Value, uint64(m.Rand.Intn(1<<20)))
	case 2:
		in.Value.SetAllOne()
	}
}

// mutateLiquidationPercent randomizes how much of an outstanding borrow a
// Liquidate input redeems, in [1, 100].
func (m *Mutator) mutateLiquidationPercent(in *EVMInput) {
	in.InputType = ifuzzcommon.Liquidate
	in.LiquidationPercent = uint8(1 + m.Rand.Intn(100))
}

// RegisterBorrowTxn synthesizes a new Borrow EVMInput crediting token with
// BorrowValue native value, per spec.md §4.5: "register_borrow_txn(scheduler,
// state, token) ... enqueues a new EVMInput{input_type=Borrow, value=10e18,
// contract=token}".
func (m *Mutator) RegisterBorrowTxn(token common.Address) *EVMInput {
	v, _ := uint256.FromBig(BorrowValue)
	caller := common.Address{}
	if len(m.Callers) > 0 {
		caller = m.Callers[m.Rand.Intn(len(m.Callers))]
	}
	return &EVMInput{
		InputType: ifuzzcommon.Borrow,
		Caller:    caller,
		Contract:  token,
		Value:     v,
	}
}

// turnIntoStep converts in into a continuation of a suspended
// post-execution context: the engine queues it to resume a reentrant
// callback rather than start a fresh top-level call, per the glossary's
// PostExecCtx definition.
func (m *Mutator) turnIntoStep(in *EVMInput) {
	in.InputType = ifuzzcommon.Step
}
