package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// Bytecode is an immutable, hash-addressed code blob plus its precomputed
// jumpdest analysis, per spec.md §3.
type Bytecode struct {
	Code     []byte
	Hash     common.Hash
	jumpDest *jumpDestMap
}

// NewBytecode wraps raw bytecode, eagerly analyzing its jumpdests; the Host
// additionally caches this analysis by hash across deployments of
// identical code (see codeAnalysis).
func NewBytecode(code []byte, hash common.Hash) *Bytecode {
	return &Bytecode{Code: code, Hash: hash, jumpDest: analyzeJumpDests(code)}
}

func (b *Bytecode) isJumpDest(pc uint64) bool {
	if b == nil {
		return false
	}
	return b.jumpDest.isJumpDest(pc)
}

// emptyBytecode is returned for addresses with no registered code, matching
// spec.md §4.1: "missing code returns an empty bytecode".
var emptyBytecode = &Bytecode{Code: nil, jumpDest: newJumpDestMap(0)}

// BranchTaken records one JUMPI outcome seen during a single execution, fed
// to the scheduler's power-schedule bookkeeping after the transaction
// completes (spec.md §4.1, §4.7).
type BranchTaken struct {
	Addr common.Address
	Pc   uint64
	Taken bool
}

// Host wraps the interpreter loop with the mutable world the bytecode
// observes: the code map, balances, the middleware chain, and the
// per-execution branch/comparison-hint buffers the scheduler and mutator
// consume afterward. It owns VMState exclusively for the duration of one
// Execute call (spec.md §5's shared-resource policy).
type Host struct {
	State *VMState

	code     map[common.Address]*Bytecode
	analysis *codeAnalysis

	// balances models the off-chain/on-chain account balance snapshot;
	// flash-loan caller addresses always read back as MaxUint256 per
	// spec.md §4.1.
	balances         map[common.Address]*uint256.Int
	flashloanCallers map[common.Address]bool

	// symbolicAddrs holds addresses the Concolic middleware has marked as
	// solver-derived (a solution's Caller/Origin override), consulted by
	// opCall's IsSymbolicTarget check to drive the ArbitraryCall oracle.
	symbolicAddrs map[common.Address]bool

	// CodeFetcher and StorageFetcher back the on-chain lazy-fetch mode of
	// spec.md §4.1/§6: when set (the `chain`/`onchain-block-number` CLI
	// flags are given), a Code/SLoad miss falls through to these before
	// returning the empty default. A successful fetch is cached into
	// code/State.Storage so later hits are free; a failed fetch is not
	// cached and is attempted again on the next miss.
	// Nil in the default, fully in-memory mode.
	CodeFetcher    func(addr common.Address) ([]byte, bool)
	StorageFetcher func(addr common.Address, slot uint256.Int) (uint256.Int, bool)

	Middlewares *middlewareChain

	// BranchEvents accumulates this execution's JUMPI outcomes. It is reset
	// at the start of every Execute call and read by the executor/scheduler
	// afterward -- per spec.md §9's note to thread per-execution state
	// through an explicit struct rather than a process-global table.
	BranchEvents []BranchTaken

	// ComparisonHints records the "other operand" of LT/GT/EQ/SLT/SGT
	// comparisons for the current transaction, consumed by the mutator.
	ComparisonHints []uint256.Int

	callDepth int
	txOrigin  common.Address
}

// NewHost creates an empty Host with an initialized VMState.
func NewHost() *Host {
	return &Host{
		State:            NewVMState(),
		code:             make(map[common.Address]*Bytecode),
		analysis:         newCodeAnalysis(),
		balances:         make(map[common.Address]*uint256.Int),
		flashloanCallers: make(map[common.Address]bool),
		symbolicAddrs:    make(map[common.Address]bool),
		Middlewares:      newMiddlewareChain(),
	}
}

// SetCode registers deployed bytecode at addr and notifies InsertObserver
// middlewares (e.g. to detect ERC-20-shaped ABIs for flash-loan routing).
func (h *Host) SetCode(addr common.Address, code []byte, abi []byte) {
	hash := common.BytesToHash(ifuzzcrypto.Keccak256(code))
	h.code[addr] = NewBytecode(code, hash)
	h.Middlewares.dispatchInsert(h, addr, code, abi)
}

// Code returns the bytecode at addr, or an empty blob if none is registered.
// In on-chain mode (CodeFetcher set), a miss fetches once and caches via
// SetCode before falling back to empty.
func (h *Host) Code(addr common.Address) *Bytecode {
	if bc, ok := h.code[addr]; ok {
		return bc
	}
	if h.CodeFetcher != nil {
		if raw, ok := h.CodeFetcher(addr); ok {
			h.SetCode(addr, raw, nil)
			return h.code[addr]
		}
	}
	return emptyBytecode
}

// CodeHash returns the code hash at addr, or the empty-code hash.
func (h *Host) CodeHash(addr common.Address) common.Hash {
	return h.Code(addr).Hash
}

// MarkFlashloanCaller registers addr as an attacker address whose balance
// always reads back as MaxUint256, modeling the symbolic-liquidity borrow
// described in spec.md §4.5.
func (h *Host) MarkFlashloanCaller(addr common.Address) {
	h.flashloanCallers[addr] = true
}

// IsFlashloanCaller reports whether addr is a registered flash-loan
// borrower address (an attacker address whose balance reads as MaxUint256).
func (h *Host) IsFlashloanCaller(addr common.Address) bool {
	return h.flashloanCallers[addr]
}

// MarkSymbolicTarget records addr as derived from a solved SMT constraint
// (a Concolic Solution's Caller/Origin override), per spec.md §4.4: a
// later CALL/transfer whose target equals addr trips the ArbitraryCall
// oracle even though addr never appeared as a corpus/registry constant.
func (h *Host) MarkSymbolicTarget(addr common.Address) {
	h.symbolicAddrs[addr] = true
}

// IsSymbolicTarget reports whether addr was registered by MarkSymbolicTarget.
func (h *Host) IsSymbolicTarget(addr common.Address) bool {
	return h.symbolicAddrs[addr]
}

// Balance returns addr's native-token balance: MaxUint256 for a registered
// flash-loan caller, else the snapshot value (zero if never set).
func (h *Host) Balance(addr common.Address) *uint256.Int {
	if h.flashloanCallers[addr] {
		return new(uint256.Int).SetAllOne()
	}
	if b, ok := h.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// SetBalance overwrites addr's balance snapshot.
func (h *Host) SetBalance(addr common.Address, v *uint256.Int) {
	h.balances[addr] = v.Clone()
}

// CanTransfer reports whether addr holds at least amount of native value.
func (h *Host) CanTransfer(addr common.Address, amount *uint256.Int) bool {
	return h.Balance(addr).Cmp(amount) >= 0
}

// Transfer moves amount of native value from -> to, crediting the
// Flashloan middleware's earned ledger when the destination is a known
// flash-loan caller (spec.md §4.5).
func (h *Host) Transfer(from, to common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	if !h.flashloanCallers[from] {
		fromBal := h.Balance(from)
		fromBal.Sub(fromBal, amount)
		h.balances[from] = fromBal
	}
	if !h.flashloanCallers[to] {
		toBal := h.Balance(to)
		toBal.Add(toBal, amount)
		h.balances[to] = toBal
	} else {
		h.State.FlashloanData.CreditEarned(amount.ToBig())
	}
}

// SLoad reads a storage slot, recording a reentrancy read at the current
// call depth. In on-chain mode (StorageFetcher set), a slot never written
// in this VMState is fetched once and cached into State.Storage.
func (h *Host) SLoad(addr common.Address, slot uint256.Int) uint256.Int {
	h.State.Reentrancy.RecordRead(addr, slot)
	known := false
	if acct, ok := h.State.Storage[addr]; ok {
		_, known = acct[slot]
	}
	if !known && h.StorageFetcher != nil {
		if v, ok := h.StorageFetcher(addr, slot); ok {
			h.State.SStore(addr, slot, v)
			return v
		}
	}
	return h.State.SLoad(addr, slot)
}

// SStore writes a storage slot, checking it against the reentrancy read
// table first.
func (h *Host) SStore(addr common.Address, slot, value uint256.Int) {
	h.State.Reentrancy.RecordWrite(addr, slot)
	h.State.SStore(addr, slot, value)
}

// SelfDestruct records a SELFDESTRUCT at (addr, pc) and pays out the
// account's remaining balance to target.
func (h *Host) SelfDestruct(addr common.Address, pc uint64, target common.Address) {
	h.State.RecordSelfDestruct(addr, pc)
	bal := h.Balance(addr)
	if !bal.IsZero() {
		h.Transfer(addr, target, bal)
	}
	h.balances[addr] = new(uint256.Int)
}

// EnterCall bumps the nested-call depth for the duration of a CALL/CREATE,
// restoring it via the returned func. This is what lets ReentrancyMetadata
// distinguish a top-level write (depth 0) from a callback write.
func (h *Host) EnterCall() func() {
	h.callDepth++
	h.State.Reentrancy.InCallDepth = h.callDepth
	return func() {
		h.callDepth--
		h.State.Reentrancy.InCallDepth = h.callDepth
	}
}

// RecordBranch appends one JUMPI outcome to BranchEvents, the per-execution
// buffer the scheduler reads after the transaction finishes.
func (h *Host) RecordBranch(addr common.Address, pc uint64, taken bool) {
	h.BranchEvents = append(h.BranchEvents, BranchTaken{Addr: addr, Pc: pc, Taken: taken})
}

// RecordComparisonHint stashes the "other operand" of a comparison opcode
// for the mutator's havoc dictionary.
func (h *Host) RecordComparisonHint(v uint256.Int) {
	h.ComparisonHints = append(h.ComparisonHints, v)
}

// ResetPerExecutionBuffers clears the transient per-transaction buffers;
// called by the executor before every Execute.
func (h *Host) ResetPerExecutionBuffers() {
	h.BranchEvents = nil
	h.ComparisonHints = nil
	h.callDepth = 0
	h.State.Reentrancy.InCallDepth = 0
}

// ToBigScale is a small helper shared by the flash-loan middlewares to turn
// a uint256 wei amount into a *big.Int, avoiding repeated ToBig() calls at
// call sites.
func ToBigScale(v *uint256.Int) *big.Int {
	return v.ToBig()
}
