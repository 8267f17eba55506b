// Package vm implements the bytecode execution host: the mutable VMState,
// the step-level interpreter, the middleware chain, and the executor that
// drives one fuzz transaction end to end.
package vm

import (
	"hash/fnv"
	"math/big"
	"sort"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// slotKey identifies one storage cell within one account.
type slotKey struct {
	Addr common.Address
	Slot uint256.Int
}

// SiteKey identifies one (address, program-counter) instruction site.
type SiteKey struct {
	Addr common.Address
	Pc   uint64
}

// ReentrancySlot is a storage slot read at call depth >= 1 and written at
// depth 0 within the same transaction.
type ReentrancySlot struct {
	Addr common.Address
	Slot uint256.Int
}

// TypedBugSite couples a bug_id with the site that raised it.
type TypedBugSite struct {
	BugID uint64
	Addr  common.Address
	Pc    uint64
}

// OverflowSite records one arithmetic instruction that overflowed 2^256.
type OverflowSite struct {
	Addr common.Address
	Pc   uint64
	Op   string
}

// ArbitraryCallSite records an outbound CALL whose target address was
// derived from a concolic solution rather than a corpus constant.
type ArbitraryCallSite struct {
	Caller common.Address
	Target common.Address
	Pc     uint64
}

// ArbitraryTransferSite records an outbound native-value transfer under the
// same suspicion as ArbitraryCallSite.
type ArbitraryTransferSite struct {
	Caller common.Address
	Pc     uint64
}

// ReentrancyMetadata tracks the read-then-write-at-shallower-depth pattern
// that the Reentrancy oracle looks for, per spec.md §3/§8 scenario 3.
type ReentrancyMetadata struct {
	// Reads maps a slot to the deepest call depth at which it has been read
	// so far in the current transaction.
	Reads map[ReentrancySlot]int
	Found mapset.Set
	// InCallDepth is the current nested-call depth; 0 at the top-level call.
	InCallDepth int
}

func newReentrancyMetadata() ReentrancyMetadata {
	return ReentrancyMetadata{
		Reads: make(map[ReentrancySlot]int),
		Found: mapset.NewSet(),
	}
}

func (r ReentrancyMetadata) clone() ReentrancyMetadata {
	reads := make(map[ReentrancySlot]int, len(r.Reads))
	for k, v := range r.Reads {
		reads[k] = v
	}
	return ReentrancyMetadata{
		Reads:       reads,
		Found:       r.Found.Clone(),
		InCallDepth: r.InCallDepth,
	}
}

// RecordRead notes that slot was read at the current call depth; if the
// depth is >= 1 and a later RecordWrite happens at depth 0 for the same
// slot, the slot is added to Found.
func (r *ReentrancyMetadata) RecordRead(addr common.Address, slot uint256.Int) {
	key := ReentrancySlot{Addr: addr, Slot: slot}
	if r.InCallDepth > prevDepth(r.Reads, key) {
		r.Reads[key] = r.InCallDepth
	}
}

func prevDepth(reads map[ReentrancySlot]int, key ReentrancySlot) int {
	if d, ok := reads[key]; ok {
		return d
	}
	return -1
}

// RecordWrite checks whether slot was previously read at depth >= 1; if so
// and the write is happening at depth 0, the slot is flagged reentrant.
func (r *ReentrancyMetadata) RecordWrite(addr common.Address, slot uint256.Int) {
	key := ReentrancySlot{Addr: addr, Slot: slot}
	if depth, ok := r.Reads[key]; ok && depth >= 1 && r.InCallDepth == 0 {
		r.Found.Add(key)
	}
}

// FlashloanData is the symbolic-liquidity ledger described in spec.md §4.5:
// owed/earned accumulate monotonically across one sequence, scaled by 10^6.
type FlashloanData struct {
	Owed   *big.Int
	Earned *big.Int

	OracleRecheckReserve mapset.Set // set<common.Address>
	OracleRecheckBalance mapset.Set // set<common.Address>

	// PrevReserves holds the last (reserve0, reserve1) pair read for a pair
	// address, used by PairContext.transform's saturating arithmetic.
	PrevReserves map[common.Address][2]uint256.Int

	// UnliquidatedTokens maps a token address to the residual attacker
	// balance the engine has not yet routed through a pair context.
	UnliquidatedTokens map[common.Address]uint256.Int
}

// EarnedScale is the 10^6 scale factor spec.md §4.5 applies to owed/earned.
var EarnedScale = big.NewInt(1_000_000)

func newFlashloanData() FlashloanData {
	return FlashloanData{
		Owed:                 new(big.Int),
		Earned:               new(big.Int),
		OracleRecheckReserve: mapset.NewSet(),
		OracleRecheckBalance: mapset.NewSet(),
		PrevReserves:         make(map[common.Address][2]uint256.Int),
		UnliquidatedTokens:   make(map[common.Address]uint256.Int),
	}
}

func (f FlashloanData) clone() FlashloanData {
	reserves := make(map[common.Address][2]uint256.Int, len(f.PrevReserves))
	for k, v := range f.PrevReserves {
		reserves[k] = v
	}
	tokens := make(map[common.Address]uint256.Int, len(f.UnliquidatedTokens))
	for k, v := range f.UnliquidatedTokens {
		tokens[k] = v
	}
	return FlashloanData{
		Owed:                 new(big.Int).Set(f.Owed),
		Earned:               new(big.Int).Set(f.Earned),
		OracleRecheckReserve: f.OracleRecheckReserve.Clone(),
		OracleRecheckBalance: f.OracleRecheckBalance.Clone(),
		PrevReserves:         reserves,
		UnliquidatedTokens:   tokens,
	}
}

// Profitable reports whether earned exceeds owed, per spec.md §4.5's
// definition of a successful flash-loan attack.
func (f FlashloanData) Profitable() bool {
	return f.Earned.Cmp(f.Owed) > 0
}

// CreditEarned adds amount*10^6 wei to the earned ledger. Callers must never
// call CreditOwed/CreditEarned with a negative amount; both ledgers are
// monotone per spec.md §3 invariants.
func (f *FlashloanData) CreditEarned(amountWei *big.Int) {
	scaled := new(big.Int).Mul(amountWei, EarnedScale)
	f.Earned.Add(f.Earned, scaled)
}

// CreditOwed mirrors CreditEarned for the borrow side of the ledger.
func (f *FlashloanData) CreditOwed(amountWei *big.Int) {
	scaled := new(big.Int).Mul(amountWei, EarnedScale)
	f.Owed.Add(f.Owed, scaled)
}

// PostExecCtx captures a suspended call frame that must be resumed by a
// later "step" transaction, per the glossary's "a continuation of a prior
// post-execution context (e.g. a reentrant callback completing)". It is
// produced when a nested call into attacker-controlled code returns control
// to the fuzzer before the outer transaction has finished (the classic
// reentrancy callback shape).
type PostExecCtx struct {
	// Pc is the program counter in the suspended frame to resume at.
	Pc uint64
	// NeededLen is the number of calldata bytes the resumption must supply.
	NeededLen int
	Caller    common.Address
	Contract  common.Address
	CallDepth int
	// Output is the return data the resumed frame should observe as the
	// result of the call that suspended it.
	Output []byte
}

// VMState is the mutable world a single transaction executes against. It
// satisfies the generic VM-state contract spec.md §9 calls out: Clone,
// Hash, Subset, HasPostExecution, and a flash-loan view.
type VMState struct {
	Storage map[common.Address]map[uint256.Int]uint256.Int

	SelfDestruct mapset.Set // set<SiteKey>

	Reentrancy ReentrancyMetadata

	TypedBug        mapset.Set // set<TypedBugSite>
	IntegerOverflow mapset.Set // set<OverflowSite>

	ArbitraryCalls     mapset.Set // set<ArbitraryCallSite>
	ArbitraryTransfers mapset.Set // set<ArbitraryTransferSite>

	FlashloanData FlashloanData

	PostExecution []PostExecCtx
}

// NewVMState returns an empty world with all collections initialized.
func NewVMState() *VMState {
	return &VMState{
		Storage:            make(map[common.Address]map[uint256.Int]uint256.Int),
		SelfDestruct:       mapset.NewSet(),
		Reentrancy:         newReentrancyMetadata(),
		TypedBug:           mapset.NewSet(),
		IntegerOverflow:    mapset.NewSet(),
		ArbitraryCalls:     mapset.NewSet(),
		ArbitraryTransfers: mapset.NewSet(),
		FlashloanData:      newFlashloanData(),
		PostExecution:      nil,
	}
}

// Clone performs a full deep copy. The executor takes a Clone before every
// `execute` and restores it wholesale on revert, which is what makes the
// "reverted transactions leave no trace" invariant (spec.md §3, §8-1) hold
// without an incremental undo journal.
func (s *VMState) Clone() *VMState {
	storage := make(map[common.Address]map[uint256.Int]uint256.Int, len(s.Storage))
	for addr, slots := range s.Storage {
		cp := make(map[uint256.Int]uint256.Int, len(slots))
		for k, v := range slots {
			cp[k] = v
		}
		storage[addr] = cp
	}
	post := make([]PostExecCtx, len(s.PostExecution))
	copy(post, s.PostExecution)
	return &VMState{
		Storage:            storage,
		SelfDestruct:       s.SelfDestruct.Clone(),
		Reentrancy:         s.Reentrancy.clone(),
		TypedBug:           s.TypedBug.Clone(),
		IntegerOverflow:    s.IntegerOverflow.Clone(),
		ArbitraryCalls:     s.ArbitraryCalls.Clone(),
		ArbitraryTransfers: s.ArbitraryTransfers.Clone(),
		FlashloanData:      s.FlashloanData.clone(),
		PostExecution:      post,
	}
}

// SLoad reads a storage slot, returning zero for an uninitialized cell per
// spec.md §4.1.
func (s *VMState) SLoad(addr common.Address, slot uint256.Int) uint256.Int {
	if acct, ok := s.Storage[addr]; ok {
		if v, ok := acct[slot]; ok {
			return v
		}
	}
	return uint256.Int{}
}

// SStore writes a storage slot, creating the account's slot map on first
// write.
func (s *VMState) SStore(addr common.Address, slot, value uint256.Int) {
	acct, ok := s.Storage[addr]
	if !ok {
		acct = make(map[uint256.Int]uint256.Int)
		s.Storage[addr] = acct
	}
	acct[slot] = value
}

// RecordSelfDestruct registers a SELFDESTRUCT instruction site.
func (s *VMState) RecordSelfDestruct(addr common.Address, pc uint64) {
	s.SelfDestruct.Add(SiteKey{Addr: addr, Pc: pc})
}

// RecordTypedBug registers a pre-classified bug raised by an instrumented
// middleware (e.g. a cheatcode assertion failure) at a given site.
func (s *VMState) RecordTypedBug(bugID uint64, addr common.Address, pc uint64) {
	s.TypedBug.Add(TypedBugSite{BugID: bugID, Addr: addr, Pc: pc})
}

// RecordIntegerOverflow registers an arithmetic opcode that overflowed.
func (s *VMState) RecordIntegerOverflow(addr common.Address, pc uint64, op string) {
	s.IntegerOverflow.Add(OverflowSite{Addr: addr, Pc: pc, Op: op})
}

// RecordArbitraryCall registers an outbound CALL to a symbolically-derived
// target, subject to the per-site cap of 3 enforced by the oracle layer.
func (s *VMState) RecordArbitraryCall(caller, target common.Address, pc uint64) {
	s.ArbitraryCalls.Add(ArbitraryCallSite{Caller: caller, Target: target, Pc: pc})
}

// RecordArbitraryTransfer mirrors RecordArbitraryCall for native-value sends.
func (s *VMState) RecordArbitraryTransfer(caller common.Address, pc uint64) {
	s.ArbitraryTransfers.Add(ArbitraryTransferSite{Caller: caller, Pc: pc})
}

// HasPostExecution reports whether the state carries a suspended call frame
// awaiting a step transaction.
func (s *VMState) HasPostExecution() bool {
	return len(s.PostExecution) > 0
}

// Hash produces a stable fingerprint of the state's storage contents, used
// by the infant-state corpus to deduplicate seeds (spec.md §3: "hashed for
// dedup"). Transient tracing fields (self-destruct/typed-bug/overflow sets)
// are deliberately excluded: they record *how* a state was reached, not
// *what* the state is.
func (s *VMState) Hash() uint64 {
	addrs := make([]common.Address, 0, len(s.Storage))
	for addr := range s.Storage {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Hex() < addrs[j].Hex()
	})

	h := fnv.New64a()
	for _, addr := range addrs {
		_, _ = h.Write(addr.Bytes())
		slots := s.Storage[addr]
		keys := make([]uint256.Int, 0, len(slots))
		for k := range slots {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(&keys[j]) < 0 })
		for _, k := range keys {
			v := slots[k]
			kb := k.Bytes32()
			vb := v.Bytes32()
			_, _ = h.Write(kb[:])
			_, _ = h.Write(vb[:])
		}
	}
	return h.Sum64()
}

// IsSubsetOf reports whether every storage slot set in s also appears in
// other with an equal value, the relation spec.md §4.4 uses for the
// StateComp oracle's DesiredContain/StateContain modes.
func (s *VMState) IsSubsetOf(other *VMState) bool {
	for addr, slots := range s.Storage {
		otherSlots, ok := other.Storage[addr]
		if !ok {
			return false
		}
		for k, v := range slots {
			ov, ok := otherSlots[k]
			if !ok || ov != v {
				return false
			}
		}
	}
	return true
}

// The accessors below give the oracle package a typed view over VMState's
// mapset.Set fields, which otherwise hold unexported-package interface{}
// values an external package cannot type-assert against.

// SelfDestructSites returns every recorded SELFDESTRUCT site.
func (s *VMState) SelfDestructSites() []SiteKey {
	out := make([]SiteKey, 0, s.SelfDestruct.Cardinality())
	for v := range s.SelfDestruct.Iter() {
		out = append(out, v.(SiteKey))
	}
	return out
}

// TypedBugSites returns every recorded pre-classified bug site.
func (s *VMState) TypedBugSites() []TypedBugSite {
	out := make([]TypedBugSite, 0, s.TypedBug.Cardinality())
	for v := range s.TypedBug.Iter() {
		out = append(out, v.(TypedBugSite))
	}
	return out
}

// IntegerOverflowSites returns every recorded overflowing arithmetic site.
func (s *VMState) IntegerOverflowSites() []OverflowSite {
	out := make([]OverflowSite, 0, s.IntegerOverflow.Cardinality())
	for v := range s.IntegerOverflow.Iter() {
		out = append(out, v.(OverflowSite))
	}
	return out
}

// ArbitraryCallSites returns every recorded symbolically-targeted CALL.
func (s *VMState) ArbitraryCallSites() []ArbitraryCallSite {
	out := make([]ArbitraryCallSite, 0, s.ArbitraryCalls.Cardinality())
	for v := range s.ArbitraryCalls.Iter() {
		out = append(out, v.(ArbitraryCallSite))
	}
	return out
}

// ArbitraryTransferSites returns every recorded symbolically-targeted
// native-value transfer.
func (s *VMState) ArbitraryTransferSites() []ArbitraryTransferSite {
	out := make([]ArbitraryTransferSite, 0, s.ArbitraryTransfers.Cardinality())
	for v := range s.ArbitraryTransfers.Iter() {
		out = append(out, v.(ArbitraryTransferSite))
	}
	return out
}

// ReentrancyFound returns every storage slot flagged as read-then-written
// across call depths within the same transaction.
func (s *VMState) ReentrancyFound() []ReentrancySlot {
	out := make([]ReentrancySlot, 0, s.Reentrancy.Found.Cardinality())
	for v := range s.Reentrancy.Found.Iter() {
		out = append(out, v.(ReentrancySlot))
	}
	return out
}
