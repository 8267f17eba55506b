package middlewares

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// overflowSite mirrors the dedup key the host's IntegerOverflow set already
// tracks; kept local so the middleware can skip re-deriving a finding it
// already flagged in an earlier step of the same run.
type overflowSite struct {
	Addr common.Address
	Pc   uint64
	Op   string
}

// IntegerOverflow peeks the top two stack operands of ADD/SUB/MUL/DIV/SDIV
// before the interpreter executes them and flags an overflow (or, for
// division, the source's aggressive "l < r" precision-loss heuristic --
// an Open Question the spec says to implement literally, not narrow).
// Grounded 1:1 on the distillation's integer_overflow.rs.
type IntegerOverflow struct {
	// Whitelist holds addresses excused from overflow reporting (e.g. a
	// known-good Uniswap pair binary in on-chain mode); empty in the
	// default off-chain configuration.
	Whitelist map[common.Address]bool
	seen      map[overflowSite]bool
}

// NewIntegerOverflow returns a middleware with an empty whitelist.
func NewIntegerOverflow() *IntegerOverflow {
	return &IntegerOverflow{
		Whitelist: make(map[common.Address]bool),
		seen:      make(map[overflowSite]bool),
	}
}

func (m *IntegerOverflow) Kind() fuzzvm.Kind { return fuzzvm.KindIntegerOverflow }

func (m *IntegerOverflow) OnStep(ctxt *fuzzvm.StepContext, host *fuzzvm.Host) {
	addr := ctxt.Address()
	if m.Whitelist[addr] {
		return
	}
	var op string
	var overflowed bool
	switch ctxt.Op {
	case 0x01: // ADD
		op, overflowed = "+", m.checkAdd(ctxt)
	case 0x02: // MUL
		op, overflowed = "*", m.checkMul(ctxt)
	case 0x03: // SUB
		op, overflowed = "-", m.checkSub(ctxt)
	case 0x04, 0x05: // DIV, SDIV
		op, overflowed = "/", m.checkDivPrecisionLoss(ctxt)
	default:
		return
	}
	if !overflowed {
		return
	}
	site := overflowSite{Addr: addr, Pc: ctxt.PC(), Op: op}
	if m.seen[site] {
		return
	}
	m.seen[site] = true
	host.State.RecordIntegerOverflow(addr, ctxt.PC(), op)
}

func (m *IntegerOverflow) operands(ctxt *fuzzvm.StepContext) (l, r *uint256.Int, ok bool) {
	if ctxt.StackLen() < 2 {
		return nil, nil, false
	}
	return ctxt.StackPeek(0), ctxt.StackPeek(1), true
}

func (m *IntegerOverflow) checkAdd(ctxt *fuzzvm.StepContext) bool {
	l, r, ok := m.operands(ctxt)
	if !ok {
		return false
	}
	return new(uint256.Int).AddOverflow(l, r)
}

func (m *IntegerOverflow) checkMul(ctxt *fuzzvm.StepContext) bool {
	l, r, ok := m.operands(ctxt)
	if !ok {
		return false
	}
	return new(uint256.Int).MulOverflow(l, r)
}

func (m *IntegerOverflow) checkSub(ctxt *fuzzvm.StepContext) bool {
	l, r, ok := m.operands(ctxt)
	if !ok {
		return false
	}
	return new(uint256.Int).SubOverflow(l, r)
}

// checkDivPrecisionLoss flags any division where the dividend is smaller
// than the divisor -- an aggressive definition of precision loss, kept
// exactly as the source defines it (see DESIGN.md's Open Question
// decision).
func (m *IntegerOverflow) checkDivPrecisionLoss(ctxt *fuzzvm.StepContext) bool {
	l, r, ok := m.operands(ctxt)
	if !ok {
		return false
	}
	return l.Lt(r)
}

var _ fuzzvm.Middleware = (*IntegerOverflow)(nil)
