package middlewares

import (
	"github.com/ethereum/go-ethereum/common"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// coverageKey names one (address, pc) instruction site.
type coverageKey struct {
	Addr common.Address
	Pc   uint64
}

// Coverage maintains two campaign-long bitmaps: instructions visited, and
// comparison-opcode sites (LT/GT/SLT/SGT/EQ) executed with both operands on
// the stack; operand values are not inspected. It is
// long-lived (one instance per campaign, not re-cloned per transaction),
// per spec.md §4.3/§9's note that coverage state persists outside VMState.
type Coverage struct {
	visited          map[coverageKey]bool
	comparedConstant map[coverageKey]bool

	// newSinceSnapshot tracks whether any new bit was set since the last
	// record, feeding the coverage feedback's interestingness check
	// (spec.md §4.6).
	newSinceSnapshot bool
}

// NewCoverage returns an empty, campaign-long coverage tracker.
func NewCoverage() *Coverage {
	return &Coverage{
		visited:          make(map[coverageKey]bool),
		comparedConstant: make(map[coverageKey]bool),
	}
}

func (c *Coverage) Kind() fuzzvm.Kind { return fuzzvm.KindCoverage }

// OnStep marks the current instruction as visited and, for comparison
// opcodes with a peekable second operand, records the compared-against
// constant bit.
func (c *Coverage) OnStep(ctxt *fuzzvm.StepContext, host *fuzzvm.Host) {
	key := coverageKey{Addr: ctxt.Address(), Pc: ctxt.PC()}
	if !c.visited[key] {
		c.visited[key] = true
		c.newSinceSnapshot = true
	}

	if isComparisonOp(ctxt.Op) && ctxt.StackLen() >= 2 {
		c.comparedConstant[key] = true
	}
}

func isComparisonOp(op byte) bool {
	switch op {
	case 0x10, 0x11, 0x12, 0x13, 0x14: // LT, GT, SLT, SGT, EQ
		return true
	default:
		return false
	}
}

// NewBitsSinceSnapshot reports whether any new coverage or comparison bit
// has been set since the last RecordInstructionCoverage call, the signal
// the coverage feedback reads (spec.md §4.6).
func (c *Coverage) NewBitsSinceSnapshot() bool {
	return c.newSinceSnapshot
}

// RecordInstructionCoverage closes the current snapshot window: it clears
// the flag NewBitsSinceSnapshot reports and returns the number of distinct
// sites visited so far, for the stats display. It writes nothing to disk.
func (c *Coverage) RecordInstructionCoverage() int {
	c.newSinceSnapshot = false
	return len(c.visited)
}

// VisitedCount returns the number of distinct (address, pc) sites covered.
func (c *Coverage) VisitedCount() int {
	return len(c.visited)
}

var _ fuzzvm.Middleware = (*Coverage)(nil)
