package vm

import "github.com/ethereum/go-ethereum/common"

// Kind identifies a middleware's function so the Host can add/remove
// instances by kind mid-campaign, per spec.md §4.2.
type Kind byte

const (
	KindCoverage Kind = iota
	KindCallPrinter
	KindSha3Taint
	KindConcolic
	KindIntegerOverflow
	KindFlashloan
	KindCheatcode
)

func (k Kind) String() string {
	switch k {
	case KindCoverage:
		return "coverage"
	case KindCallPrinter:
		return "call_printer"
	case KindSha3Taint:
		return "sha3_taint"
	case KindConcolic:
		return "concolic"
	case KindIntegerOverflow:
		return "integer_overflow"
	case KindFlashloan:
		return "flashloan"
	case KindCheatcode:
		return "cheatcode"
	default:
		return "unknown"
	}
}

// Middleware observes every executed instruction and may mutate the Host's
// VMState. Implementations must not panic; a middleware that hits an
// internal error records it by flipping a VMState bit an oracle looks at
// instead (spec.md §4.2).
type Middleware interface {
	Kind() Kind
	// OnStep is invoked before the interpreter executes the instruction at
	// ctxt.PC(), in the Host's insertion order.
	OnStep(ctxt *StepContext, host *Host)
}

// ReturnObserver is implemented by middlewares that also need to observe
// call returns (CallPrinter). OnReturn fires in reverse insertion order after
// a nested call frame or an Executor.Execute top-level frame completes;
// Executor.CallLive and CallPostBatchDyn do not dispatch it for their own
// top-level frame.
type ReturnObserver interface {
	OnReturn(ctxt *StepContext, host *Host, returnData []byte, reverted bool)
}

// InsertObserver is implemented by middlewares that want to see newly
// deployed contracts (e.g. to register ERC-20-shaped code for flash-loan
// routing).
type InsertObserver interface {
	OnInsert(host *Host, addr common.Address, code []byte, abi []byte)
}

// middlewareChain is the Host's ordered, mutable list of observers. Removal
// by kind is deferred to the end of the current instruction so a middleware
// can safely request its own removal from within OnStep, per spec.md §9's
// "pending-removal list processed after each instruction" note.
type middlewareChain struct {
	items          []Middleware
	pendingRemoval map[Kind]bool
}

func newMiddlewareChain() *middlewareChain {
	return &middlewareChain{pendingRemoval: make(map[Kind]bool)}
}

// Add appends mw to the chain, in insertion order.
func (c *middlewareChain) Add(mw Middleware) {
	c.items = append(c.items, mw)
}

// RemoveByKind schedules every middleware of the given kind for removal;
// the removal takes effect at the next flushRemovals call.
func (c *middlewareChain) RemoveByKind(kind Kind) {
	c.pendingRemoval[kind] = true
}

// Get returns the first middleware of the given kind, or nil.
func (c *middlewareChain) Get(kind Kind) Middleware {
	for _, mw := range c.items {
		if mw.Kind() == kind {
			return mw
		}
	}
	return nil
}

func (c *middlewareChain) flushRemovals() {
	if len(c.pendingRemoval) == 0 {
		return
	}
	kept := c.items[:0]
	for _, mw := range c.items {
		if c.pendingRemoval[mw.Kind()] {
			continue
		}
		kept = append(kept, mw)
	}
	c.items = kept
	c.pendingRemoval = make(map[Kind]bool)
}

func (c *middlewareChain) dispatchStep(ctxt *StepContext, host *Host) {
	for _, mw := range c.items {
		mw.OnStep(ctxt, host)
	}
	c.flushRemovals()
}

func (c *middlewareChain) dispatchReturn(ctxt *StepContext, host *Host, returnData []byte, reverted bool) {
	for i := len(c.items) - 1; i >= 0; i-- {
		if ro, ok := c.items[i].(ReturnObserver); ok {
			ro.OnReturn(ctxt, host, returnData, reverted)
		}
	}
	c.flushRemovals()
}

func (c *middlewareChain) dispatchInsert(host *Host, addr common.Address, code []byte, abi []byte) {
	for _, mw := range c.items {
		if io, ok := mw.(InsertObserver); ok {
			io.OnInsert(host, addr, code, abi)
		}
	}
}
