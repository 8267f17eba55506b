// Package middlewares implements the instruction-level instrumentation
// modules the Host dispatches every step to: coverage, call tracing,
// integer-overflow detection, flash-loan bookkeeping, SHA3 taint, and
// concolic execution.
package middlewares

import (
	"encoding/hex"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// SingleCall is one entry in a CallPrinter trace, per spec.md §4.3.
type SingleCall struct {
	CallType string `json:"call_type"`
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	Input    string `json:"input"`
	Value    string `json:"value"`
	Results  string `json:"results"`
}

// CallTraceEntry pairs a call depth with the call it describes, matching
// the `[(depth, SingleCall)]` shape spec.md §4.3 calls for.
type CallTraceEntry struct {
	Depth int        `json:"depth"`
	Call  SingleCall `json:"call"`
}

// CallPrinter builds an ordered call tree for one input, suppressing the
// first-level entry when chaining a step transaction (mark_step_tx) and
// resetting depth when a new top-level transaction starts (mark_new_tx).
type CallPrinter struct {
	AddressNames map[common.Address]string

	entries      []CallTraceEntry
	openIdx      []int // stack of indices into entries still awaiting Results
	currentLayer int
	entry        bool
}

// NewCallPrinter returns a CallPrinter ready to trace the next top-level
// transaction.
func NewCallPrinter() *CallPrinter {
	return &CallPrinter{AddressNames: make(map[common.Address]string), entry: true}
}

func (c *CallPrinter) Kind() fuzzvm.Kind { return fuzzvm.KindCallPrinter }

// MarkNewTx resets the depth cursor to layer, the shape spec.md §4.8's
// coverage stage uses to align a resumed step transaction at the right
// nesting depth.
func (c *CallPrinter) MarkNewTx(layer int) {
	c.currentLayer = layer
	c.entry = true
}

// MarkStepTx suppresses the first-level entry, used when chaining a step
// transaction after a post-execution continuation (spec.md §4.3).
func (c *CallPrinter) MarkStepTx() {
	c.entry = false
}

func (c *CallPrinter) translate(addr common.Address) string {
	if name, ok := c.AddressNames[addr]; ok {
		return name
	}
	return addr.Hex()
}

// OnStep records the first-level call entry once per transaction (unless
// suppressed by MarkStepTx), pushes a nested entry for every CALL-family
// opcode, and records LOG opcodes as Event entries.
func (c *CallPrinter) OnStep(ctxt *fuzzvm.StepContext, host *fuzzvm.Host) {
	if c.entry {
		c.entry = false
		c.push(CallTraceEntry{
			Depth: c.currentLayer,
			Call: SingleCall{
				CallType: "FirstLevel",
				Caller:   c.translate(ctxt.Caller()),
				Contract: c.translate(ctxt.Address()),
				Input:    hex.EncodeToString(ctxt.Frame.CallData),
				Value:    ctxt.Frame.Value.String(),
			},
		})
	}

	if callType, ok := callOpType(ctxt.Op); ok {
		c.recordCall(ctxt, callType)
	}

	if isLogOp(ctxt.Op) {
		c.recordEvent(ctxt)
	}
}

func isLogOp(op byte) bool {
	return op >= 0xA0 && op <= 0xA4 // LOG0..LOG4
}

// callOpType maps a call-family opcode to the SingleCall.call_type string
// spec.md §4.3 expects, mirroring the CallKind taxonomy opCall dispatches
// on (core/vm/frame.go).
func callOpType(op byte) (string, bool) {
	switch op {
	case 0xf1:
		return "Call", true
	case 0xf2:
		return "CallCode", true
	case 0xf4:
		return "DelegateCall", true
	case 0xfa:
		return "StaticCall", true
	default:
		return "", false
	}
}

// recordCall pushes a nested entry for a CALL-family opcode about to
// execute, reading the target/value/calldata off the stack and memory the
// same way opCall does (core/vm/executor.go), before the opcode itself
// pops them. The matching OnReturn call (dispatched once the nested frame
// completes) fills in Results and this entry's layer is what nested LOG/
// CALL entries observed inside the callee will be recorded against.
func (c *CallPrinter) recordCall(ctxt *fuzzvm.StepContext, callType string) {
	hasValue := callType == "Call" || callType == "CallCode"
	argsIdx := 2
	need := 6
	if hasValue {
		argsIdx = 3
		need = 7
	}
	if ctxt.StackLen() < need {
		return
	}

	targetWord := ctxt.StackPeek(1)
	if targetWord == nil {
		return
	}
	target := common.Address(targetWord.Bytes20())

	value := "0"
	switch {
	case hasValue:
		if v := ctxt.StackPeek(2); v != nil {
			value = v.String()
		}
	case callType == "DelegateCall":
		value = ctxt.Frame.Value.String()
	}

	var input string
	if argsOff, argsSize := ctxt.StackPeek(argsIdx), ctxt.StackPeek(argsIdx+1); argsOff != nil && argsSize != nil {
		input = hex.EncodeToString(ctxt.MemoryCopy(argsOff.Uint64(), argsSize.Uint64()))
	}

	c.currentLayer++
	c.push(CallTraceEntry{
		Depth: c.currentLayer,
		Call: SingleCall{
			CallType: callType,
			Caller:   c.translate(ctxt.Address()),
			Contract: c.translate(target),
			Input:    input,
			Value:    value,
		},
	})
}

func (c *CallPrinter) recordEvent(ctxt *fuzzvm.StepContext) {
	topicCount := int(ctxt.Op) - 0xA0
	if ctxt.StackLen() < 2+topicCount {
		return
	}
	offset := ctxt.StackPeek(0)
	size := ctxt.StackPeek(1)
	if offset == nil || size == nil {
		return
	}
	data := ctxt.MemoryCopy(offset.Uint64(), size.Uint64())
	c.entries = append(c.entries, CallTraceEntry{
		Depth: ctxt.Depth(),
		Call: SingleCall{
			CallType: "Event",
			Contract: c.translate(ctxt.Address()),
			Input:    hex.EncodeToString(data),
		},
	})
}

func (c *CallPrinter) push(entry CallTraceEntry) {
	c.entries = append(c.entries, entry)
	c.openIdx = append(c.openIdx, len(c.entries)-1)
}

// OnReturn fills in the most recently opened, still-unclosed call's Results
// field and pops the depth cursor, per spec.md §4.3.
func (c *CallPrinter) OnReturn(ctxt *fuzzvm.StepContext, host *fuzzvm.Host, returnData []byte, reverted bool) {
	if len(c.openIdx) == 0 {
		return
	}
	idx := c.openIdx[len(c.openIdx)-1]
	c.openIdx = c.openIdx[:len(c.openIdx)-1]
	result := hex.EncodeToString(returnData)
	if reverted {
		result = "revert:" + result
	}
	c.entries[idx].Call.Results = result
	if c.entries[idx].Call.CallType != "FirstLevel" {
		c.currentLayer--
	}
}

// Cleanup resets the printer for the next input.
func (c *CallPrinter) Cleanup() {
	c.entries = nil
	c.openIdx = nil
	c.currentLayer = 0
	c.entry = true
}

// Trace returns the accumulated call entries.
func (c *CallPrinter) Trace() []CallTraceEntry {
	return c.entries
}

// TraceJSON marshals the trace the way traces/<idx>.json is written
// (spec.md §6).
func (c *CallPrinter) TraceJSON() ([]byte, error) {
	return json.Marshal(c.entries)
}

var _ fuzzvm.Middleware = (*CallPrinter)(nil)
var _ fuzzvm.ReturnObserver = (*CallPrinter)(nil)
