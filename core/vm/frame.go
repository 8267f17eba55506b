package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CallKind distinguishes how a frame was entered: the top-level transaction,
// one of the EVM's four call-family opcodes, or CREATE, the taxonomy
// CallPrinter's SingleCall.call_type uses (spec.md §4.3).
type CallKind byte

const (
	CallKindFirstLevel CallKind = iota
	CallKindCall
	CallKindCallCode
	CallKindDelegateCall
	CallKindStaticCall
	CallKindCreate
)

func (k CallKind) String() string {
	switch k {
	case CallKindFirstLevel:
		return "FirstLevel"
	case CallKindCall:
		return "Call"
	case CallKindCallCode:
		return "CallCode"
	case CallKindDelegateCall:
		return "DelegateCall"
	case CallKindStaticCall:
		return "StaticCall"
	case CallKindCreate:
		return "Create"
	default:
		return "Unknown"
	}
}

// Frame is one call frame's mutable execution state: the program counter,
// operand stack, byte memory, and the call parameters the interpreter and
// middlewares need to read.
type Frame struct {
	Kind     CallKind
	Address  common.Address // the code currently executing (storage context)
	Caller   common.Address
	Origin   common.Address
	Value    *uint256.Int
	CallData []byte
	Code     *Bytecode

	pc     uint64
	stack  *stack
	memory *memory

	gasLimit uint64

	Static bool
	Depth  int

	returnData []byte
	output     []byte
	reverted   bool
	stopped    bool
}

// NewFrame builds a top-level call frame.
func NewFrame(caller, address common.Address, value *uint256.Int, calldata []byte, code *Bytecode, gasLimit uint64) *Frame {
	return &Frame{
		Kind:     CallKindFirstLevel,
		Address:  address,
		Caller:   caller,
		Origin:   caller,
		Value:    value,
		CallData: calldata,
		Code:     code,
		stack:    newStack(),
		memory:   newMemory(),
		gasLimit: gasLimit,
	}
}

// PC returns the current program counter.
func (f *Frame) PC() uint64 { return f.pc }

// peekByte returns the opcode byte at the current program counter, or STOP
// past the end of code.
func (f *Frame) peekByte() byte {
	if int(f.pc) >= len(f.Code.Code) {
		return 0x00
	}
	return f.Code.Code[f.pc]
}

// StepContext is the read/write view a Middleware's OnStep receives: enough
// of the current frame to observe the instruction about to execute and (via
// Host) to mutate VMState.
type StepContext struct {
	Frame *Frame
	Op    byte
}

func (c *StepContext) PC() uint64               { return c.Frame.PC() }
func (c *StepContext) Address() common.Address  { return c.Frame.Address }
func (c *StepContext) Caller() common.Address   { return c.Frame.Caller }
func (c *StepContext) StackLen() int            { return c.Frame.stack.len() }
func (c *StepContext) StackPeek(n int) *uint256.Int {
	if n >= c.Frame.stack.len() {
		return nil
	}
	return c.Frame.stack.peek(n)
}
func (c *StepContext) Depth() int { return c.Frame.Depth }
