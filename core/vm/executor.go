package vm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// defaultGasCeiling is the per-transaction gas ceiling spec.md §5 specifies
// ("the executor bounds each transaction by an interpreter-level gas
// ceiling (1e10 units)"). It is not decremented per-opcode (this engine
// does not model gas pricing); it exists only as the value GAS returns.
const defaultGasCeiling = 1e10

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// opCall implements CALL/CALLCODE/DELEGATECALL/STATICCALL, dispatching into
// a nested Frame run recursively through the Host, per spec.md §4.1.
func (h *Host) opCall(f *Frame, op gethvm.OpCode) (haltReason, uint64) {
	hasValue := op == gethvm.CALL || op == gethvm.CALLCODE
	need := 6
	if hasValue {
		need = 7
	}
	if f.stack.len() < need {
		return haltError, 0
	}
	f.stack.pop() // gas, unused: this engine does not meter gas per call
	addrWord := f.stack.pop()
	value := new(uint256.Int)
	if hasValue {
		v := f.stack.pop()
		value = &v
	}
	argsOff := f.stack.pop()
	argsSize := f.stack.pop()
	retOff := f.stack.pop()
	retSize := f.stack.pop()

	target := addressFromWord(&addrWord)
	calldata := f.memory.GetCopy(argsOff.Uint64(), argsSize.Uint64())

	var kind CallKind
	switch op {
	case gethvm.CALL:
		kind = CallKindCall
	case gethvm.CALLCODE:
		kind = CallKindCallCode
	case gethvm.DELEGATECALL:
		kind = CallKindDelegateCall
	case gethvm.STATICCALL:
		kind = CallKindStaticCall
	}

	caller := f.Address
	storageAddr := target
	codeAddr := target
	switch kind {
	case CallKindDelegateCall:
		caller = f.Caller
		storageAddr = f.Address
		value = f.Value
	case CallKindCallCode:
		storageAddr = f.Address
	}

	if h.IsSymbolicTarget(target) && !value.IsZero() {
		h.State.RecordArbitraryTransfer(f.Caller, f.pc)
	}
	if h.IsSymbolicTarget(target) {
		h.State.RecordArbitraryCall(f.Caller, target, f.pc)
	}

	output, success := h.executeCall(kind, caller, storageAddr, codeAddr, value, calldata, f.Depth+1, f.Static || kind == CallKindStaticCall)
	f.returnData = output
	if retSize.Uint64() > 0 {
		f.memory.Set(retOff.Uint64(), minU64(retSize.Uint64(), uint64(len(output))), output)
	}
	var res uint256.Int
	if success {
		res.SetOne()
	} else {
		res.Clear()
	}
	f.stack.push(&res)
	return haltNone, f.pc + 1
}

// executeCall runs one nested call frame to completion, transferring value
// first (for CALL), dispatching ReturnObserver middlewares afterward.
func (h *Host) executeCall(kind CallKind, caller, storageAddr, codeAddr [20]byte, value *uint256.Int, calldata []byte, depth int, static bool) ([]byte, bool) {
	if kind == CallKindCall && !value.IsZero() {
		if !h.CanTransfer(caller, value) {
			return nil, false
		}
		h.Transfer(caller, storageAddr, value)
	}

	exit := h.EnterCall()
	defer exit()

	code := h.Code(codeAddr)
	frame := &Frame{
		Kind:     kind,
		Address:  storageAddr,
		Caller:   caller,
		Origin:   h.txOrigin,
		Value:    value,
		CallData: calldata,
		Code:     code,
		stack:    newStack(),
		memory:   newMemory(),
		gasLimit: defaultGasCeiling,
		Static:   static,
		Depth:    depth,
	}

	output, reverted := h.Run(frame)
	ctxt := &StepContext{Frame: frame}
	h.Middlewares.dispatchReturn(ctxt, h, output, reverted)
	return output, !reverted
}

// opCreate implements CREATE/CREATE2: runs the init code as a constructor
// frame and, if it completes without reverting, installs its output as the
// runtime code of a freshly derived address.
func (h *Host) opCreate(f *Frame, op gethvm.OpCode) (haltReason, uint64) {
	need := 3
	if op == gethvm.CREATE2 {
		need = 4
	}
	if f.stack.len() < need {
		return haltError, 0
	}
	value := f.stack.pop()
	offset := f.stack.pop()
	size := f.stack.pop()
	var salt uint256.Int
	if op == gethvm.CREATE2 {
		salt = f.stack.pop()
	}
	initCode := f.memory.GetCopy(offset.Uint64(), size.Uint64())

	newAddr := deriveCreateAddress(f.Address, salt, initCode)

	exit := h.EnterCall()
	cframe := &Frame{
		Kind:     CallKindCreate,
		Address:  newAddr,
		Caller:   f.Address,
		Origin:   h.txOrigin,
		Value:    &value,
		CallData: nil,
		Code:     NewBytecode(initCode, common.BytesToHash(ifuzzcrypto.Keccak256(initCode))),
		stack:    newStack(),
		memory:   newMemory(),
		gasLimit: defaultGasCeiling,
		Depth:    f.Depth + 1,
	}
	runtimeCode, reverted := h.Run(cframe)
	exit()

	var res uint256.Int
	if !reverted {
		h.SetCode(newAddr, runtimeCode, nil)
		res.SetBytes(newAddr[:])
	}
	f.stack.push(&res)
	return haltNone, f.pc + 1
}

func deriveCreateAddress(deployer [20]byte, salt uint256.Int, initCode []byte) [20]byte {
	saltBytes := salt.Bytes32()
	digest := ifuzzcrypto.Keccak256(deployer[:], saltBytes[:], initCode)
	var addr [20]byte
	copy(addr[:], digest[len(digest)-20:])
	return addr
}

// ExecutionResult is the outcome of one Executor.Execute call, per
// spec.md §3/§4.1.
type ExecutionResult struct {
	NewState        *VMState
	Reverted        bool
	Output          []byte
	CoverageChanged bool
	BranchEvents    []BranchTaken
	ComparisonHints []uint256.Int
}

// ErrNoCodeAtTarget is returned when Execute is asked to run a transaction
// against an address with no registered bytecode.
var ErrNoCodeAtTarget = errors.New("vm: no code at target address")

// Executor runs one fuzz transaction end to end: clone the pre-state, run
// the top-level frame, commit or discard the clone, and report what
// changed. Generalizes the teacher's block/tx-context glue
// (CanTransfer/Transfer wiring) from a chain-transaction applier to a
// single fuzz-transaction applier, per spec.md §4.1.
type Executor struct {
	Host *Host
}

// NewExecutor wraps an existing Host.
func NewExecutor(h *Host) *Executor {
	return &Executor{Host: h}
}

// CallParams describes one top-level transaction to execute.
type CallParams struct {
	Caller   [20]byte
	Contract [20]byte
	Value    *uint256.Int
	CallData []byte
}

// Execute runs one transaction against e.Host's current VMState, cloning
// first so that a reverted transaction leaves VMState untouched (spec.md §3
// invariant 1 / §8 property 1).
func (e *Executor) Execute(params CallParams) (ExecutionResult, error) {
	code := e.Host.Code(params.Contract)
	if len(code.Code) == 0 {
		return ExecutionResult{}, ErrNoCodeAtTarget
	}

	preState := e.Host.State
	clone := preState.Clone()

	e.Host.State = clone
	e.Host.txOrigin = params.Caller
	e.Host.ResetPerExecutionBuffers()

	if params.Value == nil {
		params.Value = new(uint256.Int)
	}
	if !params.Value.IsZero() {
		if !e.Host.CanTransfer(params.Caller, params.Value) {
			e.Host.State = preState
			return ExecutionResult{NewState: preState, Reverted: true}, nil
		}
		e.Host.Transfer(params.Caller, params.Contract, params.Value)
	}

	frame := NewFrame(params.Caller, params.Contract, params.Value, params.CallData, code, defaultGasCeiling)
	output, reverted := e.Host.Run(frame)
	e.Host.Middlewares.dispatchReturn(&StepContext{Frame: frame}, e.Host, output, reverted)

	branchEvents := e.Host.BranchEvents
	hints := e.Host.ComparisonHints

	if reverted {
		e.Host.State = preState
		return ExecutionResult{
			NewState:     preState,
			Reverted:     true,
			Output:       output,
			BranchEvents: branchEvents,
		}, nil
	}

	return ExecutionResult{
		NewState:        clone,
		Reverted:        false,
		Output:          output,
		CoverageChanged: len(branchEvents) > 0,
		BranchEvents:    branchEvents,
		ComparisonHints: hints,
	}, nil
}

// CallLive dispatches a synthetic top-level call against the executor's
// current live state, without cloning the state first or undoing it on
// failure. Token contexts use this for the pool-probe/transfer calls a
// liquidity hop needs (spec.md §4.5): those calldata-only calls are part of
// the same attack sequence as the transaction that triggered them, so their
// effects (and any revert) belong on the live state, not a throwaway one.
func (e *Executor) CallLive(params CallParams) ([]byte, bool, error) {
	code := e.Host.Code(params.Contract)
	if len(code.Code) == 0 {
		return nil, false, ErrNoCodeAtTarget
	}
	if params.Value == nil {
		params.Value = new(uint256.Int)
	}
	if !params.Value.IsZero() {
		if !e.Host.CanTransfer(params.Caller, params.Value) {
			return nil, false, nil
		}
		e.Host.Transfer(params.Caller, params.Contract, params.Value)
	}
	frame := NewFrame(params.Caller, params.Contract, params.Value, params.CallData, code, defaultGasCeiling)
	output, reverted := e.Host.Run(frame)
	return output, !reverted, nil
}

// CallPostBatchDyn runs an auxiliary call against a throwaway clone of
// state, never mutating e.Host's live VMState. Oracles use this for
// post-execution invariant checks (spec.md §4.4's Invariant oracle).
func (e *Executor) CallPostBatchDyn(state *VMState, params CallParams) (ExecutionResult, error) {
	saved := e.Host.State
	e.Host.State = state.Clone()
	defer func() { e.Host.State = saved }()

	res, err := e.executeAgainstCurrent(params)
	return res, err
}

func (e *Executor) executeAgainstCurrent(params CallParams) (ExecutionResult, error) {
	code := e.Host.Code(params.Contract)
	if len(code.Code) == 0 {
		return ExecutionResult{}, ErrNoCodeAtTarget
	}
	e.Host.ResetPerExecutionBuffers()
	if params.Value == nil {
		params.Value = new(uint256.Int)
	}
	frame := NewFrame(params.Caller, params.Contract, params.Value, params.CallData, code, defaultGasCeiling)
	output, reverted := e.Host.Run(frame)
	return ExecutionResult{
		NewState: e.Host.State,
		Reverted: reverted,
		Output:   output,
	}, nil
}
