package vm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// MemoryCopy returns an owned copy of the current frame's memory region,
// used by CallPrinter/Sha3Taint to read LOG/SHA3 operands during OnStep
// (before the opcode itself has consumed the memory).
func (c *StepContext) MemoryCopy(offset, size uint64) []byte {
	return c.Frame.memory.GetCopy(offset, size)
}

// haltReason values are sentinel statuses threaded through the step loop;
// they are not Go errors in the "something went wrong" sense, matching
// spec.md §4.1's "interpreter returns are non-fatal" framing.
type haltReason byte

const (
	haltNone haltReason = iota
	haltStop
	haltReturn
	haltRevert
	haltSelfDestruct
	haltError
)

// Run steps frame's bytecode to completion, dispatching every instruction
// through the Host's middleware chain before execution (and, for the
// call-family opcodes, after). It never panics: unknown opcodes are skipped
// without touching VMState, while INVALID, a bad jump destination, or
// malformed stack access halt the frame with haltError and are surfaced as
// reverted=true, per spec.md §4.1/§7.
func (h *Host) Run(frame *Frame) (output []byte, reverted bool) {
	reason := h.runLoop(frame)
	switch reason {
	case haltReturn:
		return frame.output, false
	case haltStop, haltSelfDestruct:
		return nil, false
	default: // haltRevert, haltError
		return frame.output, true
	}
}

func (h *Host) runLoop(frame *Frame) haltReason {
	for {
		if int(frame.pc) >= len(frame.Code.Code) {
			return haltStop
		}
		op := gethvm.OpCode(frame.Code.Code[frame.pc])

		ctxt := &StepContext{Frame: frame, Op: byte(op)}
		h.Middlewares.dispatchStep(ctxt, h)

		reason, next := h.step(frame, op)
		if reason != haltNone {
			return reason
		}
		frame.pc = next
	}
}

// step executes one opcode, returning the halt reason (haltNone to
// continue) and the next program counter.
func (h *Host) step(f *Frame, op gethvm.OpCode) (haltReason, uint64) {
	s := f.stack
	switch {
	case op >= gethvm.PUSH1 && op <= gethvm.PUSH32:
		n := int(op) - int(gethvm.PUSH1) + 1
		return h.opPush(f, n)
	case op >= gethvm.DUP1 && op <= gethvm.DUP16:
		if s.len() < int(op-gethvm.DUP1)+1 {
			return haltError, 0
		}
		s.dup(int(op-gethvm.DUP1) + 1)
		return haltNone, f.pc + 1
	case op >= gethvm.SWAP1 && op <= gethvm.SWAP16:
		if s.len() < int(op-gethvm.SWAP1)+2 {
			return haltError, 0
		}
		s.swap(int(op-gethvm.SWAP1) + 1)
		return haltNone, f.pc + 1
	case op >= gethvm.LOG0 && op <= gethvm.LOG4:
		return h.opLog(f, int(op-gethvm.LOG0))
	}

	switch op {
	case gethvm.STOP:
		return haltStop, f.pc
	case gethvm.ADD:
		return h.opArith(f, "+", func(z, x, y *uint256.Int) bool { return z.AddOverflow(x, y) })
	case gethvm.SUB:
		return h.opArith(f, "-", func(z, x, y *uint256.Int) bool { return z.SubOverflow(x, y) })
	case gethvm.MUL:
		return h.opArith(f, "*", func(z, x, y *uint256.Int) bool { return z.MulOverflow(x, y) })
	case gethvm.DIV:
		return h.opDiv(f, false)
	case gethvm.SDIV:
		return h.opDiv(f, true)
	case gethvm.MOD:
		return h.opMod(f, false)
	case gethvm.SMOD:
		return h.opMod(f, true)
	case gethvm.ADDMOD:
		return h.opAddMod(f)
	case gethvm.MULMOD:
		return h.opMulMod(f)
	case gethvm.EXP:
		return h.opExp(f)
	case gethvm.SIGNEXTEND:
		return h.opSignExtend(f)
	case gethvm.LT, gethvm.GT, gethvm.SLT, gethvm.SGT, gethvm.EQ:
		return h.opCompare(f, op)
	case gethvm.ISZERO:
		if s.len() < 1 {
			return haltError, 0
		}
		top := s.peek(0)
		if top.IsZero() {
			top.SetOne()
		} else {
			top.Clear()
		}
		return haltNone, f.pc + 1
	case gethvm.AND, gethvm.OR, gethvm.XOR:
		return h.opBitwise(f, op)
	case gethvm.NOT:
		if s.len() < 1 {
			return haltError, 0
		}
		top := s.peek(0)
		top.Not(top)
		return haltNone, f.pc + 1
	case gethvm.BYTE:
		return h.opByte(f)
	case gethvm.SHL, gethvm.SHR, gethvm.SAR:
		return h.opShift(f, op)
	case gethvm.SHA3:
		return h.opSha3(f)
	case gethvm.ADDRESS:
		return h.pushAddress(f, f.Address)
	case gethvm.CALLER:
		return h.pushAddress(f, f.Caller)
	case gethvm.ORIGIN:
		return h.pushAddress(f, f.Origin)
	case gethvm.CALLVALUE:
		s.push(f.Value)
		return haltNone, f.pc + 1
	case gethvm.CALLDATALOAD:
		return h.opCallDataLoad(f)
	case gethvm.CALLDATASIZE:
		v := uint256.NewInt(uint64(len(f.CallData)))
		s.push(v)
		return haltNone, f.pc + 1
	case gethvm.CALLDATACOPY:
		return h.opDataCopy(f, f.CallData)
	case gethvm.CODESIZE:
		v := uint256.NewInt(uint64(len(f.Code.Code)))
		s.push(v)
		return haltNone, f.pc + 1
	case gethvm.CODECOPY:
		return h.opDataCopy(f, f.Code.Code)
	case gethvm.RETURNDATASIZE:
		v := uint256.NewInt(uint64(len(f.returnData)))
		s.push(v)
		return haltNone, f.pc + 1
	case gethvm.RETURNDATACOPY:
		return h.opDataCopy(f, f.returnData)
	case gethvm.BALANCE:
		if s.len() < 1 {
			return haltError, 0
		}
		addr := addressFromWord(s.peek(0))
		bal := h.Balance(addr)
		s.peek(0).Set(bal)
		return haltNone, f.pc + 1
	case gethvm.SELFBALANCE:
		s.push(h.Balance(f.Address))
		return haltNone, f.pc + 1
	case gethvm.GAS:
		s.push(uint256.NewInt(f.gasLimit))
		return haltNone, f.pc + 1
	case gethvm.POP:
		if s.len() < 1 {
			return haltError, 0
		}
		s.pop()
		return haltNone, f.pc + 1
	case gethvm.MLOAD:
		if s.len() < 1 {
			return haltError, 0
		}
		off := s.peek(0)
		word := f.memory.GetPtr(off.Uint64(), 32)
		s.peek(0).SetBytes(word)
		return haltNone, f.pc + 1
	case gethvm.MSTORE:
		if s.len() < 2 {
			return haltError, 0
		}
		off := s.pop()
		val := s.pop()
		f.memory.Set32(off.Uint64(), &val)
		return haltNone, f.pc + 1
	case gethvm.MSTORE8:
		if s.len() < 2 {
			return haltError, 0
		}
		off := s.pop()
		val := s.pop()
		f.memory.Set(off.Uint64(), 1, []byte{byte(val.Uint64())})
		return haltNone, f.pc + 1
	case gethvm.MSIZE:
		s.push(uint256.NewInt(uint64(f.memory.Len())))
		return haltNone, f.pc + 1
	case gethvm.SLOAD:
		if s.len() < 1 {
			return haltError, 0
		}
		slot := s.peek(0)
		v := h.SLoad(f.Address, *slot)
		s.peek(0).Set(&v)
		return haltNone, f.pc + 1
	case gethvm.SSTORE:
		if s.len() < 2 {
			return haltError, 0
		}
		slot := s.pop()
		val := s.pop()
		h.SStore(f.Address, slot, val)
		return haltNone, f.pc + 1
	case gethvm.JUMP:
		if s.len() < 1 {
			return haltError, 0
		}
		dest := s.pop()
		if !f.Code.isJumpDest(dest.Uint64()) {
			return haltError, 0
		}
		return haltNone, dest.Uint64()
	case gethvm.JUMPI:
		return h.opJumpI(f)
	case gethvm.PC:
		s.push(uint256.NewInt(f.pc))
		return haltNone, f.pc + 1
	case gethvm.JUMPDEST:
		return haltNone, f.pc + 1
	case gethvm.RETURN:
		return h.opHalt(f, haltReturn)
	case gethvm.REVERT:
		return h.opHalt(f, haltRevert)
	case gethvm.INVALID:
		return haltError, 0
	case gethvm.SELFDESTRUCT:
		if s.len() < 1 {
			return haltError, 0
		}
		target := addressFromWord(s.peek(0))
		h.SelfDestruct(f.Address, f.pc, target)
		return haltSelfDestruct, f.pc
	case gethvm.CALL, gethvm.CALLCODE, gethvm.DELEGATECALL, gethvm.STATICCALL:
		return h.opCall(f, op)
	case gethvm.CREATE, gethvm.CREATE2:
		return h.opCreate(f, op)
	default:
		// Unknown opcode: per spec.md §7, skip without mutating VMState.
		return haltNone, f.pc + 1
	}
}

func (h *Host) opHalt(f *Frame, reason haltReason) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	off := f.stack.pop()
	size := f.stack.pop()
	f.output = f.memory.GetCopy(off.Uint64(), size.Uint64())
	return reason, f.pc
}

func (h *Host) opPush(f *Frame, n int) (haltReason, uint64) {
	start := f.pc + 1
	end := start + uint64(n)
	code := f.Code.Code
	var buf [32]byte
	for i := 0; i < n; i++ {
		idx := start + uint64(i)
		if idx < uint64(len(code)) {
			buf[32-n+i] = code[idx]
		}
	}
	v := new(uint256.Int).SetBytes(buf[32-n:])
	f.stack.push(v)
	return haltNone, end
}

// opArith performs a binary arithmetic opcode. Overflow detection for the
// IntegerOverflow oracle is NOT done here: it is the IntegerOverflow
// middleware's job, observing the pre-execution stack during OnStep, per
// spec.md §4.2's middleware-owns-instrumentation design.
func (h *Host) opArith(f *Frame, op string, fn func(z, x, y *uint256.Int) bool) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	x := f.stack.pop()
	y := f.stack.peek(0)
	fn(y, &x, y)
	return haltNone, f.pc + 1
}

func (h *Host) opDiv(f *Frame, signed bool) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	x := f.stack.pop()
	y := f.stack.peek(0)
	if signed {
		y.SDiv(&x, y)
	} else {
		y.Div(&x, y)
	}
	return haltNone, f.pc + 1
}

func (h *Host) opMod(f *Frame, signed bool) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	x := f.stack.pop()
	y := f.stack.peek(0)
	if signed {
		y.SMod(&x, y)
	} else {
		y.Mod(&x, y)
	}
	return haltNone, f.pc + 1
}

func (h *Host) opAddMod(f *Frame) (haltReason, uint64) {
	if f.stack.len() < 3 {
		return haltError, 0
	}
	x := f.stack.pop()
	y := f.stack.pop()
	m := f.stack.peek(0)
	m.AddMod(&x, &y, m)
	return haltNone, f.pc + 1
}

func (h *Host) opMulMod(f *Frame) (haltReason, uint64) {
	if f.stack.len() < 3 {
		return haltError, 0
	}
	x := f.stack.pop()
	y := f.stack.pop()
	m := f.stack.peek(0)
	m.MulMod(&x, &y, m)
	return haltNone, f.pc + 1
}

func (h *Host) opExp(f *Frame) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	base := f.stack.pop()
	exp := f.stack.peek(0)
	exp.Exp(&base, exp)
	return haltNone, f.pc + 1
}

func (h *Host) opSignExtend(f *Frame) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	b := f.stack.pop()
	x := f.stack.peek(0)
	x.ExtendSign(x, &b)
	return haltNone, f.pc + 1
}

func (h *Host) opCompare(f *Frame, op gethvm.OpCode) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	x := f.stack.pop()
	y := f.stack.peek(0)
	var result bool
	switch op {
	case gethvm.LT:
		result = x.Lt(y)
	case gethvm.GT:
		result = x.Gt(y)
	case gethvm.SLT:
		result = x.Slt(y)
	case gethvm.SGT:
		result = x.Sgt(y)
	case gethvm.EQ:
		result = x.Eq(y)
	}
	h.RecordComparisonHint(x)
	if result {
		y.SetOne()
	} else {
		y.Clear()
	}
	return haltNone, f.pc + 1
}

func (h *Host) opBitwise(f *Frame, op gethvm.OpCode) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	x := f.stack.pop()
	y := f.stack.peek(0)
	switch op {
	case gethvm.AND:
		y.And(&x, y)
	case gethvm.OR:
		y.Or(&x, y)
	case gethvm.XOR:
		y.Xor(&x, y)
	}
	return haltNone, f.pc + 1
}

func (h *Host) opByte(f *Frame) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	i := f.stack.pop()
	x := f.stack.peek(0)
	x.Byte(&i)
	return haltNone, f.pc + 1
}

func (h *Host) opShift(f *Frame, op gethvm.OpCode) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	shift := f.stack.pop()
	val := f.stack.peek(0)
	switch op {
	case gethvm.SHL:
		val.Lsh(val, uint(shift.Uint64()))
	case gethvm.SHR:
		val.Rsh(val, uint(shift.Uint64()))
	case gethvm.SAR:
		val.SRsh(val, uint(shift.Uint64()))
	}
	return haltNone, f.pc + 1
}

func (h *Host) opJumpI(f *Frame) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	dest := f.stack.pop()
	cond := f.stack.pop()
	taken := !cond.IsZero()
	h.RecordBranch(f.Address, f.pc, taken)
	if taken {
		if !f.Code.isJumpDest(dest.Uint64()) {
			return haltError, 0
		}
		return haltNone, dest.Uint64()
	}
	return haltNone, f.pc + 1
}

func (h *Host) opCallDataLoad(f *Frame) (haltReason, uint64) {
	if f.stack.len() < 1 {
		return haltError, 0
	}
	off := f.stack.peek(0)
	offset := off.Uint64()
	var buf [32]byte
	for i := 0; i < 32; i++ {
		idx := offset + uint64(i)
		if idx < uint64(len(f.CallData)) {
			buf[i] = f.CallData[idx]
		}
	}
	off.SetBytes(buf[:])
	return haltNone, f.pc + 1
}

func (h *Host) opDataCopy(f *Frame, src []byte) (haltReason, uint64) {
	if f.stack.len() < 3 {
		return haltError, 0
	}
	destOff := f.stack.pop()
	srcOff := f.stack.pop()
	size := f.stack.pop()
	so, sz := srcOff.Uint64(), size.Uint64()
	buf := make([]byte, sz)
	for i := uint64(0); i < sz; i++ {
		idx := so + i
		if idx < uint64(len(src)) {
			buf[i] = src[idx]
		}
	}
	f.memory.Set(destOff.Uint64(), sz, buf)
	return haltNone, f.pc + 1
}

func (h *Host) opSha3(f *Frame) (haltReason, uint64) {
	if f.stack.len() < 2 {
		return haltError, 0
	}
	off := f.stack.pop()
	size := f.stack.peek(0)
	data := f.memory.GetCopy(off.Uint64(), size.Uint64())
	digest := ifuzzcrypto.Keccak256(data)
	size.SetBytes(digest)
	return haltNone, f.pc + 1
}

func (h *Host) opLog(f *Frame, topicCount int) (haltReason, uint64) {
	if f.stack.len() < 2+topicCount {
		return haltError, 0
	}
	f.stack.pop() // offset
	f.stack.pop() // size
	for i := 0; i < topicCount; i++ {
		f.stack.pop()
	}
	return haltNone, f.pc + 1
}

func (h *Host) pushAddress(f *Frame, addr [20]byte) (haltReason, uint64) {
	v := new(uint256.Int).SetBytes(addr[:])
	f.stack.push(v)
	return haltNone, f.pc + 1
}

func addressFromWord(w *uint256.Int) [20]byte {
	b := w.Bytes20()
	return b
}
