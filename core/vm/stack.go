package vm

import "github.com/holiman/uint256"

// stackLimit is the EVM-defined maximum depth of the operand stack.
const stackLimit = 1024

// stack is the interpreter's 256-bit-word operand stack. It mirrors the
// push/pop/peek/dup/swap surface the opcode switch in interpreter.go needs,
// grown and indexed the way the reference interpreter's own stack type is
// driven from its opcode handlers.
type stack struct {
	data []uint256.Int
}

func newStack() *stack {
	return &stack{data: make([]uint256.Int, 0, 16)}
}

func (s *stack) len() int {
	return len(s.data)
}

func (s *stack) push(v *uint256.Int) {
	s.data = append(s.data, *v)
}

func (s *stack) pop() uint256.Int {
	n := len(s.data) - 1
	v := s.data[n]
	s.data = s.data[:n]
	return v
}

// peek returns a pointer to the n-th element from the top (0 = top), so
// opcode handlers can mutate it in place (e.g. SWAP, or an in-place ADD that
// overwrites the second operand).
func (s *stack) peek(n int) *uint256.Int {
	return &s.data[len(s.data)-1-n]
}

func (s *stack) swap(n int) {
	top := len(s.data) - 1
	s.data[top], s.data[top-n] = s.data[top-n], s.data[top]
}

// dup pushes a copy of the n-th element from the top (1 = top, matching the
// DUP1..DUP16 opcode numbering).
func (s *stack) dup(n int) {
	v := s.data[len(s.data)-n]
	s.data = append(s.data, v)
}

func (s *stack) clear() {
	s.data = s.data[:0]
}
