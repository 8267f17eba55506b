package middlewares

import fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"

// PreimageRange is one memory byte range the tainted run observed flowing
// into a SHA3 opcode.
type PreimageRange struct {
	Offset uint64
	Size   uint64
}

// Sha3Taint re-executes an interesting input while recording every memory
// range read by a SHA3 opcode, so the mutator can align byte-level havoc to
// hash preimages instead of blindly mutating digest outputs (spec.md §4.3,
// §4.6). It is attached only for the single re-execution the Sha3-wrapped
// feedback performs, then discarded -- it carries no campaign-long state.
type Sha3Taint struct {
	Preimages []PreimageRange
}

// NewSha3Taint returns an empty tracker for one re-execution.
func NewSha3Taint() *Sha3Taint {
	return &Sha3Taint{}
}

func (m *Sha3Taint) Kind() fuzzvm.Kind { return fuzzvm.KindSha3Taint }

func (m *Sha3Taint) OnStep(ctxt *fuzzvm.StepContext, host *fuzzvm.Host) {
	if ctxt.Op != 0x20 { // SHA3
		return
	}
	if ctxt.StackLen() < 2 {
		return
	}
	offset := ctxt.StackPeek(0)
	size := ctxt.StackPeek(1)
	if offset == nil || size == nil {
		return
	}
	m.Preimages = append(m.Preimages, PreimageRange{Offset: offset.Uint64(), Size: size.Uint64()})
}

var _ fuzzvm.Middleware = (*Sha3Taint)(nil)
