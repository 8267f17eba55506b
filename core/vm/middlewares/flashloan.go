package middlewares

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// reserveSlot is the Uniswap-V2 storage index holding packed
// (reserve0, reserve1, blockTimestampLast), per spec.md §4.5.
var reserveSlot = uint256.NewInt(0x08)

// Flashloan watches CALL/CALLCODE value transfers into a tracked ERC20
// (queuing a balance recheck) and SSTOREs to a known pair's reserve slot
// (queuing a reserve recheck), grounded 1:1 on the distillation's
// onchain/flashloan.rs. flashloan_data.earned itself is credited generically
// by Host.Transfer, not by this middleware.
type Flashloan struct {
	ERC20Addresses map[common.Address]bool
	PairAddresses  map[common.Address]bool
}

// NewFlashloan returns a middleware with empty routing tables; callers
// populate ERC20Addresses/PairAddresses directly. The middleware has no
// OnInsert hook and fills neither table itself.
func NewFlashloan() *Flashloan {
	return &Flashloan{
		ERC20Addresses: make(map[common.Address]bool),
		PairAddresses:  make(map[common.Address]bool),
	}
}

func (m *Flashloan) Kind() fuzzvm.Kind { return fuzzvm.KindFlashloan }

func (m *Flashloan) OnStep(ctxt *fuzzvm.StepContext, host *fuzzvm.Host) {
	switch ctxt.Op {
	case 0x55: // SSTORE
		m.onSstore(ctxt, host)
	case 0xf1, 0xf2: // CALL, CALLCODE
		m.onValueCall(ctxt, host)
	}
}

func (m *Flashloan) onSstore(ctxt *fuzzvm.StepContext, host *fuzzvm.Host) {
	if !m.PairAddresses[ctxt.Address()] {
		return
	}
	key := ctxt.StackPeek(0)
	if key == nil || key.Cmp(reserveSlot) != 0 {
		return
	}
	host.State.FlashloanData.OracleRecheckReserve.Add(ctxt.Address())
}

// onValueCall watches for CALL/CALLCODE value transfers into a tracked
// ERC20, queuing a balance recheck. Crediting flashloan_data.earned for a
// transfer into a flash-loan caller is Host.Transfer's job (it sees every
// value-bearing CALL, not just this middleware's view of the stack) --
// duplicating that credit here double-counted the same transfer.
func (m *Flashloan) onValueCall(ctxt *fuzzvm.StepContext, host *fuzzvm.Host) {
	if ctxt.StackLen() < 3 {
		return
	}
	targetWord := ctxt.StackPeek(1)
	value := ctxt.StackPeek(2)
	if targetWord == nil || value == nil || value.IsZero() {
		return
	}
	target := common.Address(targetWord.Bytes20())

	if m.ERC20Addresses[target] {
		host.State.FlashloanData.OracleRecheckBalance.Add(target)
	}
}

var _ fuzzvm.Middleware = (*Flashloan)(nil)
