package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// invariantCaller is the fixed sender every invariant replay call uses,
// matching the distillation's 0x...7777 convention -- a reserved address
// no deployed contract would legitimately use as msg.sender.
var invariantCaller = common.HexToAddress("0x0000000000000000000000000000000000007777")

// InvariantCheck is one pre-registered read-only-by-convention call this
// oracle replays against PostState after every transaction, e.g. an
// `invariant_totalSupplyMatchesBalances()` view function.
type InvariantCheck struct {
	Contract common.Address
	CallData []byte
	Name     string
}

// InvariantOracle replays a fixed battery of invariant-checking calls
// against the post-transaction state and flags any call that reverts,
// grounded on oracles/invariant.rs.
type InvariantOracle struct {
	Checks []InvariantCheck
}

// NewInvariantOracle registers checks, each invoked from invariantCaller
// against its Contract with its CallData.
func NewInvariantOracle(checks []InvariantCheck) *InvariantOracle {
	return &InvariantOracle{Checks: checks}
}

func (o *InvariantOracle) Check(ctx *Context) []Finding {
	if len(o.Checks) == 0 || ctx.Executor == nil {
		return nil
	}
	out := make([]Finding, 0, len(o.Checks))
	for idx, chk := range o.Checks {
		res, err := ctx.Executor.CallPostBatchDyn(ctx.PostState, fuzzvm.CallParams{
			Caller:   invariantCaller,
			Contract: chk.Contract,
			Value:    new(uint256.Int),
			CallData: chk.CallData,
		})
		success := err == nil && !res.Reverted
		if success {
			continue
		}
		bugID := (uint64(idx) << 8) | uint64(ifuzzcommon.Invariant)
		name := chk.Name
		if name == "" {
			name = chk.Contract.Hex()
		}
		out = append(out, Finding{
			BugID:        bugID,
			Kind:         ifuzzcommon.Invariant,
			Message:      fmt.Sprintf("%s violated", name),
			ContractName: name,
		})
	}
	return out
}

var _ Oracle = (*InvariantOracle)(nil)
