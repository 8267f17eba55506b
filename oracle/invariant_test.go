package oracle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

func newExecutorContext() (*fuzzvm.Executor, *Context) {
	host := fuzzvm.NewHost()
	executor := fuzzvm.NewExecutor(host)
	ctx := &Context{
		PreState:     host.State,
		PostState:    host.State,
		Executor:     executor,
		AddressNames: map[common.Address]string{},
	}
	return executor, ctx
}

func TestInvariantOracleNoChecksConfigured(t *testing.T) {
	o := NewInvariantOracle(nil)
	_, ctx := newExecutorContext()
	assert.Empty(t, o.Check(ctx))
}

func TestInvariantOracleNoExecutor(t *testing.T) {
	o := NewInvariantOracle([]InvariantCheck{{Contract: common.HexToAddress("0x1")}})
	ctx := &Context{PostState: fuzzvm.NewVMState()}
	assert.Empty(t, o.Check(ctx))
}

func TestInvariantOraclePassingCheckReportsNothing(t *testing.T) {
	executor, ctx := newExecutorContext()
	contract := common.HexToAddress("0x1")
	executor.Host.SetCode(contract, []byte{0x00}, nil) // STOP: always succeeds

	o := NewInvariantOracle([]InvariantCheck{{Contract: contract, Name: "totalSupplyMatchesBalances"}})
	assert.Empty(t, o.Check(ctx))
}

func TestInvariantOracleRevertingCheckReportsFinding(t *testing.T) {
	executor, ctx := newExecutorContext()
	contract := common.HexToAddress("0x1")
	// PUSH1 0, PUSH1 0, REVERT
	executor.Host.SetCode(contract, []byte{0x60, 0x00, 0x60, 0x00, 0xfd}, nil)

	o := NewInvariantOracle([]InvariantCheck{{Contract: contract, Name: "totalSupplyMatchesBalances"}})
	findings := o.Check(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, ifuzzcommon.Invariant, findings[0].Kind)
	assert.Contains(t, findings[0].Message, "totalSupplyMatchesBalances")
}

func TestInvariantOracleMissingContractReportsFinding(t *testing.T) {
	_, ctx := newExecutorContext()

	contract := common.HexToAddress("0xdead")
	o := NewInvariantOracle([]InvariantCheck{{Contract: contract}})
	findings := o.Check(ctx)
	require.Len(t, findings, 1)
	// No Name given: falls back to the contract's hex address.
	assert.Contains(t, findings[0].Message, contract.Hex())
}
