package vm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sstoreThenStop: PUSH1 5, PUSH1 1, SSTORE, STOP — writes slot 1 = 5.
var sstoreThenStop = []byte{0x60, 0x05, 0x60, 0x01, 0x55, 0x00}

// sstoreThenRevert: same write, followed by PUSH1 0, PUSH1 0, REVERT.
var sstoreThenRevert = []byte{0x60, 0x05, 0x60, 0x01, 0x55, 0x60, 0x00, 0x60, 0x00, 0xfd}

func TestExecuteNoCodeAtTarget(t *testing.T) {
	e := NewExecutor(NewHost())
	_, err := e.Execute(CallParams{Contract: common.HexToAddress("0x1")})
	assert.ErrorIs(t, err, ErrNoCodeAtTarget)
}

func TestExecuteCommitsStateOnSuccess(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	e.Host.SetCode(contract, sstoreThenStop, nil)

	res, err := e.Execute(CallParams{Contract: contract})
	require.NoError(t, err)
	assert.False(t, res.Reverted)
	assert.Same(t, res.NewState, e.Host.State)

	got := e.Host.State.SLoad(contract, *uint256.NewInt(1))
	assert.Equal(t, uint64(5), got.Uint64())
}

func TestExecuteRevertedTransactionLeavesNoTrace(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	e.Host.SetCode(contract, sstoreThenRevert, nil)

	preState := e.Host.State
	res, err := e.Execute(CallParams{Contract: contract})
	require.NoError(t, err)
	assert.True(t, res.Reverted)

	// Host.State was restored to the exact pre-call state, not merely an
	// equivalent clone of it.
	assert.Same(t, preState, e.Host.State)
	got := e.Host.State.SLoad(contract, *uint256.NewInt(1))
	assert.True(t, got.IsZero())
}

func TestExecuteInsufficientBalanceRevertsBeforeRunning(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	caller := common.HexToAddress("0x2")
	// Bytecode would write a slot if it ran; it must never get the chance.
	e.Host.SetCode(contract, sstoreThenStop, nil)

	preState := e.Host.State
	res, err := e.Execute(CallParams{Caller: caller, Contract: contract, Value: uint256.NewInt(1)})
	require.NoError(t, err)
	assert.True(t, res.Reverted)
	assert.Same(t, preState, e.Host.State)
	assert.True(t, e.Host.State.SLoad(contract, *uint256.NewInt(1)).IsZero())
}

func TestExecuteTransfersValueOnSuccess(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	caller := common.HexToAddress("0x2")
	e.Host.SetCode(contract, []byte{0x00}, nil) // STOP
	e.Host.SetBalance(caller, uint256.NewInt(100))

	res, err := e.Execute(CallParams{Caller: caller, Contract: contract, Value: uint256.NewInt(30)})
	require.NoError(t, err)
	assert.False(t, res.Reverted)
	assert.Equal(t, uint64(70), e.Host.Balance(caller).Uint64())
	assert.Equal(t, uint64(30), e.Host.Balance(contract).Uint64())
}

func TestExecuteRecordsCoverageChangedOnBranch(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	// PUSH1 1, PUSH1 6, JUMPI, STOP, JUMPDEST(6), STOP — JUMPI at pc 4 is taken
	code := []byte{0x60, 0x01, 0x60, 0x06, 0x57, 0x00, 0x5b, 0x00}
	e.Host.SetCode(contract, code, nil)

	res, err := e.Execute(CallParams{Contract: contract})
	require.NoError(t, err)
	assert.False(t, res.Reverted)
	assert.True(t, res.CoverageChanged)
	assert.NotEmpty(t, res.BranchEvents)
}

func TestCallLiveNoCodeAtTarget(t *testing.T) {
	e := NewExecutor(NewHost())
	_, ok, err := e.CallLive(CallParams{Contract: common.HexToAddress("0x1")})
	assert.ErrorIs(t, err, ErrNoCodeAtTarget)
	assert.False(t, ok)
}

func TestCallLiveMutatesLiveStateDirectlyOnSuccess(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	e.Host.SetCode(contract, sstoreThenStop, nil)

	_, ok, err := e.CallLive(CallParams{Contract: contract})
	require.NoError(t, err)
	assert.True(t, ok)

	// Unlike Execute, CallLive never clones: the write lands on e.Host.State
	// directly, live.
	got := e.Host.State.SLoad(contract, *uint256.NewInt(1))
	assert.Equal(t, uint64(5), got.Uint64())
}

func TestCallLiveMutatesLiveStateEvenOnRevert(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	e.Host.SetCode(contract, sstoreThenRevert, nil)

	_, ok, err := e.CallLive(CallParams{Contract: contract})
	require.NoError(t, err)
	assert.False(t, ok)

	// CallLive does not undo writes on revert: the SSTORE ran before the
	// REVERT, and with no clone to restore from the write stays on the live
	// state.
	got := e.Host.State.SLoad(contract, *uint256.NewInt(1))
	assert.Equal(t, uint64(5), got.Uint64())
}

func TestCallLiveInsufficientBalanceReturnsFalseNoError(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	caller := common.HexToAddress("0x2")
	e.Host.SetCode(contract, []byte{0x00}, nil)

	_, ok, err := e.CallLive(CallParams{Caller: caller, Contract: contract, Value: uint256.NewInt(1)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCallPostBatchDynNeverMutatesLiveState(t *testing.T) {
	host := NewHost()
	e := NewExecutor(host)
	contract := common.HexToAddress("0x1")
	host.SetCode(contract, sstoreThenStop, nil)

	liveState := host.State
	res, err := e.CallPostBatchDyn(liveState, CallParams{Contract: contract})
	require.NoError(t, err)
	assert.False(t, res.Reverted)

	// The clone absorbed the write; the live state passed in did not, and
	// Host.State was restored to it afterward.
	assert.Same(t, liveState, host.State)
	assert.True(t, liveState.SLoad(contract, *uint256.NewInt(1)).IsZero())
	assert.Equal(t, uint64(5), res.NewState.SLoad(contract, *uint256.NewInt(1)).Uint64())
}

func TestOpCallToSymbolicTargetRecordsArbitraryCall(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	target := common.HexToAddress("0x2")
	e.Host.SetCode(target, []byte{0x00}, nil) // STOP
	e.Host.MarkSymbolicTarget(target)

	// gas, target, value, argsOff, argsSize, retOff, retSize, CALL, STOP
	code := []byte{
		0x60, 0x00, // retSize
		0x60, 0x00, // retOff
		0x60, 0x00, // argsSize
		0x60, 0x00, // argsOff
		0x60, 0x00, // value
	}
	code = append(code, 0x73) // PUSH20 target
	code = append(code, target.Bytes()...)
	code = append(code, 0x60, 0x00, // gas
		0xf1, // CALL
		0x00, // STOP
	)
	e.Host.SetCode(contract, code, nil)

	res, err := e.Execute(CallParams{Contract: contract})
	require.NoError(t, err)
	require.False(t, res.Reverted)

	sites := e.Host.State.ArbitraryCallSites()
	require.Len(t, sites, 1)
	assert.Equal(t, target, sites[0].Target)
}

func TestOpCallToUnmarkedTargetRecordsNoArbitraryCall(t *testing.T) {
	e := NewExecutor(NewHost())
	contract := common.HexToAddress("0x1")
	target := common.HexToAddress("0x2")
	e.Host.SetCode(target, []byte{0x00}, nil)

	code := []byte{
		0x60, 0x00,
		0x60, 0x00,
		0x60, 0x00,
		0x60, 0x00,
		0x60, 0x00,
	}
	code = append(code, 0x73)
	code = append(code, target.Bytes()...)
	code = append(code, 0x60, 0x00, 0xf1, 0x00)
	e.Host.SetCode(contract, code, nil)

	res, err := e.Execute(CallParams{Contract: contract})
	require.NoError(t, err)
	require.False(t, res.Reverted)
	assert.Empty(t, e.Host.State.ArbitraryCallSites())
}

func TestCallPostBatchDynNoCodeAtTarget(t *testing.T) {
	host := NewHost()
	e := NewExecutor(host)
	_, err := e.CallPostBatchDyn(host.State, CallParams{Contract: common.HexToAddress("0x1")})
	assert.ErrorIs(t, err, ErrNoCodeAtTarget)
}
