package middlewares

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

func newCoverageExecutor() (*fuzzvm.Executor, *Coverage) {
	host := fuzzvm.NewHost()
	cov := NewCoverage()
	host.Middlewares.Add(cov)
	return fuzzvm.NewExecutor(host), cov
}

func TestCoverageKind(t *testing.T) {
	assert.Equal(t, fuzzvm.KindCoverage, NewCoverage().Kind())
}

func TestCoverageMarksSiteVisitedOnce(t *testing.T) {
	executor, cov := newCoverageExecutor()
	contract := common.HexToAddress("0x1")
	executor.Host.SetCode(contract, []byte{0x00}, nil) // STOP

	assert.Equal(t, 0, cov.VisitedCount())
	_, err := executor.Execute(fuzzvm.CallParams{Contract: contract})
	require.NoError(t, err)
	assert.Equal(t, 1, cov.VisitedCount())
	assert.True(t, cov.NewBitsSinceSnapshot())

	// Re-running the identical STOP site adds no new bit.
	_, err = executor.Execute(fuzzvm.CallParams{Contract: contract})
	require.NoError(t, err)
	assert.Equal(t, 1, cov.VisitedCount())
}

func TestCoverageRecordInstructionCoverageClearsSnapshotFlag(t *testing.T) {
	executor, cov := newCoverageExecutor()
	contract := common.HexToAddress("0x1")
	executor.Host.SetCode(contract, []byte{0x00}, nil)

	_, err := executor.Execute(fuzzvm.CallParams{Contract: contract})
	require.NoError(t, err)
	assert.True(t, cov.NewBitsSinceSnapshot())

	n := cov.RecordInstructionCoverage()
	assert.Equal(t, 1, n)
	assert.False(t, cov.NewBitsSinceSnapshot())
}

func TestCoverageTracksComparisonConstant(t *testing.T) {
	executor, cov := newCoverageExecutor()
	contract := common.HexToAddress("0x1")
	// PUSH1 1, PUSH1 2, LT, STOP
	executor.Host.SetCode(contract, []byte{0x60, 0x01, 0x60, 0x02, 0x10, 0x00}, nil)

	_, err := executor.Execute(fuzzvm.CallParams{Contract: contract})
	require.NoError(t, err)

	key := coverageKey{Addr: contract, Pc: 4}
	assert.True(t, cov.comparedConstant[key])
}

func TestCoverageDistinctSitesAccumulate(t *testing.T) {
	executor, cov := newCoverageExecutor()
	a := common.HexToAddress("0x1")
	b := common.HexToAddress("0x2")
	executor.Host.SetCode(a, []byte{0x00}, nil)
	executor.Host.SetCode(b, []byte{0x00}, nil)

	_, err := executor.Execute(fuzzvm.CallParams{Contract: a})
	require.NoError(t, err)
	_, err = executor.Execute(fuzzvm.CallParams{Contract: b})
	require.NoError(t, err)

	assert.Equal(t, 2, cov.VisitedCount())
}
