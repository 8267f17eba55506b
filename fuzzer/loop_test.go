package fuzzer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	"github.com/fuzzland/ityfuzz-go/core/vm/middlewares"
	"github.com/fuzzland/ityfuzz-go/feedback"
)

func newTestLoop(t *testing.T) (*Loop, common.Address) {
	t.Helper()
	host := fuzzvm.NewHost()
	cov := middlewares.NewCoverage()
	host.Middlewares.Add(cov)
	executor := fuzzvm.NewExecutor(host)

	contract := common.HexToAddress("0x1")
	host.SetCode(contract, sstoreProgram, nil)

	corpus := NewCorpus()
	infants := NewInfantStateCorpus()
	sched := NewPowerABIScheduler(corpus)
	mutator := NewMutator(1, nil, nil, infants, sched)
	oracles := feedback.NewOracleFeedback(nil)

	loop := NewLoop(executor, corpus, infants, sched, mutator, oracles, cov, t.TempDir(), middlewares.NoopSolver{}, 2, nil)
	return loop, contract
}

func TestNewLoopWiresStagesOverSharedState(t *testing.T) {
	loop, _ := newTestLoop(t)
	assert.Same(t, loop.Corpus, loop.Mutational.Corpus)
	assert.Same(t, loop.Corpus, loop.Coverage.Corpus)
	assert.Same(t, loop.Corpus, loop.Concolic.Corpus)
	assert.Same(t, loop.Scheduler, loop.Mutational.Scheduler)
}

func TestLoopSeedRegistersTestcasesWithScheduler(t *testing.T) {
	loop, contract := newTestLoop(t)
	loop.Seed([]*EVMInput{{Contract: contract}})

	assert.Equal(t, 1, loop.Corpus.Count())
	assert.Equal(t, 0, loop.Scheduler.Branches.UncoveredCount(0))
}

func TestLoopRunOnceAdvancesIterationsAndCorpus(t *testing.T) {
	loop, contract := newTestLoop(t)
	loop.Seed([]*EVMInput{{Contract: contract}})

	err := loop.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loop.iterations)
	assert.Greater(t, loop.Corpus.Count(), 1)
}

func TestLoopRunOnceEmptyCorpusReturnsError(t *testing.T) {
	loop, _ := newTestLoop(t)
	err := loop.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestLoopRunStopsOnCancelledContext(t *testing.T) {
	loop, contract := newTestLoop(t)
	loop.Seed([]*EVMInput{{Contract: contract}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := loop.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), loop.iterations)
}

func TestReexecutorRunsAgainstPreStateWithoutMutatingLiveState(t *testing.T) {
	host := fuzzvm.NewHost()
	executor := fuzzvm.NewExecutor(host)
	contract := common.HexToAddress("0x1")
	host.SetCode(contract, sstoreProgram, nil)

	preState := host.State
	reexec := NewReexecutor(executor)

	err := reexec.ReexecuteWithMiddleware(preState, fuzzvm.CallParams{Contract: contract}, middlewares.NewSha3Taint())
	require.NoError(t, err)

	assert.Same(t, preState, host.State)
}
