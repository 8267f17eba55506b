package fuzzer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	"github.com/fuzzland/ityfuzz-go/core/vm/middlewares"
	"github.com/fuzzland/ityfuzz-go/feedback"
	"github.com/fuzzland/ityfuzz-go/oracle"
)

// sstoreProgram: PUSH1 5, PUSH1 1, SSTORE, STOP — writes slot 1 = 5 and
// touches no branch, so it is only "interesting" via new coverage, never
// via a branch event.
var sstoreProgram = []byte{0x60, 0x05, 0x60, 0x01, 0x55, 0x00}

func newMutationalStage(t *testing.T) (*MutationalStage, common.Address) {
	t.Helper()
	host := fuzzvm.NewHost()
	cov := middlewares.NewCoverage()
	host.Middlewares.Add(cov)
	executor := fuzzvm.NewExecutor(host)

	contract := common.HexToAddress("0x1")
	host.SetCode(contract, sstoreProgram, nil)

	corpus := NewCorpus()
	seed := &EVMInput{Contract: contract}
	corpus.Add(NewTestcase(seed, -1))

	sched := NewPowerABIScheduler(corpus)
	mutator := NewMutator(1, nil, nil, NewInfantStateCorpus(), sched)
	oracles := feedback.NewOracleFeedback(nil)

	stage := &MutationalStage{
		Executor:  executor,
		Corpus:    corpus,
		Infants:   NewInfantStateCorpus(),
		Scheduler: sched,
		Mutator:   mutator,
		Feedback:  feedback.CombinedFeedback{Oracle: oracles},
		Oracles:   oracles,
		Coverage:  cov,
	}
	return stage, contract
}

func TestMutationalStagePerformAdmitsNewCoverage(t *testing.T) {
	stage, _ := newMutationalStage(t)
	require.Equal(t, 1, stage.Corpus.Count())

	err := stage.Perform()
	require.NoError(t, err)

	// The seed's own first execution observes fresh instruction coverage, so
	// at least one mutant should have been admitted.
	assert.Greater(t, stage.Corpus.Count(), 1)
}

func TestMutationalStagePerformEmptyCorpusReturnsErrCorpusEmpty(t *testing.T) {
	host := fuzzvm.NewHost()
	executor := fuzzvm.NewExecutor(host)
	corpus := NewCorpus()
	sched := NewPowerABIScheduler(corpus)
	stage := &MutationalStage{
		Executor:  executor,
		Corpus:    corpus,
		Infants:   NewInfantStateCorpus(),
		Scheduler: sched,
		Mutator:   NewMutator(1, nil, nil, NewInfantStateCorpus(), sched),
		Feedback:  feedback.CombinedFeedback{},
		Oracles:   feedback.NewOracleFeedback(nil),
		Coverage:  middlewares.NewCoverage(),
	}
	err := stage.Perform()
	assert.Error(t, err)
}

type alwaysFindingOracle struct{}

func (alwaysFindingOracle) Check(ctx *oracle.Context) []oracle.Finding {
	return []oracle.Finding{{BugID: 123, Message: "test finding"}}
}

func TestMutationalStageEvaluateAdmitsOracleFinding(t *testing.T) {
	stage, contract := newMutationalStage(t)
	stage.Oracles = feedback.NewOracleFeedback([]oracle.Oracle{alwaysFindingOracle{}})
	stage.Feedback = feedback.CombinedFeedback{Oracle: stage.Oracles}

	before := stage.Corpus.Count()
	stage.evaluate(&EVMInput{Contract: contract}, 0)
	assert.Greater(t, stage.Corpus.Count(), before)
}

func TestMutationalStageEvaluateSkipsUninterestingRepeat(t *testing.T) {
	stage, contract := newMutationalStage(t)
	// Run the same input twice: the second run produces no new coverage
	// (Coverage is campaign-long) and no oracle findings, so it must not be
	// admitted a second time.
	stage.evaluate(&EVMInput{Contract: contract}, 0)
	afterFirst := stage.Corpus.Count()
	stage.evaluate(&EVMInput{Contract: contract}, 0)
	assert.Equal(t, afterFirst, stage.Corpus.Count())
}
