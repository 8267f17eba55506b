package fuzzer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

func TestBranchCoveredStatusMerge(t *testing.T) {
	s, completed := BranchTrue.merge(true)
	assert.Equal(t, BranchTrue, s)
	assert.False(t, completed)

	s, completed = BranchTrue.merge(false)
	assert.Equal(t, BranchBoth, s)
	assert.True(t, completed)

	s, completed = BranchFalse.merge(true)
	assert.Equal(t, BranchBoth, s)
	assert.True(t, completed)

	s, completed = BranchBoth.merge(true)
	assert.Equal(t, BranchBoth, s)
	assert.False(t, completed)
}

func TestBranchStatusFrom(t *testing.T) {
	assert.Equal(t, BranchTrue, branchStatusFrom(true))
	assert.Equal(t, BranchFalse, branchStatusFrom(false))
}

func TestSchedulerOnAddNewBranchIncreasesUncovered(t *testing.T) {
	corpus := NewCorpus()
	idx := corpus.Add(NewTestcase(&EVMInput{}, -1))
	sched := NewPowerABIScheduler(corpus)

	addr := common.HexToAddress("0x1")
	sched.OnAdd(idx, []fuzzvm.BranchTaken{{Addr: addr, Pc: 10, Taken: true}})

	assert.Equal(t, 1, sched.Branches.UncoveredCount(idx))
}

func TestSchedulerOnAddCompletingBranchCreditsDownOtherTestcases(t *testing.T) {
	corpus := NewCorpus()
	idx0 := corpus.Add(NewTestcase(&EVMInput{}, -1))
	idx1 := corpus.Add(NewTestcase(&EVMInput{}, -1))
	sched := NewPowerABIScheduler(corpus)

	addr := common.HexToAddress("0x1")
	sched.OnAdd(idx0, []fuzzvm.BranchTaken{{Addr: addr, Pc: 10, Taken: true}})
	require.Equal(t, 1, sched.Branches.UncoveredCount(idx0))

	// idx1 observes the opposite branch direction, completing the pair and
	// crediting down idx0's uncovered count.
	sched.OnAdd(idx1, []fuzzvm.BranchTaken{{Addr: addr, Pc: 10, Taken: false}})
	assert.Equal(t, 0, sched.Branches.UncoveredCount(idx0))
	assert.Equal(t, 0, sched.Branches.UncoveredCount(idx1))
}

func TestSchedulerOnAddDedupsRepeatedEventsInSingleCall(t *testing.T) {
	corpus := NewCorpus()
	idx := corpus.Add(NewTestcase(&EVMInput{}, -1))
	sched := NewPowerABIScheduler(corpus)

	addr := common.HexToAddress("0x1")
	events := []fuzzvm.BranchTaken{
		{Addr: addr, Pc: 10, Taken: true},
		{Addr: addr, Pc: 10, Taken: true},
	}
	sched.OnAdd(idx, events)
	assert.Equal(t, 1, sched.Branches.UncoveredCount(idx))
}

func TestSchedulerNextDelegatesToCorpus(t *testing.T) {
	corpus := NewCorpus()
	corpus.Add(NewTestcase(&EVMInput{}, -1))
	sched := NewPowerABIScheduler(corpus)

	idx, err := sched.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestSchedulerScoreClampsToBounds(t *testing.T) {
	corpus := NewCorpus()
	idx := corpus.Add(NewTestcase(&EVMInput{}, -1))
	sched := NewPowerABIScheduler(corpus)

	// No branch events recorded: uncovered=0, power=(0+1)*3=3, within bounds.
	assert.Equal(t, 3.0, sched.Score(idx))

	// Drive uncovered count high enough that power clamps to MaxPower.
	addr := common.HexToAddress("0x1")
	events := make([]fuzzvm.BranchTaken, 0, 50)
	for pc := uint64(0); pc < 50; pc++ {
		events = append(events, fuzzvm.BranchTaken{Addr: addr, Pc: pc, Taken: true})
	}
	sched.OnAdd(idx, events)
	assert.Equal(t, MaxPower, sched.Score(idx))
}

func TestUncoveredBranchesMetadataUncoveredCountDefaultsZero(t *testing.T) {
	m := NewUncoveredBranchesMetadata()
	assert.Equal(t, 0, m.UncoveredCount(42))
}
