package fuzzer

import (
	"github.com/ethereum/go-ethereum/common"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// Power schedule bounds, per spec.md §4.7.
const (
	MinPower        = 1.0
	MaxPower        = 100.0
	PowerMultiplier = 3.0
)

// BranchCoveredStatus is the True/False/Both state of one (address, pc)
// branch, grounded 1:1 on scheduler.rs's BranchCoveredStatus.
type BranchCoveredStatus byte

const (
	BranchTrue BranchCoveredStatus = iota
	BranchFalse
	BranchBoth
)

// merge folds a newly observed branch-taken bit into the current status,
// returning the new status and whether this observation newly completed it
// (transitioned into BranchBoth).
func (s BranchCoveredStatus) merge(taken bool) (BranchCoveredStatus, bool) {
	switch s {
	case BranchBoth:
		return BranchBoth, false
	case BranchTrue:
		if taken {
			return BranchTrue, false
		}
		return BranchBoth, true
	case BranchFalse:
		if !taken {
			return BranchFalse, false
		}
		return BranchBoth, true
	default:
		return s, false
	}
}

func branchStatusFrom(taken bool) BranchCoveredStatus {
	if taken {
		return BranchTrue
	}
	return BranchFalse
}

type branchKey struct {
	Addr common.Address
	Pc   uint64
}

// UncoveredBranchesMetadata is the campaign-wide bookkeeping the power
// schedule's score() reads: how many still-uncovered branches each testcase
// is credited with, grounded 1:1 on scheduler.rs's UncoveredBranchesMetadata.
type UncoveredBranchesMetadata struct {
	branchToTestcases          map[branchKey]map[int]bool
	testcaseToUncoveredBranches map[int]int
	branchStatus               map[branchKey]BranchCoveredStatus
}

// NewUncoveredBranchesMetadata returns empty bookkeeping.
func NewUncoveredBranchesMetadata() *UncoveredBranchesMetadata {
	return &UncoveredBranchesMetadata{
		branchToTestcases:           make(map[branchKey]map[int]bool),
		testcaseToUncoveredBranches: make(map[int]int),
		branchStatus:                make(map[branchKey]BranchCoveredStatus),
	}
}

// UncoveredCount returns the number of branches still credited to idx.
func (m *UncoveredBranchesMetadata) UncoveredCount(idx int) int {
	return m.testcaseToUncoveredBranches[idx]
}

// PowerABIScheduler is the round-robin-with-power-weighting corpus
// scheduler, grounded 1:1 on scheduler.rs's PowerABIScheduler.
type PowerABIScheduler struct {
	Corpus   *Corpus
	Branches *UncoveredBranchesMetadata
}

// NewPowerABIScheduler wires a scheduler over corpus, tracking branch
// coverage in its own UncoveredBranchesMetadata.
func NewPowerABIScheduler(corpus *Corpus) *PowerABIScheduler {
	return &PowerABIScheduler{Corpus: corpus, Branches: NewUncoveredBranchesMetadata()}
}

// OnAdd folds one execution's BranchEvents into the scheduler's bookkeeping
// for the testcase at idx, per spec.md §4.7's on_add(testcase_idx) steps 1-2
// (source-line power bias is recorded by the caller via tc.ABIMeta, not
// here — this method only owns branch-coverage credit).
func (s *PowerABIScheduler) OnAdd(idx int, events []fuzzvm.BranchTaken) {
	m := s.Branches
	uncovered := 0
	fulfilled := make(map[branchKey]bool)

	for _, ev := range events {
		key := branchKey{Addr: ev.Addr, Pc: ev.Pc}
		if fulfilled[key] {
			continue
		}
		fulfilled[key] = true

		cur, ok := m.branchStatus[key]
		if !ok {
			m.branchStatus[key] = branchStatusFrom(ev.Taken)
			if m.branchToTestcases[key] == nil {
				m.branchToTestcases[key] = make(map[int]bool)
			}
			m.branchToTestcases[key][idx] = true
			uncovered++
			continue
		}

		newStatus, completed := cur.merge(ev.Taken)
		if completed {
			for tcID := range m.branchToTestcases[key] {
				if tcID == idx {
					continue
				}
				if m.testcaseToUncoveredBranches[tcID] > 0 {
					m.testcaseToUncoveredBranches[tcID]--
				}
			}
			delete(m.branchToTestcases, key)
		} else {
			if m.branchToTestcases[key] == nil {
				m.branchToTestcases[key] = make(map[int]bool)
			}
			m.branchToTestcases[key][idx] = true
			uncovered++
		}
		m.branchStatus[key] = newStatus
	}

	m.testcaseToUncoveredBranches[idx] = uncovered
}

// Next advances the corpus's round-robin cursor, per scheduler.rs's next().
func (s *PowerABIScheduler) Next() (int, error) {
	return s.Corpus.Next()
}

// Score computes the power weight for the testcase at idx, per spec.md
// §4.7: min(MAX_POWER, max(MIN_POWER, (uncovered+1) * POWER_MULTIPLIER)).
func (s *PowerABIScheduler) Score(idx int) float64 {
	uncov := float64(s.Branches.UncoveredCount(idx) + 1)
	power := uncov * PowerMultiplier
	if power >= MaxPower {
		return MaxPower
	}
	if power <= MinPower {
		return MinPower
	}
	return power
}
