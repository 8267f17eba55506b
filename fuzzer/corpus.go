package fuzzer

import (
	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
)

// Corpus is the append-only store of interesting Testcases. Corpus entries
// are never evicted (spec.md §3's Testcase lifecycle), only consulted by the
// scheduler's next() cursor.
type Corpus struct {
	entries []*Testcase
	cursor  int

	// addedSinceLastRun tracks indices the coverage stage hasn't replayed
	// yet, drained by DrainNewSinceLastRun.
	addedSinceLastRun []int
}

// NewCorpus returns an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{cursor: -1}
}

// Add appends tc and returns its index.
func (c *Corpus) Add(tc *Testcase) int {
	idx := len(c.entries)
	c.entries = append(c.entries, tc)
	c.addedSinceLastRun = append(c.addedSinceLastRun, idx)
	return idx
}

// Get returns the testcase at idx.
func (c *Corpus) Get(idx int) *Testcase {
	if idx < 0 || idx >= len(c.entries) {
		return nil
	}
	return c.entries[idx]
}

// Count returns the number of entries.
func (c *Corpus) Count() int { return len(c.entries) }

// Current returns the cursor's current index, or false if nothing has been
// scheduled yet.
func (c *Corpus) Current() (int, bool) {
	if c.cursor < 0 {
		return 0, false
	}
	return c.cursor, true
}

// Next advances the round-robin cursor and returns the new index, per
// PowerABIScheduler::next.
func (c *Corpus) Next() (int, error) {
	if len(c.entries) == 0 {
		return 0, ifuzzcommon.ErrCorpusEmpty
	}
	if c.cursor < 0 || c.cursor+1 >= len(c.entries) {
		c.cursor = 0
	} else {
		c.cursor++
	}
	return c.cursor, nil
}

// DrainNewSinceLastRun returns and clears the set of indices added since the
// last drain, the list the coverage stage iterates, per spec.md §4.8.
func (c *Corpus) DrainNewSinceLastRun() []int {
	out := c.addedSinceLastRun
	c.addedSinceLastRun = nil
	return out
}

// InfantStateCorpus holds the stateful-fuzzing seed states a transaction may
// be composed against, keyed by a dedup hash so structurally identical
// VMStates (per VMState.Hash) are stored once.
type InfantStateCorpus struct {
	entries []*StagedVMState
	seen    map[uint64]int
}

// NewInfantStateCorpus returns an empty infant-state corpus.
func NewInfantStateCorpus() *InfantStateCorpus {
	return &InfantStateCorpus{seen: make(map[uint64]int)}
}

// Add inserts state if its hash hasn't been seen before and returns its
// index either way (the existing index on a dedup hit).
func (ic *InfantStateCorpus) Add(state *StagedVMState) (idx int, inserted bool) {
	h := state.State.Hash()
	if existing, ok := ic.seen[h]; ok {
		return existing, false
	}
	idx = len(ic.entries)
	ic.entries = append(ic.entries, state)
	ic.seen[h] = idx
	return idx, true
}

// Get returns the staged state at idx.
func (ic *InfantStateCorpus) Get(idx int) *StagedVMState {
	if idx < 0 || idx >= len(ic.entries) {
		return nil
	}
	return ic.entries[idx]
}

// Count returns the number of infant states.
func (ic *InfantStateCorpus) Count() int { return len(ic.entries) }

// RandomIndex returns a uniformly random valid index, used by the mutator
// when composing a fresh transaction against a carried-forward seed state.
func (ic *InfantStateCorpus) RandomIndex(randUint func(n int) int) (int, bool) {
	if len(ic.entries) == 0 {
		return 0, false
	}
	return randUint(len(ic.entries)), true
}

// WalkTrace reconstructs the index path from the infant-state root to idx,
// oldest first, by following FromIdx links. The coverage stage does not
// call it; it replays only the final transaction.
func (ic *InfantStateCorpus) WalkTrace(idx int) []int {
	var path []int
	cur := idx
	for cur >= 0 {
		path = append([]int{cur}, path...)
		s := ic.Get(cur)
		if s == nil || s.FromIdx < 0 {
			break
		}
		cur = s.FromIdx
	}
	return path
}
