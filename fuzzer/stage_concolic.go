package fuzzer

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	"github.com/fuzzland/ityfuzz-go/core/vm/middlewares"
)

// ConcolicPrioritizationMetadata tracks which corpus indices have been
// flagged interesting for concolic execution since the last run, grounded
// on the distillation's `interesting_idx` list (concolic_stage.rs).
type ConcolicPrioritizationMetadata struct {
	interestingIdx []int
}

// Flag marks idx for concolic execution on the next ConcolicStage.Perform.
func (m *ConcolicPrioritizationMetadata) Flag(idx int) {
	m.interestingIdx = append(m.interestingIdx, idx)
}

func (m *ConcolicPrioritizationMetadata) drain() []int {
	out := m.interestingIdx
	m.interestingIdx = nil
	return out
}

// ConcolicStage executes every flagged testcase under a Concolic middleware,
// joins the solver worker pool, and synthesizes a new corpus entry from each
// solution, per spec.md §4.8.
type ConcolicStage struct {
	Executor    *fuzzvm.Executor
	Corpus      *Corpus
	Flagged     *ConcolicPrioritizationMetadata
	Solver      middlewares.SMTSolver
	WorkerCount int
}

// Perform drains the flagged-testcase list and runs the concolic pass over
// each, in turn draining and applying every solution the workers produce.
func (s *ConcolicStage) Perform(ctx context.Context) error {
	for _, idx := range s.Flagged.drain() {
		if err := s.runOne(ctx, idx); err != nil {
			log.Warn("concolic stage failed", "idx", idx, "err", err)
		}
	}
	return nil
}

func (s *ConcolicStage) runOne(ctx context.Context, idx int) error {
	tc := s.Corpus.Get(idx)
	if tc == nil {
		return nil
	}

	conc := middlewares.NewConcolic(s.Solver)
	s.Executor.Host.Middlewares.Add(conc)
	defer s.Executor.Host.Middlewares.RemoveByKind(conc.Kind())

	if _, err := s.Executor.Execute(tc.Input.ToCallParams()); err != nil {
		return err
	}

	workers := s.WorkerCount
	if workers < 1 {
		workers = 1
	}
	if err := conc.RunWorkers(ctx, workers, s.Executor.Host); err != nil {
		return err
	}

	for _, sol := range conc.AllSolutions() {
		if len(sol.Input) == 0 && len(sol.Fields) == 0 {
			// Cannot be mapped back to ABI and carries no field override:
			// discard, per spec.md §4.8.
			continue
		}
		s.Corpus.Add(NewTestcase(synthesizeFromSolution(tc.Input, sol), idx))
	}
	return nil
}

// synthesizeFromSolution builds a new EVMInput from a solved constraint:
// overwrite the ABI payload with the solved bytes, then apply any per-field
// overrides (caller/value/origin), per spec.md §4.8.
func synthesizeFromSolution(base *EVMInput, sol middlewares.Solution) *EVMInput {
	in := base.Clone()
	if len(sol.Input) > 0 {
		in.DataABI = append([]byte(nil), sol.Input...)
	}
	if sol.Fields[middlewares.FieldCaller] {
		in.Caller = sol.Caller
	}
	if sol.Fields[middlewares.FieldCallDataValue] && sol.Value != nil {
		in.Value = sol.Value
	}
	if sol.Fields[middlewares.FieldOrigin] {
		// Origin isn't tracked on EVMInput directly (the executor derives it
		// from Caller for a top-level call); a dedicated origin override
		// would need a transaction-origin field this simplified input
		// doesn't carry, so this override is a no-op here.
		_ = sol.Origin
	}
	return in
}
