package fuzzer

import (
	"github.com/ethereum/go-ethereum/log"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	"github.com/fuzzland/ityfuzz-go/core/vm/middlewares"
	"github.com/fuzzland/ityfuzz-go/feedback"
	"github.com/fuzzland/ityfuzz-go/oracle"
	"github.com/fuzzland/ityfuzz-go/report"
)

// MutationalStage is the schedule-driven core of the campaign loop: pop the
// next corpus entry, mutate it score(input) times, execute each mutant, and
// admit the ones the feedback judges interesting, per spec.md §4.8.
type MutationalStage struct {
	Executor  *fuzzvm.Executor
	Corpus    *Corpus
	Infants   *InfantStateCorpus
	Scheduler *PowerABIScheduler
	Mutator   *Mutator
	Feedback  feedback.CombinedFeedback
	Oracles   *feedback.OracleFeedback
	Coverage  *middlewares.Coverage

	// Report persists findings to vulnerabilities/<contract_name>.t.sol,
	// per spec.md §6/§7. Nil disables persistence (used by tests that only
	// care about corpus admission).
	Report *report.VulnerabilityWriter
}

// Perform runs one mutational-stage iteration: schedules a testcase,
// mutates it score(idx) times, executes and evaluates each mutant.
func (s *MutationalStage) Perform() error {
	idx, err := s.Scheduler.Next()
	if err != nil {
		return err
	}
	tc := s.Corpus.Get(idx)
	if tc == nil {
		return nil
	}
	iterations := int(s.Scheduler.Score(idx))
	for i := 0; i < iterations; i++ {
		mutant := s.Mutator.Mutate(tc.Input)
		s.evaluate(mutant, idx)
	}
	return nil
}

// evaluate executes one candidate input and, if the feedback judges it
// interesting, admits it to the corpus and credits the scheduler/oracle
// bookkeeping. parentIdx is the testcase the mutant was derived from.
func (s *MutationalStage) evaluate(in *EVMInput, parentIdx int) {
	params := in.ToCallParams()
	if s.Coverage != nil {
		// Clear the new-bits flag so the coverage feedback sees only bits
		// this execution sets.
		s.Coverage.RecordInstructionCoverage()
	}
	result, err := s.Executor.Execute(params)
	if err != nil {
		log.Warn("mutational stage execution failed", "err", err, "contract", in.Contract)
		return
	}

	findings := s.Oracles.CheckAll(&oracle.Context{
		PostState: result.NewState,
		Input: oracle.CallDescription{
			Caller:   in.Caller,
			Contract: in.Contract,
			CallData: in.DataABI,
		},
		Executor: s.Executor,
	})
	s.Oracles.LastFindings = findings

	if !s.Feedback.IsInteresting(result, s.Coverage) && len(findings) == 0 {
		return
	}

	newTc := NewTestcase(in, parentIdx)
	idx := s.Corpus.Add(newTc)
	s.Scheduler.OnAdd(idx, result.BranchEvents)

	if result.NewState != nil && !result.Reverted {
		staged := &StagedVMState{State: result.NewState, FromIdx: parentIdx}
		s.Infants.Add(staged)
	}

	for _, f := range findings {
		log.Warn("oracle finding", "bug_id", f.BugID, "kind", f.Kind.String(), "msg", f.Message, "contract", f.ContractName)
		if s.Report == nil {
			continue
		}
		repro := report.BuildReproRecord(in.Caller, in.Contract, in.Value, in.DataABI, "", in.LiquidationPercent, -1, in.InputType == ifuzzcommon.Borrow, false)
		if err := s.Report.Append(report.NewEVMBugResult(f, repro, nil)); err != nil {
			log.Warn("failed to persist vulnerability record", "bug_id", f.BugID, "err", err)
		}
	}
}
