package fuzzer

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	"github.com/fuzzland/ityfuzz-go/core/vm/middlewares"
	"github.com/fuzzland/ityfuzz-go/feedback"
	"github.com/fuzzland/ityfuzz-go/report"
)

// Loop is the single-threaded, cooperative outer campaign loop of spec.md
// §5: stages run sequentially, each holding the mutable fuzzer state for
// the duration of its Perform call. The only cross-thread boundary is the
// concolic stage's solver worker pool, which this loop blocks on until all
// workers have joined.
type Loop struct {
	Executor  *fuzzvm.Executor
	Corpus    *Corpus
	Infants   *InfantStateCorpus
	Scheduler *PowerABIScheduler
	Mutator   *Mutator

	Mutational *MutationalStage
	Coverage   *CoverageStage
	Concolic   *ConcolicStage

	// iterations counts completed mutational-stage rounds; it is logged when
	// the campaign is interrupted. The coverage and concolic stages run on
	// every round.
	iterations uint64
}

// NewLoop wires the three stages over a shared executor, corpus, and
// scheduler. workDir is used for the coverage stage's trace output
// (<work_dir>/traces), solver backs the concolic stage (middlewares.NoopSolver{}
// if none is wired), workerCount bounds the concolic solver pool, and
// reporter persists oracle findings to <work_dir>/vulnerabilities (nil
// disables persistence).
func NewLoop(
	executor *fuzzvm.Executor,
	corpus *Corpus,
	infants *InfantStateCorpus,
	scheduler *PowerABIScheduler,
	mutator *Mutator,
	oracles *feedback.OracleFeedback,
	coverage *middlewares.Coverage,
	workDir string,
	solver middlewares.SMTSolver,
	workerCount int,
	reporter *report.VulnerabilityWriter,
) *Loop {
	return &Loop{
		Executor:  executor,
		Corpus:    corpus,
		Infants:   infants,
		Scheduler: scheduler,
		Mutator:   mutator,
		Mutational: &MutationalStage{
			Executor:  executor,
			Corpus:    corpus,
			Infants:   infants,
			Scheduler: scheduler,
			Mutator:   mutator,
			Feedback:  feedback.CombinedFeedback{Oracle: oracles},
			Oracles:   oracles,
			Coverage:  coverage,
			Report:    reporter,
		},
		Coverage: &CoverageStage{Executor: executor, Corpus: corpus, WorkDir: workDir},
		Concolic: &ConcolicStage{
			Executor:    executor,
			Corpus:      corpus,
			Flagged:     &ConcolicPrioritizationMetadata{},
			Solver:      solver,
			WorkerCount: workerCount,
		},
	}
}

// Seed registers initial testcases (one per target contract, typically a
// fallback/constructor-less call) before the loop starts iterating.
func (l *Loop) Seed(inputs []*EVMInput) {
	for _, in := range inputs {
		idx := l.Corpus.Add(NewTestcase(in, -1))
		l.Scheduler.OnAdd(idx, nil)
	}
}

// RunOnce performs exactly one mutational-stage round followed by the
// coverage and concolic stages, the unit of work the CLI's campaign loop
// repeats until the operator interrupts (spec.md §5/§6's exit-code 0 path).
func (l *Loop) RunOnce(ctx context.Context) error {
	if err := l.Mutational.Perform(); err != nil {
		log.Warn("mutational stage error", "err", err)
		return err
	}
	l.iterations++

	if err := l.Coverage.Perform(); err != nil {
		log.Warn("coverage stage error", "err", err)
	}
	if err := l.Concolic.Perform(ctx); err != nil {
		log.Warn("concolic stage error", "err", err)
	}
	return nil
}

// Run drives RunOnce until ctx is cancelled (the operator-interrupt exit
// path, exit code 0 per spec.md §6) or a mutational-stage error occurs (a
// fatal engine error, exit code 1).
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			log.Info("campaign interrupted", "iterations", l.iterations)
			return nil
		default:
		}
		if err := l.RunOnce(ctx); err != nil {
			return err
		}
	}
}

// reexecutor adapts Loop to feedback.Reexecutor, the seam
// Sha3WrappedFeedback uses to taint-re-execute an interesting input without
// disturbing the live campaign VMState.
type reexecutor struct {
	executor *fuzzvm.Executor
}

func (r *reexecutor) ReexecuteWithMiddleware(preState *fuzzvm.VMState, params fuzzvm.CallParams, mw fuzzvm.Middleware) error {
	r.executor.Host.Middlewares.Add(mw)
	defer r.executor.Host.Middlewares.RemoveByKind(mw.Kind())
	_, err := r.executor.CallPostBatchDyn(preState, params)
	return err
}

// NewReexecutor wraps executor for feedback.Sha3WrappedFeedback's Reexecutor
// seam.
func NewReexecutor(executor *fuzzvm.Executor) feedback.Reexecutor {
	return &reexecutor{executor: executor}
}
