// Package feedback decides which executions are worth keeping in the
// corpus: new coverage, a new oracle finding, or both, per spec.md §4.6.
package feedback

import (
	"github.com/ethereum/go-ethereum/log"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	"github.com/fuzzland/ityfuzz-go/core/vm/middlewares"
	"github.com/fuzzland/ityfuzz-go/oracle"
)

// Feedback decides whether one execution's observations are worth keeping.
type Feedback interface {
	// IsInteresting inspects an already-completed execution and reports
	// whether the testcase that produced it should be added to the corpus.
	IsInteresting(exec fuzzvm.ExecutionResult, cov *middlewares.Coverage) bool
}

// CoverageFeedback is interesting whenever the campaign-long Coverage
// middleware observed a previously-unseen (address, pc) bit or comparison-
// hint bit during the execution, per spec.md §4.6.
type CoverageFeedback struct{}

func (CoverageFeedback) IsInteresting(exec fuzzvm.ExecutionResult, cov *middlewares.Coverage) bool {
	if cov == nil {
		return false
	}
	return cov.NewBitsSinceSnapshot()
}

var _ Feedback = CoverageFeedback{}

// OracleFeedback is interesting whenever running the oracle battery over an
// execution's pre/post state produced at least one bug_id not already
// recorded, per spec.md §4.6. It owns the campaign-long dedup set so the
// same finding is never re-reported across unrelated executions.
type OracleFeedback struct {
	Oracles []oracle.Oracle
	seen    map[uint64]bool

	// LastFindings holds the fresh findings of the most recent CheckAll,
	// stored here by the caller; IsInteresting reports whether it is
	// non-empty.
	LastFindings []oracle.Finding

	// AllFindings accumulates every fresh (never-before-seen bug_id)
	// finding across the whole campaign, for an end-of-run summary.
	AllFindings []oracle.Finding
}

// NewOracleFeedback wires the fixed oracle battery the engine runs after
// every transaction.
func NewOracleFeedback(oracles []oracle.Oracle) *OracleFeedback {
	return &OracleFeedback{Oracles: oracles, seen: make(map[uint64]bool)}
}

// CheckAll runs every oracle against ctx and returns the findings whose
// bug_id has not been seen before in this campaign, recording them as seen.
func (f *OracleFeedback) CheckAll(ctx *oracle.Context) []oracle.Finding {
	var fresh []oracle.Finding
	for _, o := range f.Oracles {
		for _, finding := range o.Check(ctx) {
			if f.seen[finding.BugID] {
				continue
			}
			f.seen[finding.BugID] = true
			fresh = append(fresh, finding)
			f.AllFindings = append(f.AllFindings, finding)
		}
	}
	return fresh
}

// IsInteresting satisfies the Feedback interface for composition inside a
// CombinedFeedback; most callers should use CheckAll directly since it also
// returns the findings, not just whether any are new.
func (f *OracleFeedback) IsInteresting(exec fuzzvm.ExecutionResult, cov *middlewares.Coverage) bool {
	return len(f.LastFindings) > 0
}

var _ Feedback = (*OracleFeedback)(nil)

// CombinedFeedback ORs CoverageFeedback and OracleFeedback together, the
// shape the mutational stage actually evaluates testcases with.
type CombinedFeedback struct {
	Coverage CoverageFeedback
	Oracle   *OracleFeedback
}

func (c CombinedFeedback) IsInteresting(exec fuzzvm.ExecutionResult, cov *middlewares.Coverage) bool {
	interesting := c.Coverage.IsInteresting(exec, cov)
	if c.Oracle != nil && c.Oracle.IsInteresting(exec, cov) {
		interesting = true
	}
	return interesting
}

// Reexecutor re-runs an EVMInput against a throwaway clone of the
// pre-transaction VMState, the shape Sha3WrappedFeedback needs to taint a
// SHA3 preimage without disturbing the live campaign state.
type Reexecutor interface {
	ReexecuteWithMiddleware(preState *fuzzvm.VMState, params fuzzvm.CallParams, mw fuzzvm.Middleware) error
}

// Sha3WrappedFeedback wraps an inner Feedback: whenever the inner feedback
// judges an execution interesting and the input is not a step-continuation
// replay, it re-executes the input through a fresh Sha3Taint middleware so
// the mutator can align future byte-level havoc to hash preimages --
// entirely before the testcase is admitted to the corpus, and without
// mutating the main VMState, per spec.md §4.6. Grounded on
// original_source/src/evm/feedbacks.rs's Sha3WrappedFeedback, minus its
// libafl Feedback/Named/Debug trait boilerplate, which has no Go analogue.
type Sha3WrappedFeedback struct {
	Inner      Feedback
	Executor   Reexecutor
	Enabled    bool
	LastTaints *middlewares.Sha3Taint
}

// NewSha3WrappedFeedback wires inner behind a taint-capturing re-execution
// pass, performed only when enabled.
func NewSha3WrappedFeedback(inner Feedback, exec Reexecutor, enabled bool) *Sha3WrappedFeedback {
	return &Sha3WrappedFeedback{Inner: inner, Executor: exec, Enabled: enabled}
}

// IsInteresting mirrors Sha3WrappedFeedback::is_interesting: it never
// changes the verdict, only performs the side-effecting re-execution when
// the verdict is true and the input isn't a step replay.
func (f *Sha3WrappedFeedback) IsInteresting(
	exec fuzzvm.ExecutionResult,
	cov *middlewares.Coverage,
	preState *fuzzvm.VMState,
	params fuzzvm.CallParams,
	inputType ifuzzcommon.InputTy,
) bool {
	interesting := f.Inner.IsInteresting(exec, cov)
	if !interesting || !f.Enabled {
		return interesting
	}
	if inputType == ifuzzcommon.Step {
		return interesting
	}
	taint := middlewares.NewSha3Taint()
	if err := f.Executor.ReexecuteWithMiddleware(preState, params, taint); err != nil {
		log.Warn("sha3 taint re-execution failed", "err", err)
		return interesting
	}
	f.LastTaints = taint
	return interesting
}
