package middlewares

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// SolutionField names which field of a transaction a solved constraint
// should override, per spec.md §4.3's `Solution.fields`.
type SolutionField byte

const (
	FieldCaller SolutionField = iota
	FieldCallDataValue
	FieldOrigin
)

// Solution is an SMT-solver answer to one queued not-taken-branch query,
// per spec.md §4.3.
type Solution struct {
	Input  []byte
	Fields map[SolutionField]bool
	Caller common.Address
	Value  *uint256.Int
	Origin common.Address
}

// Query is one not-taken-branch constraint queued for the solver pool.
type Query struct {
	SiteAddr  common.Address
	SitePc    uint64
	PathExpr  string // symbolic expression of the path condition to negate
}

// SMTSolver is the external black box spec.md §1 scopes out: "the engine
// only builds and enqueues formulas". A real backend (Z3, Boolector, ...)
// implements this against whatever binding the ecosystem offers; this
// package only defines the seam.
type SMTSolver interface {
	Solve(ctx context.Context, q Query) (*Solution, bool, error)
}

// NoopSolver always reports unsat, the default when no external solver is
// wired -- the concolic stage still runs, it simply yields zero solutions.
type NoopSolver struct{}

func (NoopSolver) Solve(ctx context.Context, q Query) (*Solution, bool, error) {
	return nil, false, nil
}

// Concolic builds a path-condition string from the JUMPI sites an execution
// passes (site and direction only), pushes the taken side's constraint, and
// queues the not-taken side to a worker pool. Arithmetic, comparison,
// bitwise, shift and SHA3 opcodes are not evaluated symbolically. The
// worker pool is the one genuinely concurrent piece of the engine (spec.md
// §5): workers run via errgroup and the main thread joins them at the end
// of the concolic stage.
type Concolic struct {
	Solver SMTSolver

	pathExpr string
	queries  []Query

	mu           sync.Mutex
	allSolutions []Solution
}

// NewConcolic attaches solver (NoopSolver{} if nil) for the duration of one
// concolic-stage execution.
func NewConcolic(solver SMTSolver) *Concolic {
	if solver == nil {
		solver = NoopSolver{}
	}
	return &Concolic{Solver: solver}
}

func (m *Concolic) Kind() fuzzvm.Kind { return fuzzvm.KindConcolic }

// OnStep extends the running path-condition string at every JUMPI and
// records the queries list; actual queueing to the worker pool happens in
// RunWorkers, called once per stage rather than per-step, so that all
// queries for one input are solved together.
func (m *Concolic) OnStep(ctxt *fuzzvm.StepContext, host *fuzzvm.Host) {
	if ctxt.Op != 0x57 { // JUMPI
		return
	}
	if ctxt.StackLen() < 2 {
		return
	}
	cond := ctxt.StackPeek(1)
	taken := cond != nil && !cond.IsZero()
	m.pathExpr = fmt.Sprintf("%s && (pc=%d taken=%v)", m.pathExpr, ctxt.PC(), taken)
	m.queries = append(m.queries, Query{
		SiteAddr: ctxt.Address(),
		SitePc:   ctxt.PC(),
		PathExpr: fmt.Sprintf("%s && !(pc=%d taken=%v)", m.pathExpr, ctxt.PC(), taken),
	})
}

// RunWorkers dispatches every queued Query to the solver pool concurrently,
// joining all workers before returning -- the only cross-thread boundary in
// the engine, per spec.md §5. When host is non-nil, a solution that
// overrides Caller or Origin marks that address symbolic on host, so a
// later CALL/transfer targeting it trips the ArbitraryCall/ArbitraryTransfer
// oracles (opCall's IsSymbolicTarget check in core/vm/executor.go).
func (m *Concolic) RunWorkers(ctx context.Context, workers int, host *fuzzvm.Host) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)
	for _, q := range m.queries {
		q := q
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			sol, ok, err := m.Solver.Solve(gctx, q)
			if err != nil {
				// Per spec.md §7: drop the candidate, main thread unaffected.
				return nil
			}
			if ok && sol != nil {
				m.mu.Lock()
				m.allSolutions = append(m.allSolutions, *sol)
				if host != nil {
					if sol.Fields[FieldCaller] {
						host.MarkSymbolicTarget(sol.Caller)
					}
					if sol.Fields[FieldOrigin] {
						host.MarkSymbolicTarget(sol.Origin)
					}
				}
				m.mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	m.queries = nil
	return err
}

// AllSolutions drains and returns every solution collected since the last
// call, the consumption point the concolic stage uses (spec.md §4.8).
func (m *Concolic) AllSolutions() []Solution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.allSolutions
	m.allSolutions = nil
	return out
}

var _ fuzzvm.Middleware = (*Concolic)(nil)
