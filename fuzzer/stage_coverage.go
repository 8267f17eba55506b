package fuzzer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	"github.com/fuzzland/ityfuzz-go/core/vm/middlewares"
)

// CoverageStage re-executes every corpus entry added since the last run
// under a CallPrinter middleware and persists its trace to
// <work_dir>/traces/<idx>.json, per spec.md §4.8.
type CoverageStage struct {
	Executor *fuzzvm.Executor
	Corpus   *Corpus
	WorkDir  string
}

// Perform replays every testcase added since the last call and writes its
// CallPrinter trace to disk.
func (s *CoverageStage) Perform() error {
	pending := s.Corpus.DrainNewSinceLastRun()
	if len(pending) == 0 {
		return nil
	}
	tracesDir := filepath.Join(s.WorkDir, "traces")
	if err := os.MkdirAll(tracesDir, 0o755); err != nil {
		return err
	}
	for _, idx := range pending {
		if err := s.replayOne(idx, tracesDir); err != nil {
			log.Warn("coverage stage replay failed", "idx", idx, "err", err)
		}
	}
	return nil
}

func (s *CoverageStage) replayOne(idx int, tracesDir string) error {
	tc := s.Corpus.Get(idx)
	if tc == nil {
		return nil
	}

	printer := middlewares.NewCallPrinter()
	s.Executor.Host.Middlewares.Add(printer)
	defer s.Executor.Host.Middlewares.RemoveByKind(printer.Kind())

	// The distillation replays every transaction along WalkTrace's prefix
	// under a CALL_UNTIL cutoff so a stateful input's full call chain renders
	// in one trace; this engine's Executor only exposes single-transaction
	// Execute, so it replays just the final transaction against the already-
	// materialized seed state instead of re-deriving the chain from scratch.
	_, err := s.Executor.Execute(tc.Input.ToCallParams())
	if err != nil {
		return err
	}

	data, err := printer.TraceJSON()
	if err != nil {
		return err
	}
	path := filepath.Join(tracesDir, fmt.Sprintf("%d.json", idx))
	return os.WriteFile(path, data, 0o644)
}
