package fuzzer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

func TestCoverageStagePerformNoopWhenNothingPending(t *testing.T) {
	host := fuzzvm.NewHost()
	executor := fuzzvm.NewExecutor(host)
	corpus := NewCorpus()
	dir := t.TempDir()

	stage := &CoverageStage{Executor: executor, Corpus: corpus, WorkDir: dir}
	require.NoError(t, stage.Perform())

	_, err := os.Stat(filepath.Join(dir, "traces"))
	assert.True(t, os.IsNotExist(err))
}

func TestCoverageStagePerformWritesTraceForPendingEntries(t *testing.T) {
	host := fuzzvm.NewHost()
	executor := fuzzvm.NewExecutor(host)
	contract := common.HexToAddress("0x1")
	host.SetCode(contract, []byte{0x00}, nil) // STOP

	corpus := NewCorpus()
	idx := corpus.Add(NewTestcase(&EVMInput{Contract: contract}, -1))
	dir := t.TempDir()

	stage := &CoverageStage{Executor: executor, Corpus: corpus, WorkDir: dir}
	require.NoError(t, stage.Perform())

	path := filepath.Join(dir, "traces", "0.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	_ = idx
}

func TestCoverageStagePerformDrainsPendingOnlyOnce(t *testing.T) {
	host := fuzzvm.NewHost()
	executor := fuzzvm.NewExecutor(host)
	contract := common.HexToAddress("0x1")
	host.SetCode(contract, []byte{0x00}, nil)

	corpus := NewCorpus()
	corpus.Add(NewTestcase(&EVMInput{Contract: contract}, -1))
	dir := t.TempDir()

	stage := &CoverageStage{Executor: executor, Corpus: corpus, WorkDir: dir}
	require.NoError(t, stage.Perform())
	require.NoError(t, stage.Perform())

	// Second run drains nothing new, so no "1.json" should exist.
	_, err := os.Stat(filepath.Join(dir, "traces", "1.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestCoverageStageReplayWritesDistinctTraceFilesAcrossRuns(t *testing.T) {
	host := fuzzvm.NewHost()
	executor := fuzzvm.NewExecutor(host)
	contract := common.HexToAddress("0x1")
	host.SetCode(contract, []byte{0x00}, nil)

	corpus := NewCorpus()
	corpus.Add(NewTestcase(&EVMInput{Contract: contract}, -1))
	dir := t.TempDir()
	stage := &CoverageStage{Executor: executor, Corpus: corpus, WorkDir: dir}
	require.NoError(t, stage.Perform())

	corpus.Add(NewTestcase(&EVMInput{Contract: contract}, -1))
	require.NoError(t, stage.Perform())

	for _, name := range []string{"0.json", "1.json"} {
		data, err := os.ReadFile(filepath.Join(dir, "traces", name))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
}
