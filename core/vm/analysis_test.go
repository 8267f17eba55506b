package vm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestAnalyzeJumpDestsSkipsPushImmediates(t *testing.T) {
	// PUSH1 0x5b (looks like a JUMPDEST byte but is a PUSH operand),
	// JUMPDEST, STOP
	code := []byte{0x60, 0x5b, 0x5b, 0x00}
	dests := analyzeJumpDests(code)

	assert.False(t, dests.isJumpDest(1)) // the PUSH1 operand byte, not a real dest
	assert.True(t, dests.isJumpDest(2))  // the real JUMPDEST
}

func TestJumpDestMapOutOfRangeIsFalse(t *testing.T) {
	dests := analyzeJumpDests([]byte{0x5b})
	assert.True(t, dests.isJumpDest(0))
	assert.False(t, dests.isJumpDest(100))
}

func TestJumpDestMapNilReceiverIsFalse(t *testing.T) {
	var dests *jumpDestMap
	assert.False(t, dests.isJumpDest(0))
}

func TestCodeAnalysisCachesByHash(t *testing.T) {
	a := newCodeAnalysis()
	hash := common.HexToHash("0x1")
	code := []byte{0x5b}

	first := a.get(hash, code)
	second := a.get(hash, code)
	assert.Same(t, first, second)
}

func TestCodeAnalysisDistinctHashesGetDistinctEntries(t *testing.T) {
	a := newCodeAnalysis()
	code := []byte{0x5b}

	first := a.get(common.HexToHash("0x1"), code)
	second := a.get(common.HexToHash("0x2"), code)
	assert.NotSame(t, first, second)
}
