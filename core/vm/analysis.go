package vm

import (
	"github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	lru "github.com/hashicorp/golang-lru"
)

// analysisCacheSize bounds the number of distinct code hashes the jumpdest
// analysis cache retains; a fuzz campaign deploys a small, fixed set of
// contracts, so this comfortably covers real runs without unbounded growth.
const analysisCacheSize = 256

// jumpDestMap is a bitmap of valid JUMPDEST offsets for one bytecode blob,
// the shape the reference interpreter's analysis module precomputes once
// per code hash and then reuses for every call into that code.
type jumpDestMap struct {
	bitmap   []uint64
	codeSize uint64
}

func newJumpDestMap(size uint64) *jumpDestMap {
	return &jumpDestMap{
		bitmap:   make([]uint64, size/64+1),
		codeSize: size,
	}
}

func (j *jumpDestMap) markJumpDest(idx uint64) {
	if idx >= j.codeSize {
		return
	}
	word, mask := idx/64, uint64(1)<<(idx%64)
	j.bitmap[word] |= mask
}

func (j *jumpDestMap) isJumpDest(idx uint64) bool {
	if j == nil || idx >= j.codeSize {
		return false
	}
	word, mask := idx/64, uint64(1)<<(idx%64)
	return j.bitmap[word]&mask != 0
}

// analyzeJumpDests walks code once, skipping over PUSH immediates so
// embedded bytes are never mistaken for a JUMPDEST opcode.
func analyzeJumpDests(code []byte) *jumpDestMap {
	dests := newJumpDestMap(uint64(len(code)))
	for pc := 0; pc < len(code); pc++ {
		op := gethvm.OpCode(code[pc])
		if op >= gethvm.PUSH1 && op <= gethvm.PUSH32 {
			pc += int(op) - int(gethvm.PUSH1) + 1
			continue
		}
		if op == gethvm.JUMPDEST {
			dests.markJumpDest(uint64(pc))
		}
	}
	return dests
}

// codeAnalysis caches jumpdest analysis by code hash so that repeatedly
// invoking the same deployed contract across thousands of fuzz iterations
// pays the analysis cost once, per spec.md §3's "Bytecode ... analyzed
// jump-destinations ... cached in Host; immutable".
type codeAnalysis struct {
	cache *lru.Cache
}

func newCodeAnalysis() *codeAnalysis {
	cache, err := lru.New(analysisCacheSize)
	if err != nil {
		panic("vm: failed to allocate jumpdest analysis cache: " + err.Error())
	}
	return &codeAnalysis{cache: cache}
}

func (a *codeAnalysis) get(codeHash common.Hash, code []byte) *jumpDestMap {
	if v, ok := a.cache.Get(codeHash); ok {
		return v.(*jumpDestMap)
	}
	dests := analyzeJumpDests(code)
	a.cache.Add(codeHash, dests)
	return dests
}
