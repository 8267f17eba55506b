// Package oracle implements the pluggable vulnerability detectors that
// inspect a completed execution's VMState and report bug_id findings, per
// spec.md §4.4.
package oracle

import (
	"github.com/ethereum/go-ethereum/common"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// Context is `(pre_state, input, post_state, fuzz_state, executor)` from
// spec.md §4.4, the read-only view every oracle's Oracle method receives.
type Context struct {
	PreState  *fuzzvm.VMState
	PostState *fuzzvm.VMState
	Input     CallDescription
	Executor  *fuzzvm.Executor

	AddressNames map[common.Address]string
}

// CallDescription is the minimal shape an oracle needs from the
// transaction that produced PostState; fuzzer.EVMInput satisfies it.
type CallDescription struct {
	Caller   common.Address
	Contract common.Address
	CallData []byte
}

func (c *Context) name(addr common.Address) string {
	if n, ok := c.AddressNames[addr]; ok {
		return n
	}
	return addr.Hex()
}

// Finding is one reported bug, serialized by report.EVMBugResult.
type Finding struct {
	BugID       uint64
	Kind        ifuzzcommon.OracleKindTag
	Message     string
	ContractName string
}

// Oracle inspects a completed execution and emits zero or more findings.
// Implementations must be side-effect free on PostState except via
// Context.Executor.CallPostBatchDyn, which always runs against a throwaway
// clone (spec.md §4.4).
type Oracle interface {
	Check(ctx *Context) []Finding
}

// siteHash64 hashes an arbitrary tuple of site-identifying byte slices into
// the 64-bit half of a bug_id.
func siteHash64(parts ...[]byte) uint64 {
	return ifuzzcrypto.SiteHash(parts...)
}

func addrBytes(a common.Address) []byte { return a.Bytes() }

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}
