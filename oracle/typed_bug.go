package oracle

import (
	"fmt"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// TypedBugOracle re-reports every pre-classified bug a cheatcode or other
// instrumented hook recorded directly via VMState.RecordTypedBug (e.g. a
// Foundry-style `bug()` cheatcode call), grounded on oracles/typed_bug.rs.
type TypedBugOracle struct {
	AddressToName map[string]string
}

func NewTypedBugOracle() *TypedBugOracle {
	return &TypedBugOracle{AddressToName: make(map[string]string)}
}

func (o *TypedBugOracle) Check(ctx *Context) []Finding {
	sites := ctx.PostState.TypedBugSites()
	if len(sites) == 0 {
		return nil
	}
	out := make([]Finding, 0, len(sites))
	for _, site := range sites {
		name := ctx.name(site.Addr)
		bugID := ifuzzcrypto.BugID(siteHash64(u64Bytes(site.BugID), u64Bytes(site.Pc)), ifuzzcommon.TypedBug)
		out = append(out, Finding{
			BugID:        bugID,
			Kind:         ifuzzcommon.TypedBug,
			Message:      fmt.Sprintf("Invariant %d violated", site.BugID),
			ContractName: name,
		})
	}
	return out
}

var _ Oracle = (*TypedBugOracle)(nil)
