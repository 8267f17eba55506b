package oracle

import (
	"fmt"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// ReentrancyOracle flags every storage slot VMState.ReentrancyMetadata
// caught being written at call depth 0 after being read at a deeper call
// depth within the same transaction, grounded on oracles/reentrancy.rs.
type ReentrancyOracle struct {
	AddressToName map[string]string
}

func NewReentrancyOracle() *ReentrancyOracle {
	return &ReentrancyOracle{AddressToName: make(map[string]string)}
}

func (o *ReentrancyOracle) Check(ctx *Context) []Finding {
	found := ctx.PostState.ReentrancyFound()
	if len(found) == 0 {
		return nil
	}
	out := make([]Finding, 0, len(found))
	for _, slot := range found {
		// The distillation hashes only the address, so every reentrant slot
		// on one contract collapses to the same bug_id -- kept as-is.
		bugID := ifuzzcrypto.BugID(siteHash64(addrBytes(slot.Addr)), ifuzzcommon.Reentrancy)
		name := ctx.name(slot.Addr)
		out = append(out, Finding{
			BugID:        bugID,
			Kind:         ifuzzcommon.Reentrancy,
			Message:      fmt.Sprintf("Reentrancy on %s at slot %s", name, slot.Slot.String()),
			ContractName: name,
		})
	}
	return out
}

var _ Oracle = (*ReentrancyOracle)(nil)
