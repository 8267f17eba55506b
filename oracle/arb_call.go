package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// arbCallKey is the (caller, pc) site the per-site target cap is tracked
// against, mirroring ArbitraryCallMetadata.known_calls.
type arbCallKey struct {
	Caller common.Address
	Pc     uint64
}

// maxDistinctTargetsPerSite caps how many distinct concolically-derived
// targets one call site is allowed to report before it's considered noisy
// and suppressed, per oracles/arb_call.rs.
const maxDistinctTargetsPerSite = 3

// ArbitraryCallOracle flags outbound CALLs whose target address was
// supplied by a solved symbolic constraint rather than appearing as a
// corpus/ABI constant, up to maxDistinctTargetsPerSite targets per site.
type ArbitraryCallOracle struct {
	AddressToName map[common.Address]string

	knownCalls map[arbCallKey]map[common.Address]bool
}

func NewArbitraryCallOracle() *ArbitraryCallOracle {
	return &ArbitraryCallOracle{
		AddressToName: make(map[common.Address]string),
		knownCalls:    make(map[arbCallKey]map[common.Address]bool),
	}
}

func (o *ArbitraryCallOracle) nameOf(addr common.Address) string {
	if n, ok := o.AddressToName[addr]; ok {
		return n
	}
	return addr.Hex()
}

func (o *ArbitraryCallOracle) Check(ctx *Context) []Finding {
	sites := ctx.PostState.ArbitraryCallSites()
	if len(sites) == 0 {
		return nil
	}
	out := make([]Finding, 0, len(sites))
	for _, site := range sites {
		key := arbCallKey{Caller: site.Caller, Pc: site.Pc}
		targets, ok := o.knownCalls[key]
		if !ok {
			targets = make(map[common.Address]bool)
			o.knownCalls[key] = targets
		}
		if len(targets) >= maxDistinctTargetsPerSite {
			continue
		}
		targets[site.Target] = true

		name := o.nameOf(site.Caller)
		bugID := ifuzzcrypto.BugID(
			siteHash64(addrBytes(site.Caller), addrBytes(site.Target), u64Bytes(site.Pc)),
			ifuzzcommon.ArbCall,
		)
		out = append(out, Finding{
			BugID:        bugID,
			Kind:         ifuzzcommon.ArbCall,
			Message:      fmt.Sprintf("Arbitrary call from %s to %s", name, site.Target.Hex()),
			ContractName: name,
		})
	}
	return out
}

var _ Oracle = (*ArbitraryCallOracle)(nil)
