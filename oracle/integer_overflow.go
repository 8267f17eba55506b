package oracle

import (
	"fmt"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// IntegerOverflowOracle reports every site the IntegerOverflow middleware
// flagged, grounded on oracles/integer_overflow.rs. The distillation
// additionally annotates findings with a build server's source map when
// one is available; that enrichment is onchain.BuildJobResult's job (a
// stub external collaborator per this engine's scope) so this oracle
// always degrades to the distillation's "no build_job_result" branch.
type IntegerOverflowOracle struct {
	AddressToName map[string]string
}

func NewIntegerOverflowOracle() *IntegerOverflowOracle {
	return &IntegerOverflowOracle{AddressToName: make(map[string]string)}
}

func (o *IntegerOverflowOracle) Check(ctx *Context) []Finding {
	sites := ctx.PostState.IntegerOverflowSites()
	if len(sites) == 0 {
		return nil
	}
	out := make([]Finding, 0, len(sites))
	for _, site := range sites {
		name := ctx.name(site.Addr)
		bugID := ifuzzcrypto.BugID(siteHash64(addrBytes(site.Addr), u64Bytes(site.Pc)), ifuzzcommon.IntegerOverflow)
		out = append(out, Finding{
			BugID:        bugID,
			Kind:         ifuzzcommon.IntegerOverflow,
			Message:      fmt.Sprintf("IntegerOverflow on Contract: %s, PC: %x, OP: %s", name, site.Pc, site.Op),
			ContractName: name,
		})
	}
	return out
}

var _ Oracle = (*IntegerOverflowOracle)(nil)
