package oracle

import (
	"fmt"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// ArbitraryTransferOracle flags outbound native-value transfers whose
// target was supplied by a solved symbolic constraint, grounded on
// oracles/arb_transfer.rs. Unlike ArbitraryCallOracle it carries no
// per-site cap: the distillation reports every such transfer.
type ArbitraryTransferOracle struct {
	AddressToName map[string]string
}

func NewArbitraryTransferOracle() *ArbitraryTransferOracle {
	return &ArbitraryTransferOracle{AddressToName: make(map[string]string)}
}

func (o *ArbitraryTransferOracle) Check(ctx *Context) []Finding {
	sites := ctx.PostState.ArbitraryTransferSites()
	if len(sites) == 0 {
		return nil
	}
	out := make([]Finding, 0, len(sites))
	for _, site := range sites {
		name := ctx.name(site.Caller)
		bugID := ifuzzcrypto.BugID(siteHash64(addrBytes(site.Caller), u64Bytes(site.Pc)), ifuzzcommon.ArbTransfer)
		out = append(out, Finding{
			BugID:        bugID,
			Kind:         ifuzzcommon.ArbTransfer,
			Message:      fmt.Sprintf("Arbitrary transfer from %s", name),
			ContractName: name,
		})
	}
	return out
}

var _ Oracle = (*ArbitraryTransferOracle)(nil)
