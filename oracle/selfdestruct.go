package oracle

import (
	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// SelfdestructOracle flags every SELFDESTRUCT reached during the
// transaction, one finding per site, grounded on oracles/selfdestruct.rs.
type SelfdestructOracle struct {
	AddressToName map[string]string
}

// NewSelfdestructOracle returns an oracle with no name overrides; names
// default to the address's hex form.
func NewSelfdestructOracle() *SelfdestructOracle {
	return &SelfdestructOracle{AddressToName: make(map[string]string)}
}

func (o *SelfdestructOracle) Check(ctx *Context) []Finding {
	sites := ctx.PostState.SelfDestructSites()
	if len(sites) == 0 {
		return nil
	}
	out := make([]Finding, 0, len(sites))
	for _, site := range sites {
		bugID := ifuzzcrypto.BugID(siteHash64(addrBytes(site.Addr), u64Bytes(site.Pc)), ifuzzcommon.Selfdestruct)
		out = append(out, Finding{
			BugID:        bugID,
			Kind:         ifuzzcommon.Selfdestruct,
			Message:      "Destructed",
			ContractName: ctx.name(site.Addr),
		})
	}
	return out
}

var _ Oracle = (*SelfdestructOracle)(nil)
