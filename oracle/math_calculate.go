package oracle

import (
	"fmt"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	ifuzzcrypto "github.com/fuzzland/ityfuzz-go/crypto"
)

// MathCalculateOracle re-labels the same overflow sites IntegerOverflowOracle
// reports, splitting them by operator: division sites are "precision loss",
// every other arithmetic site is "integer overflow", grounded on
// oracles/math_calculate.rs. The distillation keeps these as two separate
// state vectors (math_error vs integer_overflow) fed by two middlewares
// that run the identical check; this engine's IntegerOverflow middleware
// already unifies both underlying checks into one site set, so the two
// oracles here share that set and differ only in how they label it.
type MathCalculateOracle struct {
	AddressToName map[string]string
}

func NewMathCalculateOracle() *MathCalculateOracle {
	return &MathCalculateOracle{AddressToName: make(map[string]string)}
}

func (o *MathCalculateOracle) Check(ctx *Context) []Finding {
	sites := ctx.PostState.IntegerOverflowSites()
	if len(sites) == 0 {
		return nil
	}
	seen := make(map[uint64]bool, len(sites))
	out := make([]Finding, 0, len(sites))
	for _, site := range sites {
		bugID := ifuzzcrypto.BugID(siteHash64(addrBytes(site.Addr), u64Bytes(site.Pc)), ifuzzcommon.MathCalculate)
		if seen[bugID] {
			continue
		}
		seen[bugID] = true

		name := ctx.name(site.Addr)
		if site.Op == "/" {
			out = append(out, Finding{
				BugID:        bugID,
				Kind:         ifuzzcommon.MathCalculate,
				Message:      fmt.Sprintf("PrecisionLoss: %s, PC: %x, OP: %s", name, site.Pc, site.Op),
				ContractName: name,
			})
			continue
		}
		out = append(out, Finding{
			BugID:        bugID,
			Kind:         ifuzzcommon.MathCalculate,
			Message:      fmt.Sprintf("IntegerOverflow: %s, PC: %x, OP: %s", name, site.Pc, site.Op),
			ContractName: name,
		})
	}
	return out
}

var _ Oracle = (*MathCalculateOracle)(nil)
