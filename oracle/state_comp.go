package oracle

import (
	"fmt"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// StateCompMatching selects how StateCompOracle compares PostState against
// its desired target, per oracles/state_comp.rs.
type StateCompMatching byte

const (
	// Exact requires storage to match in both directions.
	Exact StateCompMatching = iota
	// DesiredContain requires PostState to be a subset of the desired state.
	DesiredContain
	// StateContain requires the desired state to be a subset of PostState.
	StateContain
)

// ParseStateCompMatching mirrors the distillation's FromStr, accepting the
// same three spellings.
func ParseStateCompMatching(s string) (StateCompMatching, bool) {
	switch s {
	case "Exact":
		return Exact, true
	case "DesiredContain":
		return DesiredContain, true
	case "StateContain":
		return StateContain, true
	default:
		return 0, false
	}
}

func (m StateCompMatching) String() string {
	switch m {
	case Exact:
		return "Exact"
	case DesiredContain:
		return "DesiredContain"
	case StateContain:
		return "StateContain"
	default:
		return fmt.Sprintf("StateCompMatching(%d)", byte(m))
	}
}

// StateCompOracle flags reaching a caller-supplied target storage state,
// e.g. "has this AMM's reserve drained to zero" or "did this vault's total
// supply hit a specific value" -- a one-shot trigger rather than a
// per-site-hashed bug, so every Check call reports the same fixed bug_id,
// grounded on oracles/state_comp.rs.
type StateCompOracle struct {
	DesiredState  *fuzzvm.VMState
	MatchingStyle StateCompMatching
}

// NewStateCompOracle returns an oracle comparing against desired using
// style; style must be one of Exact, DesiredContain, StateContain.
func NewStateCompOracle(desired *fuzzvm.VMState, style StateCompMatching) *StateCompOracle {
	return &StateCompOracle{DesiredState: desired, MatchingStyle: style}
}

func (o *StateCompOracle) compare(post *fuzzvm.VMState) bool {
	switch o.MatchingStyle {
	case Exact:
		return post.IsSubsetOf(o.DesiredState) && o.DesiredState.IsSubsetOf(post)
	case DesiredContain:
		return post.IsSubsetOf(o.DesiredState)
	case StateContain:
		return o.DesiredState.IsSubsetOf(post)
	default:
		return false
	}
}

func (o *StateCompOracle) Check(ctx *Context) []Finding {
	if o.DesiredState == nil {
		return nil
	}
	if !o.compare(ctx.PostState) {
		return nil
	}
	return []Finding{{
		BugID:   uint64(ifuzzcommon.StateComp),
		Kind:    ifuzzcommon.StateComp,
		Message: "Found equivalent state",
	}}
}

var _ Oracle = (*StateCompOracle)(nil)
