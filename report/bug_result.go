// Package report renders oracle findings into the on-disk artifacts
// spec.md §6 describes: EVMBugResult JSON records, the vulnerabilities/
// reproducer file, and the build-artifact cache directory. It is the
// engine's only write path to those directories.
package report

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	"github.com/fuzzland/ityfuzz-go/oracle"
)

// SourceLocation annotates a bug result with the build-server source map,
// when one was available (spec.md §7's "Missing artifact" path leaves this
// nil rather than failing the finding).
type SourceLocation struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// ReproRecord is the trace record schema spec.md §6 names for the
// vulnerabilities/ reproducer file: `{caller, contract, value,
// fn_signature, fn_selector, fn_args, liq_percent, borrow_idx, is_borrow,
// is_deposit}`.
type ReproRecord struct {
	Caller      common.Address `json:"caller"`
	Contract    common.Address `json:"contract"`
	Value       string         `json:"value"`
	FnSignature string         `json:"fn_signature"`
	FnSelector  string         `json:"fn_selector"`
	FnArgs      string         `json:"fn_args"`
	LiqPercent  uint8          `json:"liq_percent"`
	BorrowIdx   int            `json:"borrow_idx"`
	IsBorrow    bool           `json:"is_borrow"`
	IsDeposit   bool           `json:"is_deposit"`
}

// BuildReproRecord assembles a ReproRecord from a call's raw fields.
// fnSignature is the empty string when no ABI entry is known for the
// selector (the external template renderer falls back to raw calldata in
// that case). borrowIdx is the corpus index of the Borrow testcase that
// funded this call, or -1 if none.
func BuildReproRecord(caller, contract common.Address, value *uint256.Int, dataABI []byte, fnSignature string, liqPercent uint8, borrowIdx int, isBorrow, isDeposit bool) ReproRecord {
	rec := ReproRecord{
		Caller:      caller,
		Contract:    contract,
		FnSignature: fnSignature,
		LiqPercent:  liqPercent,
		BorrowIdx:   borrowIdx,
		IsBorrow:    isBorrow,
		IsDeposit:   isDeposit,
	}
	if value != nil {
		rec.Value = value.String()
	} else {
		rec.Value = "0"
	}
	if len(dataABI) >= 4 {
		rec.FnSelector = hex.EncodeToString(dataABI[:4])
		rec.FnArgs = hex.EncodeToString(dataABI[4:])
	}
	return rec
}

// EVMBugResult is the serialized vulnerability record of spec.md §7:
// `EVMBugResult { kind, bug_idx, message, input_repro, source_location?,
// contract_name }`, appended once per bug_idx to the vulnerabilities/
// output.
type EVMBugResult struct {
	Kind           ifuzzcommon.OracleKindTag `json:"kind"`
	BugIdx         uint64                    `json:"bug_idx"`
	Message        string                    `json:"message"`
	InputRepro     ReproRecord               `json:"input_repro"`
	SourceLocation *SourceLocation           `json:"source_location,omitempty"`
	ContractName   string                    `json:"contract_name"`
}

// NewEVMBugResult wraps an oracle.Finding with the reproducer that
// produced it and an optional source-map annotation.
func NewEVMBugResult(f oracle.Finding, repro ReproRecord, loc *SourceLocation) EVMBugResult {
	return EVMBugResult{
		Kind:           f.Kind,
		BugIdx:         f.BugID,
		Message:        f.Message,
		InputRepro:     repro,
		SourceLocation: loc,
		ContractName:   f.ContractName,
	}
}
