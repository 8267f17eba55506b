package oracle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

func TestTypedBugOracleNoSites(t *testing.T) {
	o := NewTypedBugOracle()
	assert.Empty(t, o.Check(newTestContext(fuzzvm.NewVMState())))
}

func TestTypedBugOracleReportsSite(t *testing.T) {
	o := NewTypedBugOracle()
	addr := common.HexToAddress("0x1")

	post := fuzzvm.NewVMState()
	post.RecordTypedBug(7, addr, 3)
	ctx := newTestContext(post)

	findings := o.Check(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, ifuzzcommon.TypedBug, findings[0].Kind)
	assert.Contains(t, findings[0].Message, "7")
}
