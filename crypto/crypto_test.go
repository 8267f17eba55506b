package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
)

func TestKeccak256ProducesDigestLength(t *testing.T) {
	got := Keccak256([]byte("anything"))
	assert.Len(t, got, DigestLength)
}

func TestKeccak256DeterministicAndSensitiveToInput(t *testing.T) {
	a := Keccak256([]byte("hello"))
	b := Keccak256([]byte("hello"))
	c := Keccak256([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestKeccak256MultiplePartsEqualsConcatenation(t *testing.T) {
	split := Keccak256([]byte("foo"), []byte("bar"))
	joined := Keccak256([]byte("foobar"))
	assert.Equal(t, joined, split)
}

func TestNewKeccakStateReadProducesDigestLength(t *testing.T) {
	h := NewKeccakState()
	_, err := h.Write([]byte("data"))
	require.NoError(t, err)

	out := make([]byte, DigestLength)
	n, err := h.Read(out)
	require.NoError(t, err)
	assert.Equal(t, DigestLength, n)
}

func TestSiteHashDeterministicAndOrderSensitive(t *testing.T) {
	addr := []byte{0x01, 0x02}
	pc := []byte{0x00, 0x00, 0x00, 0x10}

	h1 := SiteHash(addr, pc)
	h2 := SiteHash(addr, pc)
	assert.Equal(t, h1, h2)

	h3 := SiteHash(pc, addr)
	assert.NotEqual(t, h1, h3)
}

func TestSiteHashDistinctForDistinctInputs(t *testing.T) {
	h1 := SiteHash([]byte{0x01}, []byte{0x02})
	h2 := SiteHash([]byte{0x01}, []byte{0x03})
	assert.NotEqual(t, h1, h2)
}

func TestBugIDEncodesSiteHashAndTag(t *testing.T) {
	siteHash := uint64(0xdeadbeef)
	id := BugID(siteHash, ifuzzcommon.Reentrancy)
	assert.Equal(t, (siteHash<<8)|uint64(ifuzzcommon.Reentrancy), id)
	assert.Equal(t, byte(ifuzzcommon.Reentrancy), byte(id&0xff))
}

func TestBugIDDistinctTagsProduceDistinctIDs(t *testing.T) {
	siteHash := uint64(123)
	a := BugID(siteHash, ifuzzcommon.Reentrancy)
	b := BugID(siteHash, ifuzzcommon.Selfdestruct)
	assert.NotEqual(t, a, b)
}
