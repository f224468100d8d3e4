package cluster

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitmentRootConcatenationOrder(t *testing.T) {
	cb1 := []byte{0x01, 0x02}
	en1 := []byte{0x03}
	en2 := []byte{0x04, 0x05}
	cb2 := []byte{0x06}

	want := sha256.Sum256([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	want = sha256.Sum256(want[:])

	got := CommitmentRoot(cb1, en1, en2, cb2, nil)
	assert.Equal(t, want[:], got[:])
}

func TestCommitmentRootBranchFold(t *testing.T) {
	cb1 := []byte{0x01}
	branch := make([]byte, 32)
	branch[0] = 0xee

	base := CommitmentRoot(cb1, nil, nil, nil, nil)

	folded := sha256.Sum256(append(append([]byte(nil), base[:]...), branch...))
	folded = sha256.Sum256(folded[:])

	got := CommitmentRoot(cb1, nil, nil, nil, [][]byte{branch})
	require.Equal(t, folded[:], got[:])
	assert.NotEqual(t, base, got)
}

func TestCommitmentRootVariesWithExtranonce(t *testing.T) {
	cb1 := []byte{0x01, 0x02}
	cb2 := []byte{0x06}
	a := CommitmentRoot(cb1, nil, []byte{0x01, 0x00, 0x00, 0x00}, cb2, nil)
	b := CommitmentRoot(cb1, nil, []byte{0x02, 0x00, 0x00, 0x00}, cb2, nil)
	assert.NotEqual(t, a, b, "workers with distinct extranonces must hash distinct roots")
}
