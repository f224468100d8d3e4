package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionCoversNonceSpace(t *testing.T) {
	for n := 1; n <= 9; n++ {
		ranges := PartitionNonces(n)
		require.Len(t, ranges, n)

		assert.Equal(t, uint32(0), ranges[0].Start)
		assert.Equal(t, uint32(0xffffffff), ranges[n-1].End)

		var total uint64
		for i, r := range ranges {
			require.LessOrEqual(t, uint64(r.Start), uint64(r.End), "n=%d i=%d", n, i)
			total += r.Size()
			if i > 0 {
				// Contiguous, no gap and no overlap.
				require.Equal(t, uint64(ranges[i-1].End)+1, uint64(r.Start), "n=%d i=%d", n, i)
			}
		}
		assert.Equal(t, uint64(1)<<32, total, "n=%d", n)
	}
}

func TestPartitionRemainderGoesLast(t *testing.T) {
	// 2^32 = 3*1431655765 + 1, so the third range is one nonce wider.
	ranges := PartitionNonces(3)
	assert.Equal(t, uint64(1431655765), ranges[0].Size())
	assert.Equal(t, uint64(1431655765), ranges[1].Size())
	assert.Equal(t, uint64(1431655766), ranges[2].Size())
}

func TestPartitionDegenerate(t *testing.T) {
	assert.Nil(t, PartitionNonces(0))
	assert.Nil(t, PartitionNonces(-1))

	solo := PartitionNonces(1)
	require.Len(t, solo, 1)
	assert.Equal(t, uint64(1)<<32, solo[0].Size())
}
