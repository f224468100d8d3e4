package cluster

// NonceRange is one contiguous inclusive span of the 32-bit nonce space.
type NonceRange struct {
	Start uint32
	End   uint32
}

func (r NonceRange) Size() uint64 {
	return uint64(r.End) - uint64(r.Start) + 1
}

// PartitionNonces splits [0, 2^32) into n contiguous ranges. The division
// remainder goes to the last range so the union covers the space exactly,
// with no gaps and no overlaps. Index 0 belongs to the coordinator itself.
func PartitionNonces(n int) []NonceRange {
	if n <= 0 {
		return nil
	}
	size := (uint64(1) << 32) / uint64(n)
	out := make([]NonceRange, n)
	var start uint64
	for i := range out {
		end := start + size - 1
		if i == n-1 {
			end = (uint64(1) << 32) - 1
		}
		out[i] = NonceRange{Start: uint32(start), End: uint32(end)}
		start += size
	}
	return out
}
