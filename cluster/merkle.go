package cluster

import "crypto/sha256"

func sha256d(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// CommitmentRoot rebuilds the commitment root for one worker's extranonce.
// The arbitrary transaction is the upstream coinbase halves around both
// extranonce parts, hashed and folded through the branch path. Every worker
// gets a distinct extranonce2, so every worker hashes a distinct root.
func CommitmentRoot(coinbase1, extranonce1, extranonce2, coinbase2 []byte, branches [][]byte) (root [32]byte) {
	arbtx := make([]byte, 0, len(coinbase1)+len(extranonce1)+len(extranonce2)+len(coinbase2))
	arbtx = append(arbtx, coinbase1...)
	arbtx = append(arbtx, extranonce1...)
	arbtx = append(arbtx, extranonce2...)
	arbtx = append(arbtx, coinbase2...)

	h := sha256d(arbtx)
	for _, branch := range branches {
		m := make([]byte, 0, len(h)+len(branch))
		m = append(m, h...)
		m = append(m, branch...)
		h = sha256d(m)
	}
	copy(root[:], h)
	return root
}
