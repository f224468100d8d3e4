package statistics

import "sync"

const seriesLen = 3600

// HashRate keeps one sample per second for the last hour. The monitor loop
// feeds it, the status API reads it.
type HashRate struct {
	mu         sync.Mutex
	dataSeries [seriesLen]float64
	currentPos int
	filled     int
}

func (hr *HashRate) Add(num float64) {
	hr.mu.Lock()
	hr.currentPos = (hr.currentPos + 1) % seriesLen
	hr.dataSeries[hr.currentPos] = num
	if hr.filled < seriesLen {
		hr.filled++
	}
	hr.mu.Unlock()
}

func (hr *HashRate) RecentNSum(recentn int) (sum float64) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	pos := 0
	for i := 0; i < recentn; i++ {
		pos = (hr.currentPos - i)
		if pos < 0 {
			pos += seriesLen
		}
		sum += hr.dataSeries[pos]
	}
	return
}

// RecentNAvg averages over the lesser of recentn and the samples actually
// collected, so young windows do not read artificially low.
func (hr *HashRate) RecentNAvg(recentn int) float64 {
	hr.mu.Lock()
	n := hr.filled
	hr.mu.Unlock()
	if recentn < n {
		n = recentn
	}
	if n == 0 {
		return 0
	}
	return hr.RecentNSum(n) / float64(n)
}
