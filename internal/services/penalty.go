package services

import (
	"sync"
	"time"
)

// bypassPenalties[i] — бан за (i+1)-ю попытку обхода. Первая — только предупреждение.
var bypassPenalties = []time.Duration{
	0,
	15 * time.Minute,
	time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// BypassPenalty возвращает длительность бана за attempt-ю попытку; 0 — без бана.
func BypassPenalty(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(bypassPenalties) {
		idx = len(bypassPenalties) - 1
	}
	return bypassPenalties[idx]
}

const lockStripes = 64

// userLocks — полосатый мьютекс по id пользователя.
type userLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *userLocks) lock(id int64) func() {
	m := &l.stripes[uint64(id)%lockStripes]
	m.Lock()
	return m.Unlock
}
