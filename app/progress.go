package app

import "sync/atomic"

// progress counts finished batch entries
type progress struct {
	total int
	done  atomic.Int64
}

func (p *progress) inc() { p.done.Add(1) }

func (p *progress) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	return float64(p.done.Load()) / float64(p.total)
}
