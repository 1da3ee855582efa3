package memory

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed object pool. Objects with a Reset method are reset
// on the way back in.
type Pool[T any] struct {
	p *sync.Pool

	allocated atomic.Int64
	reused    atomic.Int64
	gets      atomic.Int64
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	pool := &Pool[T]{}
	pool.p = &sync.Pool{
		New: func() any {
			pool.allocated.Add(1)
			return ctor()
		},
	}
	return pool
}

func (p *Pool[T]) Get() *T {
	p.gets.Add(1)
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if r, ok := any(v).(interface{ Reset() }); ok {
		r.Reset()
	}
	p.reused.Add(1)
	p.p.Put(v)
}

type Stats struct {
	Gets      int64
	Allocated int64
	Returned  int64
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Gets:      p.gets.Load(),
		Allocated: p.allocated.Load(),
		Returned:  p.reused.Load(),
	}
}
