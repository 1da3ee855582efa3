package sequence

import "sync/atomic"

// Sequencer issues strictly increasing ids, starting after a seed.
// The matching loop is the only caller of Next; Current may be read
// from any goroutine.
type Sequencer struct {
	last atomic.Uint64
}

// New returns a sequencer whose first id is start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current is the most recently issued id, or the seed if none.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}
