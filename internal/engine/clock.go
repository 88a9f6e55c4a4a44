package engine

import "sync/atomic"

// Clock stamps verdicts with completion sequence numbers within a batch.
//
// Verdicts are stamped as they reach the collector, so Seq reflects
// completion order, not submission order. The first stamp is 1.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock that has handed out nothing yet.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Stamp sets v.Seq to the next sequence number and returns it.
func (c *Clock) Stamp(v *Verdict) int64 {
	v.Seq = c.Next()
	return v.Seq
}
