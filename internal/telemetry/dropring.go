package telemetry

import "context"

// dropRing is a bounded buffer that drops the oldest entry on overflow
// (spec §4.15 "drop: a bounded ring buffer drops oldest events on
// overflow"), backed by a buffered channel rather than a hand-rolled
// circular slice — push/pop only ever touch the channel's own
// synchronization, no extra locking needed.
type dropRing struct {
	ch chan Event
}

func newDropRing(size int) *dropRing {
	return &dropRing{ch: make(chan Event, size)}
}

// push enqueues e, reporting true if it had to evict the oldest buffered
// event to make room.
func (r *dropRing) push(e Event) (dropped bool) {
	select {
	case r.ch <- e:
		return false
	default:
	}
	select {
	case <-r.ch:
	default:
	}
	select {
	case r.ch <- e:
	default:
	}
	return true
}

// pop blocks until an event is available or ctx is cancelled.
func (r *dropRing) pop(ctx context.Context) (Event, bool) {
	select {
	case e, ok := <-r.ch:
		return e, ok
	case <-ctx.Done():
		return Event{}, false
	}
}
