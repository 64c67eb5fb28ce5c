// Package syncer keeps the delivery store in step with the backend: a poll
// loop fetches full snapshots and push sources ask it to poll right away.
package syncer

// Trigger requests an immediate poll. Pending requests coalesce into one.
type Trigger struct {
	ch chan struct{}
}

// NewTrigger returns an idle Trigger.
func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Fire requests a poll and reports whether the request was queued; false
// means one is already pending.
func (t *Trigger) Fire() bool {
	select {
	case t.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// C is drained by the poll loop.
func (t *Trigger) C() <-chan struct{} { return t.ch }
