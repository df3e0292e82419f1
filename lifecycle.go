package nakadi

import (
	"sync/atomic"
	"time"
)

// lifecycle is a shared token used to coordinate shutdown between the
// components of a stream. Transitions are monotonic: running, then abort
// requested, then stopped. There is no revival.
type lifecycle struct {
	abortRequested atomic.Bool
	isStopped      atomic.Bool
}

func newLifecycle() *lifecycle {
	return &lifecycle{}
}

// running reports whether the component has not yet terminated.
func (l *lifecycle) running() bool {
	return !l.isStopped.Load()
}

// requestAbort asks the owning component to terminate. The request is
// observed cooperatively; callers await stopped for confirmation.
func (l *lifecycle) requestAbort() {
	l.abortRequested.Store(true)
}

func (l *lifecycle) abortRequestedFlag() bool {
	return l.abortRequested.Load()
}

// stopped marks the component as finally terminated. It implies that no
// further side effects occur.
func (l *lifecycle) stopped() {
	l.abortRequested.Store(true)
	l.isStopped.Store(true)
}

// waitStopped blocks until the component reports stopped.
func (l *lifecycle) waitStopped() {
	for l.running() {
		time.Sleep(10 * time.Millisecond)
	}
}
