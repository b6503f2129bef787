package tablestream

import "sync/atomic"

// cancelFlag is the shared advisory stop signal for a download. Single
// writer (the coordinator, during shutdown), many readers (the workers, once
// per loop iteration). The set is monotonic false->true, so a relaxed atomic
// is all the synchronization it needs.
type cancelFlag struct {
	v atomic.Bool
}

func (f *cancelFlag) raise() {
	f.v.Store(true)
}

func (f *cancelFlag) raised() bool {
	return f.v.Load()
}
