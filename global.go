package raktr

import "sync"

var (
	globalMu       sync.Mutex
	globalInstance *Reactor
	globalThread   *LoopThread
)

// Global returns the process-wide reactor, starting its loop thread the
// first time it is called. Later calls return the same instance until
// StopGlobal discards it, per spec.md §4.5.
func Global() *Reactor {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalInstance != nil {
		return globalInstance
	}

	r := NewReactor()
	thread, err := r.RunInThread()
	if err != nil {
		// tryStart only fails on an already-running reactor, and r is
		// freshly constructed, so this cannot happen.
		panic(err)
	}
	globalInstance = r
	globalThread = thread
	return r
}

// StopGlobal stops the process-wide reactor, blocks until its loop thread
// has fully exited, and discards the instance: the next call to Global
// starts a fresh reactor rather than resuming the stopped one.
func StopGlobal() {
	globalMu.Lock()
	r := globalInstance
	thread := globalThread
	globalMu.Unlock()

	if r == nil {
		return
	}
	r.Stop()
	thread.Wait()

	globalMu.Lock()
	if globalInstance == r {
		globalInstance = nil
		globalThread = nil
	}
	globalMu.Unlock()
}
