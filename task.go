package raktr

import "time"

// task is the uniform contract every scheduled unit of work satisfies: due
// tells the loop whether to run it this tick, run executes its body on the
// loop thread, and expired tells the queue whether to drop it afterwards.
type task interface {
	due(now time.Time) bool
	run(now time.Time)
	expired() bool
}

// TaskFunc is the body a scheduled task runs. now is loop-relative wall
// time captured once per tick, not recomputed per task.
type TaskFunc func(now time.Time)

// oneOffTask fires on the next tick it is observed on, then is removed.
type oneOffTask struct {
	fn   TaskFunc
	done bool
}

func newOneOffTask(fn TaskFunc) *oneOffTask { return &oneOffTask{fn: fn} }

func (t *oneOffTask) due(time.Time) bool { return !t.done }
func (t *oneOffTask) run(now time.Time)  { t.fn(now); t.done = true }
func (t *oneOffTask) expired() bool      { return t.done }

// persistentTask fires every tick until the reactor stops.
type persistentTask struct {
	fn TaskFunc
}

func newPersistentTask(fn TaskFunc) *persistentTask { return &persistentTask{fn: fn} }

func (t *persistentTask) due(time.Time) bool { return true }
func (t *persistentTask) run(now time.Time)  { t.fn(now) }
func (t *persistentTask) expired() bool      { return false }

// periodicTask fires every interval seconds measured from the previous
// firing (wall-clock), not from actual firing time — drift is bounded but
// not corrected, per spec.
type periodicTask struct {
	fn       TaskFunc
	interval time.Duration
	nextFire time.Time
}

func newPeriodicTask(fn TaskFunc, interval time.Duration, now time.Time) *periodicTask {
	return &periodicTask{fn: fn, interval: interval, nextFire: now.Add(interval)}
}

func (t *periodicTask) due(now time.Time) bool { return !now.Before(t.nextFire) }
func (t *periodicTask) run(now time.Time) {
	t.fn(now)
	t.nextFire = t.nextFire.Add(t.interval)
	if t.nextFire.Before(now) {
		// Catch up without bursting: resume cadence from now rather than
		// firing once per missed interval.
		t.nextFire = now.Add(t.interval)
	}
}
func (t *periodicTask) expired() bool { return false }

// delayedTask fires once, no earlier than its absolute fire time, then is
// removed.
type delayedTask struct {
	fn       TaskFunc
	fireTime time.Time
	done     bool
}

func newDelayedTask(fn TaskFunc, delay time.Duration, now time.Time) *delayedTask {
	return &delayedTask{fn: fn, fireTime: now.Add(delay)}
}

func (t *delayedTask) due(now time.Time) bool { return !t.done && !now.Before(t.fireTime) }
func (t *delayedTask) run(now time.Time)      { t.fn(now); t.done = true }
func (t *delayedTask) expired() bool          { return t.done }
