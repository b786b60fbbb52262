package raktr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOneOffTaskFiresOnceThenExpires(t *testing.T) {
	var calls int
	task := newOneOffTask(func(time.Time) { calls++ })

	now := time.Now()
	require.True(t, task.due(now))
	task.run(now)
	require.Equal(t, 1, calls)
	require.True(t, task.expired())
	require.False(t, task.due(now))
}

func TestPersistentTaskNeverExpires(t *testing.T) {
	var calls int
	task := newPersistentTask(func(time.Time) { calls++ })

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.True(t, task.due(now))
		task.run(now)
	}
	require.Equal(t, 3, calls)
	require.False(t, task.expired())
}

func TestPeriodicTaskFiresOnCadence(t *testing.T) {
	start := time.Now()
	var fires []time.Time
	task := newPeriodicTask(func(now time.Time) { fires = append(fires, now) }, time.Second, start)

	require.False(t, task.due(start))
	require.False(t, task.due(start.Add(500*time.Millisecond)))

	fireTime := start.Add(time.Second)
	require.True(t, task.due(fireTime))
	task.run(fireTime)
	require.Len(t, fires, 1)

	require.False(t, task.due(fireTime.Add(500*time.Millisecond)))
	require.True(t, task.due(fireTime.Add(time.Second)))
}

func TestPeriodicTaskResumesCadenceAfterLongGap(t *testing.T) {
	start := time.Now()
	task := newPeriodicTask(func(time.Time) {}, time.Second, start)

	farFuture := start.Add(time.Hour)
	require.True(t, task.due(farFuture))
	task.run(farFuture)

	// After a long stall, the task catches up once rather than bursting to
	// make up every missed interval.
	require.False(t, task.due(farFuture.Add(500*time.Millisecond)))
	require.True(t, task.due(farFuture.Add(time.Second)))
}

func TestDelayedTaskFiresOnceAfterDelay(t *testing.T) {
	start := time.Now()
	var calls int
	task := newDelayedTask(func(time.Time) { calls++ }, 200*time.Millisecond, start)

	require.False(t, task.due(start))
	require.False(t, task.due(start.Add(100*time.Millisecond)))

	fireTime := start.Add(200 * time.Millisecond)
	require.True(t, task.due(fireTime))
	task.run(fireTime)
	require.Equal(t, 1, calls)
	require.True(t, task.expired())
}
