package raktr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskQueueRunsDueTasksInOrder(t *testing.T) {
	var q taskQueue
	var order []int

	q.append(newOneOffTask(func(time.Time) { order = append(order, 1) }))
	q.append(newOneOffTask(func(time.Time) { order = append(order, 2) }))

	q.runDue(time.Now())
	require.Equal(t, []int{1, 2}, order)
	require.Equal(t, 0, q.len())
}

func TestTaskQueueDropsExpiredAfterRunning(t *testing.T) {
	var q taskQueue
	q.append(newPersistentTask(func(time.Time) {}))
	q.append(newOneOffTask(func(time.Time) {}))

	q.runDue(time.Now())
	require.Equal(t, 1, q.len())
}

func TestTaskQueueAppendIsSafeConcurrently(t *testing.T) {
	var q taskQueue
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.append(newOneOffTask(func(time.Time) {}))
		}()
	}
	wg.Wait()
	require.Equal(t, 50, q.len())
}

func TestQueuePushPopIsFIFO(t *testing.T) {
	r := &Reactor{}
	q := &Queue{reactor: r}

	q.Push("a")
	q.Push("b")
	q.Push("c")
	require.Equal(t, 3, q.Len())

	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "a", v)

	v, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, "b", v)

	require.Equal(t, 1, q.Len())
}

func TestQueuePopOnEmptyReturnsFalse(t *testing.T) {
	r := &Reactor{}
	q := &Queue{reactor: r}

	_, ok := q.Pop()
	require.False(t, ok)
}
