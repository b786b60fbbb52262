package raktr

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestReactorAlreadyRunning(t *testing.T) {
	r := NewReactor()
	thread, err := r.RunInThread()
	require.NoError(t, err)

	_, err = r.RunInThread()
	require.ErrorIs(t, err, ErrAlreadyRunning)

	r.Stop()
	thread.Wait()
}

func TestReactorNotRunningRejectsScheduling(t *testing.T) {
	r := NewReactor()
	err := r.NextTick(func(time.Time) {})
	require.ErrorIs(t, err, ErrNotRunning)

	_, err = r.Connect("tcp", "127.0.0.1:1", nil)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestReactorTCPEcho(t *testing.T) {
	r := NewReactor()
	thread, err := r.RunInThread()
	require.NoError(t, err)
	defer func() {
		r.Stop()
		thread.Wait()
	}()

	port := freeTCPPort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	echo := Hooks{
		OnReadFunc: func(c *Connection, data []byte) {
			c.SendData(data)
			c.DiscardReceived(len(data))
		},
	}
	_, err = r.Listen("tcp", addr, echo.Handler(), nil)
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestReactorUnixEcho(t *testing.T) {
	r := NewReactor()
	thread, err := r.RunInThread()
	require.NoError(t, err)
	defer func() {
		r.Stop()
		thread.Wait()
	}()

	path := t.TempDir() + "/raktr-test.sock"

	echo := Hooks{
		OnReadFunc: func(c *Connection, data []byte) {
			c.SendData(data)
			c.DiscardReceived(len(data))
		},
	}
	_, err = r.Listen("unix", path, echo.Handler(), nil)
	require.NoError(t, err)

	// Listen has bound the socket file and registered the listener before
	// returning; the dial is still retried a few times rather than failing
	// the test on one transient error.
	var conn net.Conn
	for i := 0; i < 20; i++ {
		conn, err = net.DialTimeout("unix", path, 200*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("pong"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf[:n]))
}

func TestReactorConnectRefusedDeliversOnClose(t *testing.T) {
	r := NewReactor()
	thread, err := r.RunInThread()
	require.NoError(t, err)
	defer func() {
		r.Stop()
		thread.Wait()
	}()

	port := freeTCPPort(t) // nothing listens on this port

	done := make(chan error, 1)
	hooks := Hooks{
		OnCloseFunc: func(_ *Connection, reason error) { done <- reason },
	}
	_, err = r.Connect("tcp", "127.0.0.1:"+strconv.Itoa(port), hooks.Handler())
	require.NoError(t, err)

	select {
	case reason := <-done:
		require.Error(t, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestReactorListenInvalidAddressFailsSynchronously(t *testing.T) {
	r := NewReactor()
	thread, err := r.RunInThread()
	require.NoError(t, err)
	defer func() {
		r.Stop()
		thread.Wait()
	}()

	_, err = r.Listen("tcp", "not-an-address", nil, nil)
	require.Error(t, err)
}

func TestReactorAtInterval(t *testing.T) {
	r := NewReactor(WithMaxTickInterval(5 * time.Millisecond))
	thread, err := r.RunInThread()
	require.NoError(t, err)
	defer func() {
		r.Stop()
		thread.Wait()
	}()

	var mu sync.Mutex
	fires := 0
	require.NoError(t, r.AtInterval(20*time.Millisecond, func(time.Time) {
		mu.Lock()
		fires++
		mu.Unlock()
	}))

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	got := fires
	mu.Unlock()
	require.GreaterOrEqual(t, got, 3)
}

func TestReactorInSameThread(t *testing.T) {
	r := NewReactor()
	thread, err := r.RunInThread()
	require.NoError(t, err)
	defer func() {
		r.Stop()
		thread.Wait()
	}()

	same, err := r.InSameThread()
	require.NoError(t, err)
	require.False(t, same)

	result := make(chan bool, 1)
	require.NoError(t, r.NextTick(func(time.Time) {
		same, _ := r.InSameThread()
		result <- same
	}))

	select {
	case got := <-result:
		require.True(t, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled task")
	}
}

func TestReactorThreadAccessorMatchesRunInThreadHandle(t *testing.T) {
	r := NewReactor()

	_, ok := r.Thread()
	require.False(t, ok, "no loop thread before Run")

	thread, err := r.RunInThread()
	require.NoError(t, err)

	got, ok := r.Thread()
	require.True(t, ok)
	require.Same(t, thread, got)

	r.Stop()
	thread.Wait()

	_, ok = r.Thread()
	require.False(t, ok, "no loop thread after Stop")
}

func TestReactorRunBlockExposesThreadToOtherGoroutines(t *testing.T) {
	r := NewReactor()
	started := make(chan struct{})

	go func() {
		err := r.RunBlock(func(time.Time) { close(started) })
		require.NoError(t, err)
	}()

	<-started
	thread, ok := r.Thread()
	require.True(t, ok)

	r.Stop()
	thread.Wait()
}

func TestAcceptedConnectionInheritsListenerInitArgs(t *testing.T) {
	r := NewReactor()
	thread, err := r.RunInThread()
	require.NoError(t, err)
	defer func() {
		r.Stop()
		thread.Wait()
	}()

	port := freeTCPPort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	gotArgs := make(chan []interface{}, 1)
	ctor := func(args ...interface{}) Handler {
		return &hooksHandler{hooks: Hooks{
			OnConnectFunc: func(c *Connection) { gotArgs <- c.InitArgs() },
		}}
	}
	_, err = r.Listen("tcp", addr, ctor, []interface{}{"room-42", 7})
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case args := <-gotArgs:
		require.Equal(t, []interface{}{"room-42", 7}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection's OnConnect")
	}
}

func TestConnectionCloseIfIdleClosesAfterDelay(t *testing.T) {
	r := NewReactor(WithMaxTickInterval(5 * time.Millisecond))
	thread, err := r.RunInThread()
	require.NoError(t, err)
	defer func() {
		r.Stop()
		thread.Wait()
	}()

	port := freeTCPPort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	closed := make(chan error, 1)
	hooks := Hooks{
		OnConnectFunc: func(c *Connection) { require.NoError(t, c.CloseIfIdle(20*time.Millisecond)) },
		OnCloseFunc:   func(_ *Connection, reason error) { closed <- reason },
	}
	_, err = r.Listen("tcp", addr, hooks.Handler(), nil)
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case reason := <-closed:
		require.ErrorIs(t, reason, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CloseIfIdle to fire")
	}
}

func TestGlobalReturnsSameInstanceUntilStopped(t *testing.T) {
	g1 := Global()
	g2 := Global()
	require.Same(t, g1, g2)

	StopGlobal()

	g3 := Global()
	require.NotSame(t, g1, g3)
	StopGlobal()
}
