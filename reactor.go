package raktr

import (
	"log"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/qadron/raktr/pkg/poller"
)

const defaultMaxTickInterval = 100 * time.Millisecond

// Option configures a Reactor at construction, following the teacher's
// functional-options idiom (config.go/option.go).
type Option func(*Reactor)

// WithMaxTickInterval sets the selector timeout: the longest the loop can
// block in one readiness wait when nothing is ready. Zero means block
// indefinitely until readiness, per spec.md §6.
func WithMaxTickInterval(d time.Duration) Option {
	return func(r *Reactor) { r.maxTickInterval = d }
}

// WithLogger overrides the reactor's logger, used to report selector
// creation and wait failures. Listener bind failures are returned to the
// caller rather than logged, accept failures are dropped silently, and
// panics in callbacks or tasks are not recovered.
func WithLogger(l *log.Logger) Option {
	return func(r *Reactor) { r.logger = l }
}

// WithMetricsRegistry overrides the go-metrics registry the reactor
// reports tick/connection counters into.
func WithMetricsRegistry(reg metrics.Registry) Option {
	return func(r *Reactor) { r.metrics = reg }
}

// LoopThread is the handle RunInThread returns: wait on it to block until
// the loop exits.
type LoopThread struct {
	done chan struct{}
}

// Wait blocks until the reactor's loop thread returns.
func (lt *LoopThread) Wait() { <-lt.done }

// Reactor is a single-threaded event-loop instance: it owns a registry of
// connections and a queue of tasks, and runs the select/dispatch/tasks
// cycle described in spec.md §4.1.
type Reactor struct {
	maxTickInterval time.Duration
	logger          *log.Logger
	metrics         metrics.Registry

	tickCounter      metrics.Counter
	acceptedCounter  metrics.Counter
	closedCounter    metrics.Counter
	memSampler       *memSampler

	running      atomic.Bool
	stopRequest  atomic.Bool
	loopGoroutine atomic.Uint64
	ticks        atomic.Uint64

	mu    sync.Mutex
	conns map[int]*Connection

	tasks taskQueue
	poll  poller.Poller

	wakeReader *os.File
	wakeWriter *os.File
	wakeFD     int

	thread *LoopThread
}

// NewReactor constructs an idle reactor. It owns no socket or thread until
// Run/RunInThread/RunBlock is called.
func NewReactor(opts ...Option) *Reactor {
	r := &Reactor{
		maxTickInterval: defaultMaxTickInterval,
		logger:          log.Default(),
		metrics:         metrics.NewRegistry(),
		conns:           make(map[int]*Connection),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tickCounter = metrics.GetOrRegisterCounter("raktr.ticks", r.metrics)
	r.acceptedCounter = metrics.GetOrRegisterCounter("raktr.connections.accepted", r.metrics)
	r.closedCounter = metrics.GetOrRegisterCounter("raktr.connections.closed", r.metrics)
	r.memSampler = newMemSampler(r.metrics)
	return r
}

// Metrics exposes the reactor's go-metrics registry (tick count,
// connections accepted, connections closed).
func (r *Reactor) Metrics() metrics.Registry { return r.metrics }

// Running reports whether the reactor currently has a loop thread.
func (r *Reactor) Running() bool { return r.running.Load() }

// Ticks returns the current tick count; zero whenever the reactor is not
// running.
func (r *Reactor) Ticks() uint64 { return r.ticks.Load() }

// InSameThread reports whether the calling goroutine is the reactor's
// loop thread. Fails with ErrNotRunning if no loop is active.
func (r *Reactor) InSameThread() (bool, error) {
	if !r.Running() {
		return false, ErrNotRunning
	}
	gid := r.loopGoroutine.Load()
	return gid != 0 && goroutineID() == gid, nil
}

func (r *Reactor) inSameThreadUnsafe() bool {
	gid := r.loopGoroutine.Load()
	return gid != 0 && goroutineID() == gid
}

// Connections returns a snapshot of currently attached connections,
// keyed by socket handle.
func (r *Reactor) Connections() map[int]*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]*Connection, len(r.conns))
	for fd, c := range r.conns {
		out[fd] = c
	}
	return out
}

func (r *Reactor) tryStart() bool { return r.running.CompareAndSwap(false, true) }

// Run starts the loop on the calling thread, optionally running body as
// a one-off task of the first tick (after that tick's readiness wait). It
// returns only once Stop is observed.
func (r *Reactor) Run(body ...TaskFunc) error {
	if !r.tryStart() {
		return ErrAlreadyRunning
	}
	var first TaskFunc
	if len(body) > 0 {
		first = body[0]
	}
	r.loop(first, false)
	return nil
}

// RunInThread spawns a fresh goroutine, runs Run on it, and returns a
// handle to wait for its exit.
func (r *Reactor) RunInThread(body ...TaskFunc) (*LoopThread, error) {
	if !r.tryStart() {
		return nil, ErrAlreadyRunning
	}
	var first TaskFunc
	if len(body) > 0 {
		first = body[0]
	}
	lt := r.newThread()
	go func() {
		defer close(lt.done)
		r.loop(first, false)
	}()
	return lt, nil
}

// RunBlock runs a short-lived loop: body executes on the loop thread as
// the first tick, then the reactor keeps ticking until either Stop is
// called or, after body has run, the task queue and connection registry
// both drain empty at the end of a tick — whichever happens first. This
// resolves the ambiguity spec.md's Design Notes flag for run_block: the
// block's return does not by itself end the loop (the block typically
// just kicks off connect/listen calls whose work outlives it), but an
// empty reactor with nothing left to do is never worth blocking on.
func (r *Reactor) RunBlock(body TaskFunc) error {
	if body == nil {
		return ErrMissingArgument
	}
	if !r.tryStart() {
		return ErrAlreadyRunning
	}
	r.loop(body, true)
	return nil
}

// Thread returns the handle for the reactor's loop thread, and false if
// the reactor has no loop thread (not yet started, or already stopped).
// Run sets this on the calling goroutine just as RunInThread does on its
// spawned one, so any caller — not just the one that started the loop —
// can retrieve it to wait for the loop's exit.
func (r *Reactor) Thread() (*LoopThread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.thread == nil {
		return nil, false
	}
	return r.thread, true
}

func (r *Reactor) newThread() *LoopThread {
	lt := &LoopThread{done: make(chan struct{})}
	r.mu.Lock()
	r.thread = lt
	r.mu.Unlock()
	return lt
}

// Stop requests termination. Idempotent and safe from any thread. If the
// reactor is not running, it is a no-op. Observation happens inside the
// loop: Stop schedules a one-off task that sets the stop flag, per
// spec.md §4.1.
func (r *Reactor) Stop() {
	if !r.Running() {
		return
	}
	r.tasks.append(newOneOffTask(func(time.Time) {
		r.stopRequest.Store(true)
	}))
	r.wake()
}

func (r *Reactor) requireRunning() error {
	if !r.Running() {
		return ErrNotRunning
	}
	return nil
}

// Schedule runs body inline immediately if the caller is on the loop
// thread; otherwise it enqueues body as a next-tick task. Fails with
// ErrNotRunning if no loop is active.
func (r *Reactor) Schedule(body TaskFunc) error {
	if err := r.requireRunning(); err != nil {
		return err
	}
	if r.inSameThreadUnsafe() {
		body(time.Now())
		return nil
	}
	r.tasks.append(newOneOffTask(body))
	r.wake()
	return nil
}

// NextTick schedules body to run once, on the next tick.
func (r *Reactor) NextTick(body TaskFunc) error {
	if err := r.requireRunning(); err != nil {
		return err
	}
	r.tasks.append(newOneOffTask(body))
	r.wake()
	return nil
}

// OnTick schedules body to run every tick until the reactor stops.
func (r *Reactor) OnTick(body TaskFunc) error {
	if err := r.requireRunning(); err != nil {
		return err
	}
	r.tasks.append(newPersistentTask(body))
	r.wake()
	return nil
}

// AtInterval schedules body to fire every interval, measured wall-clock
// from the previous firing.
func (r *Reactor) AtInterval(interval time.Duration, body TaskFunc) error {
	if err := r.requireRunning(); err != nil {
		return err
	}
	r.tasks.append(newPeriodicTask(body, interval, time.Now()))
	r.wake()
	return nil
}

// Delay schedules body to fire once, no earlier than delay from now.
func (r *Reactor) Delay(delay time.Duration, body TaskFunc) error {
	if err := r.requireRunning(); err != nil {
		return err
	}
	r.tasks.append(newDelayedTask(body, delay, time.Now()))
	r.wake()
	return nil
}

// CreateQueue returns a FIFO queue whose scheduler is this reactor: Push
// is safe from any thread and wakes the loop; Pop returns values on
// whichever goroutine calls it, typically the loop thread.
func (r *Reactor) CreateQueue() *Queue {
	return &Queue{reactor: r}
}

func (r *Reactor) wake() {
	r.mu.Lock()
	w := r.wakeWriter
	r.mu.Unlock()
	if w != nil {
		_, _ = w.Write([]byte{0})
	}
}

func drainWake(w *os.File) {
	buf := make([]byte, 64)
	for {
		n, err := w.Read(buf)
		if n < len(buf) || err != nil {
			return
		}
	}
}

// attach registers a connection with the reactor: adds it to the registry
// and to the poller's interest set. forceWritable is used for a client
// connection with a non-blocking connect in flight, which needs a
// writable event to detect completion even though its outgoing buffer is
// still empty.
func (r *Reactor) attach(c *Connection, forceWritable bool) error {
	writable := forceWritable || c.OutgoingBuffered() > 0
	if err := r.poll.Add(c.fd, writable); err != nil {
		return err
	}
	r.mu.Lock()
	r.conns[c.fd] = c
	r.mu.Unlock()
	if c.role == RoleServerAccepted {
		r.acceptedCounter.Inc(1)
	}
	return nil
}

func (r *Reactor) detach(fd int) {
	r.mu.Lock()
	delete(r.conns, fd)
	r.mu.Unlock()
	if r.poll != nil {
		_ = r.poll.Remove(fd)
	}
	r.closedCounter.Inc(1)
}

func (r *Reactor) setWritable(fd int, writable bool) {
	r.mu.Lock()
	_, ok := r.conns[fd]
	r.mu.Unlock()
	if !ok || r.poll == nil {
		return
	}
	_ = r.poll.SetWritable(fd, writable)
}

func (r *Reactor) connByFD(fd int) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[fd]
}

// loop is the shared implementation behind Run/RunInThread/RunBlock. A
// LoopThread handle always exists once a loop is running, regardless of
// which entry point started it: RunInThread creates one before spawning
// the goroutine, and loop creates one itself for Run/RunBlock's
// calling-thread case, so Thread() is always answerable while running.
func (r *Reactor) loop(first TaskFunc, drainMode bool) {
	r.mu.Lock()
	lt := r.thread
	r.mu.Unlock()
	if lt == nil {
		lt = r.newThread()
		defer close(lt.done)
	}

	p, err := poller.New()
	if err != nil {
		r.logger.Printf("raktr: selector unavailable: %v", err)
		r.mu.Lock()
		r.thread = nil
		r.mu.Unlock()
		r.running.Store(false)
		return
	}
	r.poll = p

	wr, ww, err := os.Pipe()
	if err == nil {
		r.wakeReader = wr
		r.wakeWriter = ww
		r.wakeFD = int(wr.Fd())
		_ = r.poll.Add(r.wakeFD, false)
	}

	r.loopGoroutine.Store(goroutineID())
	r.ticks.Store(0)
	r.stopRequest.Store(false)

	if first != nil {
		r.tasks.append(newOneOffTask(first))
	}

	for {
		r.tickOnce()
		r.ticks.Add(1)
		r.tickCounter.Inc(1)

		if r.stopRequest.Load() {
			break
		}
		if drainMode && r.connsLen() == 0 && r.tasks.len() == 0 {
			break
		}
	}

	r.teardown()
}

func (r *Reactor) connsLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Reactor) tickOnce() {
	readable, writable, errored, err := r.poll.Wait(r.maxTickInterval)
	if err != nil {
		r.logger.Printf("raktr: selector wait failed: %v", err)
		return
	}

	now := time.Now()

	for _, fd := range errored {
		if c := r.connByFD(fd); c != nil {
			c.Close(socketError(fd))
		}
	}

	for _, fd := range writable {
		if c := r.connByFD(fd); c != nil {
			c.onWritable(now)
		}
	}

	for _, fd := range readable {
		if fd == r.wakeFD {
			drainWake(r.wakeReader)
			continue
		}
		if c := r.connByFD(fd); c != nil {
			c.onReadable(now)
		}
	}

	r.tasks.runDue(now)
	r.memSampler.maybeSample(now)
}

func (r *Reactor) teardown() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.closeWithoutCallback()
	}

	r.tasks.clear()

	if r.poll != nil {
		_ = r.poll.Close()
		r.poll = nil
	}
	if r.wakeWriter != nil {
		_ = r.wakeWriter.Close()
		_ = r.wakeReader.Close()
		r.wakeReader, r.wakeWriter = nil, nil
		r.wakeFD = 0
	}

	r.ticks.Store(0)
	r.loopGoroutine.Store(0)
	r.running.Store(false)

	r.mu.Lock()
	r.thread = nil
	r.mu.Unlock()
}

// ListenOptions configures Listen's socket backlog (128 when unset),
// generalizing the teacher's acceptor.go WithReadBuffer/WithWriteBuffer
// pattern. Address reuse is not configurable: TCP listeners always get
// SO_REUSEADDR.
type ListenOptions struct {
	Backlog int
}

func (o ListenOptions) backlog() int {
	if o.Backlog > 0 {
		return o.Backlog
	}
	return 128
}

// Connect creates a non-blocking client socket and attaches it to the
// reactor. network is "tcp" or "unix"; for "tcp", address is host:port,
// for "unix" it is a socket path. ctor may be nil to use the base
// connection handler. Connect never fails once its arguments parse: any
// dial failure is translated and delivered through the handler's OnClose,
// and the (already-closed) Connection is still returned.
func (r *Reactor) Connect(network, address string, ctor HandlerConstructor, args ...interface{}) (*Connection, error) {
	if err := r.requireRunning(); err != nil {
		return nil, err
	}
	if network != "tcp" && network != "unix" {
		return nil, ErrMissingArgument
	}
	if ctor == nil {
		ctor = NewBaseHandler
	}

	var (
		fd  int
		err error
	)
	switch network {
	case "tcp":
		host, portStr, splitErr := net.SplitHostPort(address)
		if splitErr != nil {
			return nil, ErrMissingArgument
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			return nil, ErrMissingArgument
		}
		fd, err = dialTCPNonblock(host, port)
	case "unix":
		fd, err = dialUnixNonblock(address)
	}

	handler := ctor(args...)
	if err != nil {
		stub := newConnection(r, -1, RoleClient, handler, args)
		stub.closed = true
		handler.OnClose(err)
		return stub, nil
	}

	c := newConnection(r, fd, RoleClient, handler, args)
	c.connectPending = true

	r.runOnLoop(func() {
		if err := r.attach(c, true); err != nil {
			c.closed = true
			handler.OnClose(translateError(err))
		}
	})

	return c, nil
}

// Listen creates a listening socket (TCP or UNIX) and attaches it to the
// reactor. Unlike Connect, a bind/listen failure is translated and raised
// synchronously to the caller — listen is configuration, not a transient
// network condition. The returned server connection's accept-factory is
// ctor partially applied to args.
func (r *Reactor) Listen(network, address string, ctor HandlerConstructor, args []interface{}, opts ...ListenOptions) (*Connection, error) {
	if err := r.requireRunning(); err != nil {
		return nil, err
	}
	if network != "tcp" && network != "unix" {
		return nil, ErrMissingArgument
	}
	if ctor == nil {
		ctor = NewBaseHandler
	}

	var opt ListenOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	var (
		fd  int
		err error
	)
	switch network {
	case "tcp":
		host, portStr, splitErr := net.SplitHostPort(address)
		if splitErr != nil {
			return nil, ErrMissingArgument
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			return nil, ErrMissingArgument
		}
		fd, err = listenTCPNonblock(host, port, opt.backlog())
	case "unix":
		fd, err = listenUnixNonblock(address, opt.backlog())
	}
	if err != nil {
		return nil, translateError(err)
	}

	listenerHandler := NewBaseHandler()
	listener := newConnection(r, fd, RoleServerListener, listenerHandler, args)
	listener.listenNetwork = network
	listener.listenAddr = address
	listener.acceptFactory = func() (Handler, []interface{}) { return ctor(args...), args }

	var attachErr error
	r.runOnLoop(func() {
		attachErr = r.attach(listener, false)
	})
	if attachErr != nil {
		return nil, translateError(attachErr)
	}

	return listener, nil
}

// runOnLoop executes f on the loop thread: inline if already there,
// otherwise deferred via a one-off task (and woken promptly), blocking
// the calling goroutine until f has actually run so Connect/Listen can
// return a connection already reflected in the registry.
func (r *Reactor) runOnLoop(f func()) {
	if r.inSameThreadUnsafe() {
		f()
		return
	}
	done := make(chan struct{})
	r.tasks.append(newOneOffTask(func(time.Time) {
		f()
		close(done)
	}))
	r.wake()
	<-done
}

// goroutineID returns a coarse identity for the calling goroutine, parsed
// from runtime.Stack's header line. No dependency in the retrieval pack
// offers goroutine-local storage, and this is the well-known community
// technique for the one thing spec.md actually needs here: a cheap
// "am I the loop thread" check from InSameThread.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	// "goroutine 123 [running]:\n..."
	var id uint64
	i := len("goroutine ")
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		id = id*10 + uint64(buf[i]-'0')
		i++
	}
	return id
}
