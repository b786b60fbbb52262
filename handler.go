package raktr

// Handler is the contract user code implements to react to one
// connection's lifecycle, mirroring the teacher's event.go/callback.go
// shape of nil-checked callback dispatch rather than a hand-rolled
// observer list.
type Handler interface {
	// OnConnect fires when the connection is established: for a client,
	// after the first writable event following a successful non-blocking
	// connect; for an accepted connection, immediately after accept. After
	// StartTLS it fires once more, when the TLS handshake completes.
	OnConnect()
	// OnRead fires every time bytes arrive.
	OnRead(data []byte)
	// OnWrite fires after each successful flush of the outgoing buffer.
	OnWrite()
	// OnClose fires at most once, when the connection terminates. reason
	// is nil for a clean close.
	OnClose(reason error)

	bind(c *Connection)
}

// HandlerConstructor builds a fresh Handler for one connection, capturing
// whatever positional args the caller passed to Connect/Listen. Listen
// stores this partially applied to its handlerArgs as the accept-factory;
// each accepted socket gets its own Handler instance from a fresh call.
type HandlerConstructor func(args ...interface{}) Handler

// BaseHandler is an embeddable no-op Handler. Embed it to pick up default
// implementations of all four callbacks and the Conn()/InitArgs()
// accessors; override only the callbacks you need.
type BaseHandler struct {
	conn *Connection
	args []interface{}
}

// NewBaseHandler is the default HandlerConstructor used when Connect or
// Listen is called with a nil constructor.
func NewBaseHandler(args ...interface{}) Handler {
	return &BaseHandler{args: args}
}

func (h *BaseHandler) bind(c *Connection) { h.conn = c; h.args = c.initArgs }

// Conn returns the connection this handler is bound to.
func (h *BaseHandler) Conn() *Connection { return h.conn }

// InitArgs returns the positional arguments captured at Connect/Listen
// time, for introspection.
func (h *BaseHandler) InitArgs() []interface{} { return h.args }

func (h *BaseHandler) OnConnect()        {}
func (h *BaseHandler) OnRead(b []byte)   {}
func (h *BaseHandler) OnWrite()          {}
func (h *BaseHandler) OnClose(err error) {}

// Hooks is a handler-configuration object: a builder that takes callback
// fields instead of requiring a type declaration per test, per the
// "dynamic per-instance callback override" design note. Unset hooks are
// no-ops.
type Hooks struct {
	OnConnectFunc func(c *Connection)
	OnReadFunc    func(c *Connection, data []byte)
	OnWriteFunc   func(c *Connection)
	OnCloseFunc   func(c *Connection, reason error)
}

// Handler returns a HandlerConstructor that produces a Handler running
// these hooks, ignoring any positional args (Hooks is meant for direct
// per-connection wiring, typically in tests).
func (h Hooks) Handler() HandlerConstructor {
	return func(args ...interface{}) Handler {
		return &hooksHandler{hooks: h}
	}
}

type hooksHandler struct {
	conn  *Connection
	hooks Hooks
}

func (h *hooksHandler) bind(c *Connection) { h.conn = c }

func (h *hooksHandler) OnConnect() {
	if h.hooks.OnConnectFunc != nil {
		h.hooks.OnConnectFunc(h.conn)
	}
}

func (h *hooksHandler) OnRead(data []byte) {
	if h.hooks.OnReadFunc != nil {
		h.hooks.OnReadFunc(h.conn, data)
	}
}

func (h *hooksHandler) OnWrite() {
	if h.hooks.OnWriteFunc != nil {
		h.hooks.OnWriteFunc(h.conn)
	}
}

func (h *hooksHandler) OnClose(reason error) {
	if h.hooks.OnCloseFunc != nil {
		h.hooks.OnCloseFunc(h.conn, reason)
	}
}
