// Package conn implements the connection pipeline: the state machine
// that carries a single TCP connection through Disconnected →
// Connecting → Greeted → Authenticating → Ready → Closing → Closed,
// dispatching requests and routing responses back to their callers via
// the request future registry.
//
// A single goroutine owns the socket's read side for the life of the
// connection; writes are serialized by a mutex so that sync-ids reach
// the wire in registration order.
package conn

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dbwire/auth"
	"dbwire/codec"
	"dbwire/dberr"
	"dbwire/future"
	"dbwire/wire"
)

// State is a position in the connection state machine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateGreeted
	StateAuthenticating
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateGreeted:
		return "Greeted"
	case StateAuthenticating:
		return "Authenticating"
	case StateReady:
		return "Ready"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Options configures a single connection: address, timeouts, and
// credentials.
type Options struct {
	Host string
	Port int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	RequestTimeout time.Duration

	Credentials    auth.Credentials
	Mechanism      string
	Authenticators []auth.Authenticator

	Mapper *codec.Mapper
	Logger *log.Logger

	// SweepInterval governs how often pending requests are checked
	// against their deadlines. Defaults to 100ms.
	SweepInterval time.Duration

	// OnSchemaBump, if set, is called in its own goroutine (so the read
	// loop never waits on it) whenever an inbound frame's schema-id
	// exceeds the highest one seen so far, triggering an opportunistic
	// metadata refresh.
	OnSchemaBump func(schemaID uint64)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = time.Second
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 2 * time.Second
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = 100 * time.Millisecond
	}
	if o.Mapper == nil {
		o.Mapper = codec.DefaultMapper()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if len(o.Authenticators) == 0 {
		o.Authenticators = auth.Default()
	}
	if o.Mechanism == "" {
		o.Mechanism = "chap-sha1"
	}
	return o
}

// Conn is one live connection to the server, owning its socket, its
// request future registry, and the goroutines that drive them.
type Conn struct {
	opts Options

	netConn net.Conn

	writeMu   sync.Mutex
	syncCtr   uint64
	registry  *future.Registry
	schemaID  atomic.Uint64
	state     atomic.Int32
	closeOnce sync.Once
	stopSweep chan struct{}
	readDone  chan struct{}
}

// Dial opens a TCP connection, performs the greeting and (if
// credentials are configured) the auth handshake, and leaves the
// returned Conn in StateReady. On any failure before Ready it returns
// the connection's terminal error and the Conn is Closed.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	c := &Conn{
		opts:      opts,
		registry:  future.NewRegistry(),
		stopSweep: make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	port := opts.Port
	if port == 0 {
		port = 3301
	}
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(port))
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.state.Store(int32(StateClosed))
		return nil, dberr.New(dberr.KindConnectFailure, "dial %s: %v", addr, err)
	}
	c.netConn = netConn

	if opts.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	}
	greeting, err := wire.ReadGreeting(netConn)
	if opts.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Time{})
	}
	if err != nil {
		netConn.Close()
		c.state.Store(int32(StateClosed))
		return nil, dberr.New(dberr.KindConnectFailure, "read greeting: %v", err)
	}
	c.state.Store(int32(StateGreeted))

	go c.readLoop()
	go c.registry.RunTimeoutSweep(opts.SweepInterval, c.stopSweep)

	if opts.Credentials.Username != "" || opts.Credentials.Password != "" {
		c.state.Store(int32(StateAuthenticating))
		if err := c.authenticate(greeting); err != nil {
			c.fail(dberr.New(dberr.KindAuthFailure, "%v", err))
			return nil, err
		}
	}

	c.state.Store(int32(StateReady))
	return c, nil
}

// authenticate selects an authenticator, computes the scramble against
// the greeting's salt, dispatches an auth request, and waits for the
// result.
func (c *Conn) authenticate(greeting *wire.Greeting) error {
	authenticator, ok := auth.Select(c.opts.Authenticators, c.opts.Mechanism, c.opts.Credentials)
	if !ok {
		return dberr.New(dberr.KindAuthFailure, "no suitable authenticator for mechanism %q", c.opts.Mechanism)
	}

	scramble, err := authenticator.Scramble(greeting.SaltB64, c.opts.Credentials)
	if err != nil {
		return dberr.New(dberr.KindAuthFailure, "compute scramble: %v", err)
	}

	body := map[int]any{
		wire.KeyUser: c.opts.Credentials.Username,
		wire.KeyTuple: []any{
			authenticator.Mechanism(),
			scramble,
		},
	}

	_, err = c.dispatch(wire.CodeAuth, body, c.opts.RequestTimeout)
	if err != nil {
		return dberr.New(dberr.KindAuthFailure, "%v", err)
	}
	return nil
}

// State reports the connection's current position in the state machine.
func (c *Conn) State() State { return State(c.state.Load()) }

// nextSync returns the next monotonic sync-id. Only called while
// writeMu is held.
func (c *Conn) nextSync() uint64 {
	c.syncCtr++
	return c.syncCtr
}

// Dispatch sends a request with the given code and body and waits (up
// to timeout, or c.opts.RequestTimeout if timeout is zero) for its
// response body. Exported for the space package to build CRUD
// operations on top of.
func (c *Conn) Dispatch(code uint64, body map[int]any, timeout time.Duration) (map[int]any, error) {
	if State(c.state.Load()) != StateReady {
		return nil, dberr.NotConnected
	}
	if timeout == 0 {
		timeout = c.opts.RequestTimeout
	}
	return c.dispatch(code, body, timeout)
}

// dispatch registers the future, encodes the frame, and sends it, all
// under the write mutex, so sync-ids reach the wire in registration
// order.
func (c *Conn) dispatch(code uint64, body map[int]any, timeout time.Duration) (map[int]any, error) {
	c.writeMu.Lock()

	syncID := c.nextSync()
	deadline := time.Now().Add(timeout)
	fut, err := c.registry.Register(syncID, deadline)
	if err != nil {
		c.writeMu.Unlock()
		return nil, err
	}

	header := map[int]any{
		wire.KeyCode: int64(code),
		wire.KeySync: int64(syncID),
	}
	if schemaID := c.schemaID.Load(); schemaID != 0 {
		header[wire.KeySchemaID] = int64(schemaID)
	}

	err = wire.Encode(c.netConn, header, body)
	c.writeMu.Unlock()
	if err != nil {
		c.registry.Cancel(syncID)
		return nil, dberr.New(dberr.KindConnectFailure, "write request: %v", err)
	}

	res := <-fut
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Body, nil
}

// readLoop owns the socket read side for the life of the connection
// and routes every inbound frame to the request registry.
func (c *Conn) readLoop() {
	defer close(c.readDone)
	for {
		frame, err := wire.Decode(c.netConn)
		if err != nil {
			if s := c.State(); s == StateClosing || s == StateClosed {
				// A local close is under way; whoever closed the
				// socket fails the pending requests.
				return
			}
			c.fail(dberr.New(dberr.KindConnectFailure, "connection lost: %v", err))
			return
		}

		codeVal, _ := frame.Header[wire.KeyCode].(int64)
		syncVal, _ := frame.Header[wire.KeySync].(int64)
		code := uint64(codeVal)
		syncID := uint64(syncVal)

		if schemaVal, ok := frame.Header[wire.KeySchemaID]; ok {
			if id, ok := toUint64(schemaVal); ok {
				c.bumpSchema(id)
			}
		}

		if wire.IsError(code) {
			msg, _ := frame.Body[wire.KeyError].(string)
			c.registry.Fail(syncID, dberr.ServerError(wire.ErrorCode(code), msg))
			continue
		}
		c.registry.Complete(syncID, frame.Body)
	}
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

// bumpSchema records a newly observed schema-id and, if it is higher
// than the previous one, invokes OnSchemaBump without blocking
// response delivery.
func (c *Conn) bumpSchema(id uint64) {
	for {
		cur := c.schemaID.Load()
		if id <= cur {
			return
		}
		if c.schemaID.CompareAndSwap(cur, id) {
			if c.opts.OnSchemaBump != nil {
				go c.opts.OnSchemaBump(id)
			}
			return
		}
	}
}

// fail transitions the connection to Closing/Closed and fails every
// pending request with err.
func (c *Conn) fail(err error) {
	c.state.Store(int32(StateClosing))
	c.registry.Shutdown(err)
	c.netConn.Close()
	c.state.Store(int32(StateClosed))
}

// Close transitions to Closing, stops the timeout sweep, closes the
// socket, fails all pending completions with ConnectionClosed, and
// releases resources.
func (c *Conn) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.stopSweep)
		closeErr = c.netConn.Close()
		<-c.readDone
		c.registry.Shutdown(dberr.ConnectionClosed)
		c.state.Store(int32(StateClosed))
	})
	return closeErr
}
