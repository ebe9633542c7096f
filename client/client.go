// Package client ties the connection pipeline (conn), the metadata
// cache (schema), and the typed CRUD surface (space) into a single
// entry point: one Config in, one Client out, Space(name) the only
// thing callers need from there.
package client

import (
	"context"
	"log"
	"time"

	"dbwire/auth"
	"dbwire/codec"
	"dbwire/conn"
	"dbwire/dberr"
	"dbwire/middleware"
	"dbwire/schema"
	"dbwire/space"
)

// Config is the client configuration surface. Zero value is not meant
// to be used directly: pass it through Default() or rely on New to
// apply the same defaults.
type Config struct {
	Host string
	Port int

	Credentials auth.Credentials
	Mechanism   string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	RequestTimeout time.Duration

	// SchemaRefreshInterval throttles schema.Cache.Refresh. Defaults to
	// 1s.
	SchemaRefreshInterval time.Duration

	Mapper *codec.Mapper
	Logger *log.Logger

	// RateLimit, if non-nil, wraps outbound dispatch in a token-bucket
	// admission middleware (middleware.RateLimit). Nil disables it.
	RateLimit *RateLimitConfig

	// DisableLogging turns off the default middleware.Logging wrapper.
	DisableLogging bool
}

// RateLimitConfig parametrizes middleware.RateLimit.
type RateLimitConfig struct {
	RatePerSecond float64
	Burst         int
}

// Default returns the documented default configuration: host=localhost,
// port=3301, user=admin, password=password, connect=1000ms,
// read=1000ms, request=2000ms.
func Default() Config {
	return Config{
		Host:                  "localhost",
		Port:                  3301,
		Credentials:           auth.Credentials{Username: "admin", Password: "password"},
		Mechanism:             "chap-sha1",
		ConnectTimeout:        time.Second,
		ReadTimeout:           time.Second,
		RequestTimeout:        2 * time.Second,
		SchemaRefreshInterval: time.Second,
	}
}

func (c Config) withDefaults() (Config, error) {
	d := Default()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Mechanism == "" {
		c.Mechanism = d.Mechanism
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.SchemaRefreshInterval <= 0 {
		c.SchemaRefreshInterval = d.SchemaRefreshInterval
	}
	if c.Mapper == nil {
		c.Mapper = codec.DefaultMapper()
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Credentials.Username == "" && c.Credentials.Password == "" {
		c.Credentials = d.Credentials
	}
	if (c.Credentials.Username == "") != (c.Credentials.Password == "") {
		return c, dberr.New(dberr.KindConfigurationError, "credentials must set both username and password, or neither")
	}
	return c, nil
}

// Client is a single authenticated connection plus the metadata cache
// and CRUD-surface factory built on top of it. Space handles hold a
// shared reference to the client and must not outlive it.
type Client struct {
	cfg    Config
	conn   *conn.Conn
	cache  *schema.Cache
	dx     *dispatcher
	closed bool
}

// dispatcher adapts *conn.Conn's Dispatch method through the
// middleware chain, and is the Dispatcher both schema.Cache and
// space.Space depend on.
type dispatcher struct {
	conn  *conn.Conn
	chain middleware.HandlerFunc
}

func (d *dispatcher) Dispatch(code uint64, body map[int]any, timeout time.Duration) (map[int]any, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := d.chain(ctx, middleware.Request{Code: code, Body: body})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// New builds the middleware chain and dials a connection (greeting +
// handshake), returning a Client in StateReady. On any failure before
// Ready, the underlying connection has already been closed per
// conn.Dial's contract.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	cache := &schemaHolder{}

	c, err := conn.Dial(ctx, conn.Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Credentials:    cfg.Credentials,
		Mechanism:      cfg.Mechanism,
		Mapper:         cfg.Mapper,
		Logger:         cfg.Logger,
		OnSchemaBump: func(uint64) {
			// Never block response delivery; Refresh's own rate
			// limiter coalesces concurrent bumps into one rescan.
			if h := cache.get(); h != nil {
				go h.Refresh()
			}
		},
	})
	if err != nil {
		return nil, err
	}

	dx := &dispatcher{conn: c}
	dx.chain = buildChain(cfg, dx)

	sc := schema.New(dx, cfg.Mapper, cfg.SchemaRefreshInterval, cfg.RequestTimeout)
	cache.set(sc)

	return &Client{cfg: cfg, conn: c, cache: sc, dx: dx}, nil
}

// schemaHolder breaks the construction-order cycle between conn.Dial
// (which needs OnSchemaBump before the *schema.Cache exists) and
// schema.New (which needs the dialed connection).
type schemaHolder struct {
	c *schema.Cache
}

func (h *schemaHolder) get() *schema.Cache { return h.c }
func (h *schemaHolder) set(c *schema.Cache) { h.c = c }

// buildChain wraps dx.conn.Dispatch as the innermost handler in the
// middleware chain configured by cfg. The per-request timeout travels
// through ctx's deadline rather than through Request, since
// conn.Dispatch takes a time.Duration, not a context.
func buildChain(cfg Config, dx *dispatcher) middleware.HandlerFunc {
	base := func(ctx context.Context, req middleware.Request) (middleware.Response, error) {
		timeout := cfg.RequestTimeout
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}
		body, err := dx.conn.Dispatch(req.Code, req.Body, timeout)
		if err != nil {
			return middleware.Response{}, err
		}
		return middleware.Response{Body: body}, nil
	}

	var mws []middleware.Middleware
	if !cfg.DisableLogging {
		mws = append(mws, middleware.Logging(cfg.Logger))
	}
	if cfg.RateLimit != nil {
		mws = append(mws, middleware.RateLimit(cfg.RateLimit.RatePerSecond, cfg.RateLimit.Burst))
	}
	if len(mws) == 0 {
		return base
	}
	return middleware.Chain(mws...)(base)
}

// IsConnected reports whether the client's connection is in
// StateReady.
func (c *Client) IsConnected() bool {
	return c.conn.State() == conn.StateReady
}

// Space resolves name against the metadata cache (lazily refreshing on
// miss) and returns a bound handle for CRUD operations.
func (c *Client) Space(name string) (*space.Space, error) {
	return space.Open(c.dx, c.cache, c.cfg.Mapper, name, c.cfg.RequestTimeout)
}

// RefreshSchema forces an immediate metadata rescan, subject to the
// configured refresh-interval throttle.
func (c *Client) RefreshSchema() error {
	return c.cache.Refresh()
}

// Close shuts the client down via the underlying connection's close
// discipline.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
