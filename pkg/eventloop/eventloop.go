// Package eventloop is a minimal HTTP/1.x server driven by explicit ticks
// instead of goroutines. The owner calls Tick from its own control loop; each
// tick polls the listener and the open connections once without blocking,
// serves every complete request line synchronously and returns.
//
// Every connection carries exactly one request: the response is written
// with "Connection: close", the write side is shut down, the peer is
// drained until it closes, and the socket is released. A response that does
// not fit the socket buffer and a peer that keeps its side open are carried
// over to later ticks as connection state, bounded by WriteTimeout and
// DrainTimeout.
package eventloop

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/pkg/bufpool"
)

// Handler serves one parsed request. It runs on the goroutine calling Tick.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response { return f(ctx, req) }

// Config holds the tunables of the loop. Zero values take the defaults
// listed on each field.
type Config struct {
	// BindAddress is the IP address to listen on. Empty listens on all
	// IPv4 interfaces.
	BindAddress string

	// PollTimeout bounds how long a Tick may wait for readiness. Default 0,
	// i.e. Tick never blocks on an idle server.
	PollTimeout time.Duration

	// WriteTimeout bounds how long a partly written response may wait for
	// the peer to accept more bytes. Default 1s.
	WriteTimeout time.Duration

	// DrainTimeout bounds how long a connection is kept after the response
	// while waiting for the peer to close. Default 1s.
	DrainTimeout time.Duration

	// MaxRequestLine is the longest accepted request line in bytes,
	// excluding the line terminator. Default 8192.
	MaxRequestLine int
}

const (
	defaultWriteTimeout   = time.Second
	defaultDrainTimeout   = time.Second
	defaultMaxRequestLine = 8192
	readBufferSize        = 4096

	// writeRetryInterval is the longest the owner should sleep while a
	// response is only partly written.
	writeRetryInterval = 5 * time.Millisecond
)

func (c *Config) applyDefaults() {
	if c.PollTimeout < 0 {
		c.PollTimeout = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.MaxRequestLine <= 0 {
		c.MaxRequestLine = defaultMaxRequestLine
	}
}

// MetricsRecorder receives connection lifecycle events. May be nil.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	// RecordConnectionDropped counts connections closed without a response.
	RecordConnectionDropped(reason string)
	SetActiveConnections(count int)
}

// connState is where a connection is in its single exchange.
type connState int

const (
	// connReading buffers bytes until a full request line arrives.
	connReading connState = iota
	// connWriting holds the unsent tail of the response.
	connWriting
	// connDraining has sent the response and half-closed; it waits for
	// the peer's FIN.
	connDraining
)

type conn struct {
	fd       int
	remote   netip.AddrPort
	buf      []byte
	accepted time.Time

	state    connState
	out      []byte
	sent     int
	deadline time.Time
}

// Loop is the tick-driven server. It is not safe for concurrent use: Start,
// Tick, Stop and the accessors must be called from one goroutine.
type Loop struct {
	cfg     Config
	handler Handler
	metrics MetricsRecorder

	listenFD int
	addr     netip.AddrPort
	started  bool
	stopped  bool

	conns map[int]*conn

	// Per-connection request line buffers.
	lines *bufpool.Pool

	// Reused between ticks.
	pfds    []unix.PollFd
	polled  []*conn
	ready   []*conn
	readBuf []byte
}

// New returns a stopped loop. Call Start to listen.
func New(cfg Config, handler Handler, metrics MetricsRecorder) *Loop {
	cfg.applyDefaults()
	return &Loop{
		cfg:      cfg,
		handler:  handler,
		metrics:  metrics,
		listenFD: -1,
		conns:    make(map[int]*conn),
		lines:    bufpool.New(cfg.MaxRequestLine + 1 + readBufferSize),
		readBuf:  make([]byte, readBufferSize),
	}
}

// Start listens on the configured bind address and port. Errors creating
// the listener are returned as *BindError.
func (l *Loop) Start(port int) error {
	if l.stopped {
		return ErrStopped
	}
	if l.started {
		return ErrAlreadyStarted
	}

	fd, addr, err := listenTCP(l.cfg.BindAddress, port)
	if err != nil {
		return &BindError{Address: l.cfg.BindAddress, Port: port, Err: err}
	}

	l.listenFD = fd
	l.addr = addr
	l.started = true

	logger.Info("Web server listening", logger.KeyAddress, addr.String(), logger.KeyPort, addr.Port())
	return nil
}

// Tick runs one pass: expire connections past their deadline, poll, accept
// everything pending, read what arrived, serve every connection that has a
// complete request line and advance pending writes and drains. It never
// waits on a peer. Per-connection errors are logged and the connection
// dropped; Tick itself never fails.
func (l *Loop) Tick(ctx context.Context) {
	if !l.started || l.stopped {
		return
	}

	l.expire(time.Now())

	l.pfds = append(l.pfds[:0], unix.PollFd{Fd: int32(l.listenFD), Events: unix.POLLIN})
	l.polled = l.polled[:0]
	for _, c := range l.conns {
		events := int16(unix.POLLIN)
		if c.state == connWriting {
			events = unix.POLLOUT
		}
		l.pfds = append(l.pfds, unix.PollFd{Fd: int32(c.fd), Events: events})
		l.polled = append(l.polled, c)
	}

	n, err := unix.Poll(l.pfds, pollMillis(l.cfg.PollTimeout))
	if err != nil {
		if !errors.Is(err, unix.EINTR) {
			logger.Debug("Web server poll failed", logger.Err(err))
		}
		return
	}
	if n == 0 {
		return
	}

	l.ready = l.ready[:0]
	for i, c := range l.polled {
		if l.pfds[i+1].Revents != 0 {
			l.ready = append(l.ready, c)
		}
	}
	if l.pfds[0].Revents&unix.POLLIN != 0 {
		l.acceptPending()
	}

	for _, c := range l.ready {
		switch c.state {
		case connReading:
			l.service(ctx, c)
		case connWriting:
			l.flush(c)
		case connDraining:
			l.drain(c)
		}
	}
}

// expire releases connections whose write or drain deadline has passed.
func (l *Loop) expire(now time.Time) {
	for _, c := range l.conns {
		if c.state == connReading || now.Before(c.deadline) {
			continue
		}
		if c.state == connWriting {
			logger.Debug("Web response write timed out",
				logger.KeyAddress, c.remote.String(), logger.KeyBytes, c.sent)
			l.drop(c, "write_timeout")
			continue
		}
		l.finish(c)
	}
}

// acceptPending accepts every queued connection. New connections are
// serviced in the same tick since their request often arrives with the
// handshake.
func (l *Loop) acceptPending() {
	for {
		fd, remote, err := acceptConn(l.listenFD)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				logger.Debug("Error accepting web connection", logger.Err(err))
			}
			return
		}

		c := &conn{fd: fd, remote: remote, buf: l.lines.Get(), accepted: time.Now()}
		l.conns[fd] = c
		l.ready = append(l.ready, c)

		if l.metrics != nil {
			l.metrics.RecordConnectionAccepted()
			l.metrics.SetActiveConnections(len(l.conns))
		}
		logger.Debug("Web connection accepted",
			logger.KeyAddress, remote.String(), "active", len(l.conns))
	}
}

// service reads whatever is pending on c and responds once a full request
// line is buffered.
func (l *Loop) service(ctx context.Context, c *conn) {
	for {
		n, err := unix.Read(c.fd, l.readBuf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return
		case err != nil:
			logger.Debug("Web connection read failed", logger.KeyAddress, c.remote.String(), logger.Err(err))
			l.drop(c, "read_error")
			return
		case n == 0:
			l.drop(c, "peer_closed")
			return
		}

		start := len(c.buf)
		c.buf = append(c.buf, l.readBuf[:n]...)

		if i := bytes.IndexByte(c.buf[start:], '\n'); i >= 0 {
			line := bytes.TrimSuffix(c.buf[:start+i], []byte{'\r'})
			if len(line) > l.cfg.MaxRequestLine {
				l.drop(c, "line_too_long")
				return
			}
			l.respond(ctx, c, line)
			return
		}
		if len(c.buf) > l.cfg.MaxRequestLine+1 {
			l.drop(c, "line_too_long")
			return
		}
	}
}

func (l *Loop) respond(ctx context.Context, c *conn, line []byte) {
	method, target, proto, ok := parseRequestLine(line)
	if !ok {
		logger.Debug("Malformed request line", logger.KeyAddress, c.remote.String())
		l.drop(c, "malformed")
		return
	}

	req := &Request{
		Method:     method,
		Target:     target,
		Proto:      proto,
		RemoteAddr: c.remote,
		Received:   time.Now(),
	}

	resp := l.handler.Handle(ctx, req)
	if resp == nil {
		resp = &Response{}
	}

	c.state = connWriting
	c.out = resp.encode()
	c.sent = 0
	c.deadline = time.Now().Add(l.cfg.WriteTimeout)
	l.flush(c)
}

// flush writes as much of the pending response as the socket takes. Once
// everything is out the write side is shut down and c starts draining.
func (l *Loop) flush(c *conn) {
	for c.sent < len(c.out) {
		n, err := unix.Write(c.fd, c.out[c.sent:])
		if n > 0 {
			c.sent += n
		}
		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			return
		default:
			logger.Debug("Web response write failed", logger.KeyAddress, c.remote.String(), logger.Err(err))
			l.drop(c, "write_error")
			return
		}
	}

	_ = unix.Shutdown(c.fd, unix.SHUT_WR)
	c.state = connDraining
	c.deadline = time.Now().Add(l.cfg.DrainTimeout)
	l.drain(c)
}

// drain discards whatever the peer still sends and releases c once the
// peer has closed its side.
func (l *Loop) drain(c *conn) {
	for {
		n, err := unix.Read(c.fd, l.readBuf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return
		case err != nil, n == 0:
			l.finish(c)
			return
		}
	}
}

// finish releases a connection whose response was delivered.
func (l *Loop) finish(c *conn) {
	logger.Debug("Web connection closed",
		logger.KeyAddress, c.remote.String(), logger.KeyBytes, c.sent,
		logger.Elapsed(c.accepted))
	l.close(c)
	if l.metrics != nil {
		l.metrics.RecordConnectionClosed()
	}
}

func (l *Loop) drop(c *conn, reason string) {
	l.close(c)
	if l.metrics != nil {
		l.metrics.RecordConnectionDropped(reason)
	}
}

func (l *Loop) close(c *conn) {
	if _, ok := l.conns[c.fd]; !ok {
		return
	}
	delete(l.conns, c.fd)
	_ = unix.Close(c.fd)
	l.lines.Put(c.buf)
	c.buf = nil
	c.out = nil
	if l.metrics != nil {
		l.metrics.SetActiveConnections(len(l.conns))
	}
}

// Stop closes the listener and every open connection. Safe to call more
// than once, and before Start.
func (l *Loop) Stop() {
	if l.stopped {
		return
	}
	l.stopped = true

	open := len(l.conns)
	for _, c := range l.conns {
		if c.state == connDraining {
			l.finish(c)
			continue
		}
		l.drop(c, "shutdown")
	}
	if l.listenFD >= 0 {
		_ = unix.Close(l.listenFD)
		l.listenFD = -1
	}
	if l.started {
		logger.Info("Web server stopped", logger.KeyAddress, l.addr.String(), "closed_connections", open)
	}
}

// Sockets returns the descriptors to wait on for readability: the listener
// followed by every connection that is reading or draining. Empty when the
// loop is not listening.
func (l *Loop) Sockets() []int {
	if !l.started || l.stopped {
		return nil
	}
	fds := make([]int, 0, 1+len(l.conns))
	fds = append(fds, l.listenFD)
	for fd, c := range l.conns {
		if c.state != connWriting {
			fds = append(fds, fd)
		}
	}
	return fds
}

// WaitTimeout returns how long the owner may sleep before the next Tick:
// limit, cut short by the nearest connection deadline, or a few milliseconds
// while a response is only partly written since writability is not part of
// Sockets.
func (l *Loop) WaitTimeout(limit time.Duration) time.Duration {
	timeout := limit
	now := time.Now()
	for _, c := range l.conns {
		switch c.state {
		case connReading:
			continue
		case connWriting:
			timeout = min(timeout, writeRetryInterval)
		}
		timeout = min(timeout, max(c.deadline.Sub(now), 0))
	}
	return timeout
}

// Addr returns the bound address, valid after a successful Start.
func (l *Loop) Addr() netip.AddrPort { return l.addr }

// ActiveConnections returns the number of open client connections.
func (l *Loop) ActiveConnections() int { return len(l.conns) }
