// Package transport implements a small notify protocol over a
// net.PacketConn that carries netevent packets and reports their fate.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyevent/pkg/eventlog"
	"github.com/skycoin/skyevent/pkg/netevent"
)

var log = logging.MustGetLogger("transport")

const (
	maxDatagram = 64 * 1024

	// maxDataInFlight leaves room in the ack window for packets sent while
	// data is stalled.
	maxDataInFlight = ackWindow * 3 / 4
)

var (
	// ErrClosed occurs when using a closed endpoint.
	ErrClosed = errors.New("endpoint closed")

	// ErrRejected occurs when the remote refuses a connection.
	ErrRejected = errors.New("connection rejected")

	// ErrAlreadyConnected occurs when dialing an address that already has a connection.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrIdleTimeout occurs when nothing was received for the idle timeout.
	ErrIdleTimeout = errors.New("connection idle timeout")

	// ErrRemoteClosed occurs when the remote closes the connection.
	ErrRemoteClosed = errors.New("connection closed by remote")

	// ErrLocalClosed occurs when the connection is closed locally.
	ErrLocalClosed = errors.New("connection closed")

	// ErrPacketSize occurs when PacketSize leaves no room for an event.
	ErrPacketSize = errors.New("packet size too small for an event")
)

// ConnRecorder is optionally implemented by a netevent.Recorder to count
// established connections.
type ConnRecorder interface {
	ConnOpened()
	ConnClosed()
}

// Config configures an Endpoint.
type Config struct {
	Registry *netevent.Registry

	// Listen makes the endpoint accept incoming connections.
	Listen bool

	// NewHandler returns the RPC handler of an incoming connection.
	NewHandler func(remote net.Addr) interface{}

	Recorder netevent.Recorder
	LogStore eventlog.LogStore

	SeqBits    uint8
	MaxPending int

	// PacketSize is the event payload budget of one packet in bytes.
	PacketSize int

	TickInterval      time.Duration
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	DialRetry         time.Duration
	AcceptBacklog     int
}

// Defaults of Config.
const (
	DefaultPacketSize        = 1200
	DefaultTickInterval      = 20 * time.Millisecond
	DefaultKeepaliveInterval = time.Second
	DefaultIdleTimeout       = 10 * time.Second
	DefaultDialRetry         = 250 * time.Millisecond
	DefaultAcceptBacklog     = 20
)

func (c *Config) defaults() {
	if c.PacketSize == 0 {
		c.PacketSize = DefaultPacketSize
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.DialRetry == 0 {
		c.DialRetry = DefaultDialRetry
	}
	if c.AcceptBacklog == 0 {
		c.AcceptBacklog = DefaultAcceptBacklog
	}
}

// maxEventBits returns the largest event payload a packet of PacketSize can
// carry, capped at netevent.DefaultMaxEventBits.
func (c *Config) maxEventBits() (int, error) {
	n := c.PacketSize * 8
	if c.Registry != nil {
		n -= netevent.FrameBits(c.SeqBits, c.Registry.Count())
	}
	if n <= 0 {
		return 0, ErrPacketSize
	}
	if n > netevent.DefaultMaxEventBits {
		n = netevent.DefaultMaxEventBits
	}
	return n, nil
}

// Endpoint multiplexes connections over one packet socket.
type Endpoint struct {
	pc  net.PacketConn
	cfg Config

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool

	acceptCh chan *Conn
	done     chan struct{}
	wg       sync.WaitGroup
}

// Listen opens a UDP endpoint on addr.
func Listen(addr string, cfg Config) (*Endpoint, error) {
	cfg.defaults()
	if _, err := cfg.maxEventBits(); err != nil {
		return nil, err
	}
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return NewEndpoint(pc, cfg), nil
}

// NewEndpoint serves connections over pc until Close.
func NewEndpoint(pc net.PacketConn, cfg Config) *Endpoint {
	cfg.defaults()
	e := &Endpoint{
		pc:       pc,
		cfg:      cfg,
		conns:    make(map[string]*Conn),
		acceptCh: make(chan *Conn, cfg.AcceptBacklog),
		done:     make(chan struct{}),
	}
	e.wg.Add(2)
	go e.readLoop()
	go e.tickLoop()
	return e
}

// Addr returns the local address.
func (e *Endpoint) Addr() net.Addr { return e.pc.LocalAddr() }

// Accept waits for the next incoming connection.
func (e *Endpoint) Accept() (*Conn, error) {
	select {
	case c := <-e.acceptCh:
		return c, nil
	case <-e.done:
		return nil, ErrClosed
	}
}

// Dial connects to addr as the peer side. handler receives calls the host makes.
func (e *Endpoint) Dial(ctx context.Context, addr net.Addr, handler interface{}) (*Conn, error) {
	c, err := e.newConn(addr, netevent.RolePeer, handler)
	if err != nil {
		return nil, err
	}
	if err := e.add(c); err != nil {
		return nil, err
	}

	connect := MakeConnect(c.ev.LocalClassCount())
	ticker := time.NewTicker(e.cfg.DialRetry)
	defer ticker.Stop()

	for {
		if err := e.write(connect, addr); err != nil {
			c.closeWith(err)
			return nil, err
		}
		select {
		case <-c.established:
			log.WithField("remote", addr).Info("Connection established.")
			return c, nil
		case <-c.done:
			return nil, c.Err()
		case <-ctx.Done():
			c.closeWith(ctx.Err())
			return nil, ctx.Err()
		case <-e.done:
			return nil, ErrClosed
		case <-ticker.C:
		}
	}
}

// Close closes every connection and the socket.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.closeWith(ErrLocalClosed)
	}
	close(e.done)
	err := e.pc.Close()
	e.wg.Wait()
	return err
}

// Conns returns the open connections.
func (e *Endpoint) Conns() []*Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

func (e *Endpoint) add(c *Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	key := c.remote.String()
	if _, ok := e.conns[key]; ok {
		return ErrAlreadyConnected
	}
	e.conns[key] = c
	return nil
}

func (e *Endpoint) remove(c *Conn) {
	e.mu.Lock()
	if e.conns[c.remote.String()] == c {
		delete(e.conns, c.remote.String())
	}
	e.mu.Unlock()
}

func (e *Endpoint) lookup(addr net.Addr) *Conn {
	e.mu.Lock()
	c := e.conns[addr.String()]
	e.mu.Unlock()
	return c
}

func (e *Endpoint) write(p Packet, addr net.Addr) error {
	_, err := e.pc.WriteTo(p, addr)
	return err
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := e.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.done:
			default:
				log.WithError(err).Warn("Failed to read packet.")
				go e.Close() // nolint: errcheck
			}
			return
		}

		p, err := ParsePacket(append([]byte(nil), buf[:n]...))
		if err != nil {
			log.WithField("remote", addr).WithError(err).Debug("Dropping packet.")
			continue
		}

		if c := e.lookup(addr); c != nil {
			c.handle(p)
			continue
		}
		if p.Type() == ConnectType {
			e.handleConnect(p, addr)
		}
	}
}

func (e *Endpoint) handleConnect(p Packet, addr net.Addr) {
	reject := func(reason string) {
		log.WithField("remote", addr).WithField("reason", reason).Info("Rejecting connection.")
		if err := e.write(MakeReject(reason), addr); err != nil {
			log.WithError(err).Warn("Failed to write reject packet.")
		}
	}
	if !e.cfg.Listen {
		reject("not accepting connections")
		return
	}

	var handler interface{}
	if e.cfg.NewHandler != nil {
		handler = e.cfg.NewHandler(addr)
	}
	c, err := e.newConn(addr, netevent.RoleHost, handler)
	if err != nil {
		reject(err.Error())
		return
	}
	c.mu.Lock()
	n, err := c.ev.AcceptClassCount(p.ClassCount())
	c.mu.Unlock()
	if err != nil {
		reject(err.Error())
		return
	}
	if err := e.add(c); err != nil {
		reject(err.Error())
		return
	}

	select {
	case e.acceptCh <- c:
	default:
		reject("accept backlog full")
		c.closeWith(ErrRejected)
		return
	}
	c.mu.Lock()
	c.markEstablished()
	c.mu.Unlock()
	if err := e.write(MakeAccept(n), addr); err != nil {
		log.WithError(err).Warn("Failed to write accept packet.")
	}
	log.WithField("remote", addr).WithField("classes", n).Info("Connection accepted.")
}

func (e *Endpoint) tickLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case now := <-ticker.C:
			for _, c := range e.Conns() {
				c.tick(now)
			}
		}
	}
}
