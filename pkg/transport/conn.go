package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skycoin/skyevent/pkg/bitstream"
	"github.com/skycoin/skyevent/pkg/eventlog"
	"github.com/skycoin/skyevent/pkg/netevent"
)

// Conn is one connection of an Endpoint. It is safe for concurrent use.
type Conn struct {
	ep     *Endpoint
	remote net.Addr
	logger logrus.FieldLogger

	mu       sync.Mutex
	ev       *netevent.Conn
	ps       *packetState
	ackOwed  bool
	opened   time.Time
	lastRecv time.Time
	lastSend time.Time
	isUp     bool

	established chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
}

func (e *Endpoint) newConn(remote net.Addr, role netevent.Role, handler interface{}) (*Conn, error) {
	c := &Conn{
		ep:          e,
		remote:      remote,
		ps:          newPacketState(),
		opened:      time.Now(),
		lastRecv:    time.Now(),
		established: make(chan struct{}),
		done:        make(chan struct{}),
	}
	maxEventBits, err := e.cfg.maxEventBits()
	if err != nil {
		return nil, err
	}
	ev, err := netevent.NewConn(netevent.Config{
		Role:         role,
		Registry:     e.cfg.Registry,
		SeqBits:      e.cfg.SeqBits,
		MaxPending:   e.cfg.MaxPending,
		MaxEventBits: maxEventBits,
		Handler:      handler,
		Recorder:     e.cfg.Recorder,
		OnClose:      c.onClosed,
	})
	if err != nil {
		return nil, err
	}
	c.ev = ev
	c.logger = log.WithField("conn", ev.ID()).WithField("remote", remote)
	return c, nil
}

// ID returns the connection id.
func (c *Conn) ID() uuid.UUID { return c.ev.ID() }

// RemoteAddr returns the remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Role returns the local role.
func (c *Conn) Role() netevent.Role { return c.ev.Role() }

// Post queues ev for transmission.
func (c *Conn) Post(ev netevent.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ev.Post(ev)
}

// CanPost reports whether the connection accepts events.
func (c *Conn) CanPost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ev.CanPost()
}

// Do runs fn with exclusive access to the underlying event connection.
func (c *Conn) Do(fn func(ev *netevent.Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.ev)
}

// Stats returns the event counters of the connection.
func (c *Conn) Stats() netevent.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ev.Stats()
}

// Done is closed once the connection terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection terminated.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ev.Err()
}

// Close terminates the connection and notifies the remote.
func (c *Conn) Close() error {
	c.closeWith(ErrLocalClosed)
	return nil
}

func (c *Conn) closeWith(reason error) {
	c.mu.Lock()
	c.ev.Close(reason)
	c.mu.Unlock()
}

// markEstablished is called with c.mu held.
func (c *Conn) markEstablished() {
	if c.isUp {
		return
	}
	c.isUp = true
	c.lastRecv = time.Now()
	close(c.established)
	if r, ok := c.ep.cfg.Recorder.(ConnRecorder); ok {
		r.ConnOpened()
	}
}

// onClosed runs from netevent.Conn.Close with c.mu held.
func (c *Conn) onClosed(reason error) {
	for _, n := range c.ps.drain() {
		if err := c.ev.PacketLost(n); err != nil {
			c.logger.WithError(err).Debug("Failed to release packet record.")
		}
	}

	switch errors.Cause(reason) {
	case ErrRemoteClosed, ErrRejected:
	default:
		msg := ""
		if reason != nil {
			msg = reason.Error()
		}
		if err := c.ep.write(MakeClose(msg), c.remote); err != nil {
			c.logger.WithError(err).Debug("Failed to write close packet.")
		}
	}

	c.ep.remove(c)
	if c.isUp {
		if r, ok := c.ep.cfg.Recorder.(ConnRecorder); ok {
			r.ConnClosed()
		}
		if store := c.ep.cfg.LogStore; store != nil {
			entry := eventlog.NewLogEntry(c.ev, c.remote.String(), c.opened)
			if err := store.Record(c.ev.ID(), entry); err != nil {
				c.logger.WithError(err).Warn("Failed to record connection log.")
			}
		}
	}
	c.logger.WithField("reason", reason).Info("Connection closed.")
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Conn) handle(p Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ev.Closed() {
		return
	}
	c.lastRecv = time.Now()

	switch p.Type() {
	case ConnectType:
		if c.ev.Role() == netevent.RoleHost {
			if err := c.ep.write(MakeAccept(c.ev.ClassCount()), c.remote); err != nil {
				c.logger.WithError(err).Warn("Failed to write accept packet.")
			}
		}

	case AcceptType:
		if c.ev.Role() != netevent.RolePeer || c.isUp {
			return
		}
		if err := c.ev.ConfirmClassCount(p.ClassCount()); err != nil {
			c.ev.Close(err)
			return
		}
		c.markEstablished()

	case RejectType:
		c.ev.Close(errors.Wrap(ErrRejected, p.Reason()))

	case CloseType:
		c.ev.Close(errors.Wrap(ErrRemoteClosed, p.Reason()))

	case DataType:
		if !c.isUp || !c.ps.receive(p.Seq()) {
			return
		}
		acked, lost := c.ps.resolve(p.Ack())
		for _, n := range acked {
			if err := c.ev.PacketAcked(n); err != nil {
				c.logger.WithError(err).Warn("Failed to acknowledge packet.")
			}
		}
		for _, n := range lost {
			if err := c.ev.PacketLost(n); err != nil {
				c.logger.WithError(err).Warn("Failed to report lost packet.")
			}
		}
		if len(p.Pay()) == 0 || c.ev.Closed() {
			return
		}
		c.ackOwed = true
		if err := c.ev.ReadPacket(bitstream.NewReader(p.Pay())); err != nil {
			c.logger.WithError(err).Warn("Failed to read packet.")
		}
	}
}

func (c *Conn) tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ev.Closed() || !c.isUp {
		return
	}
	if now.Sub(c.lastRecv) > c.ep.cfg.IdleTimeout {
		c.ev.Close(ErrIdleTimeout)
		return
	}
	if c.ps.full() {
		return
	}

	withData := c.ev.HasPendingData() && c.ps.inFlight() < maxDataInFlight
	if !withData && !c.ackOwed && now.Sub(c.lastSend) < c.ep.cfg.KeepaliveInterval {
		return
	}
	c.send(now, withData)
}

// send writes one data packet; with c.mu held.
func (c *Conn) send(now time.Time, withData bool) {
	var (
		n   *netevent.PacketNotify
		pay []byte
	)
	if withData {
		w := bitstream.NewWriter()
		var err error
		if n, err = c.ev.WritePacket(w, c.ep.cfg.PacketSize*8); err != nil {
			c.logger.WithError(err).Warn("Failed to write events.")
			return
		}
		if n.Empty() {
			if err := c.ev.PacketAcked(n); err != nil {
				c.logger.WithError(err).Debug("Failed to release packet record.")
			}
			n = nil
		} else {
			pay = w.Bytes()
		}
	}

	q := c.ps.send(n)
	ackSeq, mask := c.ps.ackFields()
	if err := c.ep.write(MakeData(q, ackSeq, mask, pay), c.remote); err != nil {
		c.logger.WithError(err).Warn("Failed to write data packet.")
	}
	c.ackOwed = false
	c.lastSend = now
}
