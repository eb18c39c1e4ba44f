// Package node runs a chat room node: a transport endpoint acting as host or
// peer, with optional metrics and RPC interfaces.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/rpc"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyevent/internal/netutil"
	"github.com/skycoin/skyevent/pkg/chat"
	"github.com/skycoin/skyevent/pkg/eventlog"
	"github.com/skycoin/skyevent/pkg/metrics"
	"github.com/skycoin/skyevent/pkg/netevent"
	"github.com/skycoin/skyevent/pkg/transport"
)

var log = logging.MustGetLogger("node")

// Version is the node version.
const Version = "1.0.0"

const metricsNamespace = "skyevent"

var (
	// ErrNotConnected occurs when a peer node has no connection to its host.
	ErrNotConnected = errors.New("not connected")

	// ErrWrongRole occurs when an operation is not available in the node's role.
	ErrWrongRole = errors.New("operation not available for this role")
)

// ConnSummary summarizes a connection.
type ConnSummary struct {
	ID     uuid.UUID      `json:"id"`
	Remote string         `json:"remote"`
	Role   string         `json:"role"`
	Name   string         `json:"name,omitempty"`
	Stats  netevent.Stats `json:"stats"`
}

// Summary provides a summary of a Node.
type Summary struct {
	Role  string         `json:"role"`
	Addr  string         `json:"addr"`
	Conns []*ConnSummary `json:"conns"`
}

// Node runs a chat room endpoint.
type Node struct {
	config *Config
	ep     *transport.Endpoint
	store  eventlog.LogStore

	promReg  *prometheus.Registry
	events   *metrics.EventMetrics
	requests metrics.RequestRecorder

	host *chat.Host
	peer *chat.Peer

	mu   sync.Mutex
	conn *transport.Conn

	httpSrv     *http.Server
	httpL       net.Listener
	rpcListener net.Listener

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewNode constructs a Node and binds its sockets.
func NewNode(config *Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if lvl, err := logging.LevelFromString(config.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}

	node := &Node{
		config:  config,
		promReg: prometheus.NewRegistry(),
		done:    make(chan struct{}),
	}
	node.events = metrics.NewEventMetrics(metricsNamespace, node.promReg)
	node.requests = metrics.NewRequestMetrics(metricsNamespace, node.promReg)

	reg, err := config.Registry()
	if err != nil {
		return nil, fmt.Errorf("invalid chat config: %s", err)
	}
	if node.store, err = config.EventLogStore(); err != nil {
		return nil, fmt.Errorf("invalid log store: %s", err)
	}

	backlog := config.Chat.Backlog
	if backlog <= 0 {
		backlog = 64
	}
	tc := config.TransportConfig()
	tc.Registry = reg
	tc.Recorder = node.events
	tc.LogStore = node.store
	switch config.Role {
	case RoleHost:
		node.host = chat.NewHost(backlog)
		tc.NewHandler = func(net.Addr) interface{} { return node.host }
	case RolePeer:
		node.peer = chat.NewPeer(backlog)
	}

	if node.ep, err = transport.Listen(config.Listen, tc); err != nil {
		node.closeStores() // nolint: errcheck
		return nil, fmt.Errorf("failed to listen on %s: %s", config.Listen, err)
	}

	if addr := config.Interfaces.MetricsAddress; addr != "" {
		if node.httpL, err = net.Listen("tcp", addr); err != nil {
			node.Close() // nolint: errcheck
			return nil, fmt.Errorf("failed to setup HTTP listener: %s", err)
		}
		node.httpSrv = &http.Server{Handler: node.HTTPHandler()}
	}
	if addr := config.Interfaces.RPCAddress; addr != "" {
		if node.rpcListener, err = net.Listen("tcp", addr); err != nil {
			node.Close() // nolint: errcheck
			return nil, fmt.Errorf("failed to setup RPC listener: %s", err)
		}
	}

	return node, nil
}

// Addr returns the local UDP address.
func (node *Node) Addr() net.Addr { return node.ep.Addr() }

// Start serves the management interfaces and runs the room until ctx is
// done, the node is closed, or a peer node loses its host.
func (node *Node) Start(ctx context.Context) error {
	if node.httpSrv != nil {
		log.Info("Starting HTTP interface on ", node.httpL.Addr())
		node.wg.Add(1)
		go func() {
			defer node.wg.Done()
			if err := node.httpSrv.Serve(node.httpL); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("HTTP interface stopped.")
			}
		}()
	}

	if node.rpcListener != nil {
		rpcSvr := rpc.NewServer()
		if err := rpcSvr.RegisterName(RPCPrefix, &RPC{node: node}); err != nil {
			return fmt.Errorf("rpc server created failed: %s", err)
		}
		log.Info("Starting RPC interface on ", node.rpcListener.Addr())
		go rpcSvr.Accept(node.rpcListener)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-node.done:
			cancel()
		}
	}()

	if node.config.Role == RoleHost {
		return node.serveHost(ctx)
	}
	return node.servePeer(ctx)
}

func (node *Node) serveHost(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := node.ep.Close(); err != nil {
			log.WithError(err).Warn("Failed to close endpoint.")
		}
	}()

	for {
		c, err := node.ep.Accept()
		if err != nil {
			if err == transport.ErrClosed {
				return nil
			}
			return err
		}
		node.host.Attach(c.ID(), c)
		go func(c *transport.Conn) {
			<-c.Done()
			node.host.Detach(c.ID())
		}(c)
	}
}

func (node *Node) servePeer(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", node.config.Remote)
	if err != nil {
		return err
	}
	dialTimeout := time.Duration(node.config.Transport.DialTimeout)
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	retrier := netutil.NewRetrier(500*time.Millisecond, time.Duration(node.config.Transport.RetryThreshold), 2).
		WithErrWhitelist(transport.ErrClosed)

	var c *transport.Conn
	err = retrier.Do(ctx, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		var err error
		c, err = node.ep.Dial(dialCtx, raddr, node.peer)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to %s: %s", raddr, err)
	}

	node.mu.Lock()
	node.conn = c
	node.mu.Unlock()

	if name := node.config.Chat.Name; name != "" {
		if err := chat.SetName.Call(c, name); err != nil {
			log.WithError(err).Warn("Host does not support nicknames.")
		}
	}

	for {
		select {
		case msg := <-node.peer.Incoming():
			log.WithField("from", msg.From).Info(msg.Text)
		case <-c.Done():
			select {
			case <-ctx.Done():
				return nil
			case <-node.done:
				return nil
			default:
			}
			return c.Err()
		case <-ctx.Done():
			return c.Close()
		}
	}
}

// Say posts a chat line: a host broadcasts it, a peer sends it to its host.
func (node *Node) Say(text string) error {
	if node.host != nil {
		node.host.Broadcast(text)
		return nil
	}
	c, err := node.peerConn()
	if err != nil {
		return err
	}
	return chat.SendChat.Call(c, text)
}

// Ping pings the host of a peer node.
func (node *Node) Ping() error {
	c, err := node.peerConn()
	if err != nil {
		return err
	}
	return node.peer.Ping(c)
}

// Messages returns the lines a peer node received.
func (node *Node) Messages() ([]chat.Message, error) {
	if node.peer == nil {
		return nil, ErrWrongRole
	}
	return node.peer.History(), nil
}

func (node *Node) peerConn() (*transport.Conn, error) {
	if node.peer == nil {
		return nil, ErrWrongRole
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	if node.conn == nil {
		return nil, ErrNotConnected
	}
	return node.conn, nil
}

// Summary returns the open connections.
func (node *Node) Summary() *Summary {
	s := &Summary{
		Role:  node.config.Role,
		Addr:  node.ep.Addr().String(),
		Conns: []*ConnSummary{},
	}
	for _, c := range node.ep.Conns() {
		cs := &ConnSummary{
			ID:     c.ID(),
			Remote: c.RemoteAddr().String(),
			Role:   c.Role().String(),
			Stats:  c.Stats(),
		}
		if node.host != nil {
			cs.Name = node.host.Name(c.ID())
		}
		s.Conns = append(s.Conns, cs)
	}
	return s
}

// ConnLog returns the log entry of a terminated connection.
func (node *Node) ConnLog(id uuid.UUID) (*eventlog.LogEntry, error) {
	return node.store.Entry(id)
}

// Close stops the room and every interface.
func (node *Node) Close() (err error) {
	node.closeOnce.Do(func() {
		close(node.done)

		if node.rpcListener != nil {
			log.Info("Stopping RPC interface")
			if rpcErr := node.rpcListener.Close(); rpcErr != nil && err == nil {
				err = rpcErr
			}
		}
		if node.httpSrv != nil {
			log.Info("Stopping HTTP interface")
			if httpErr := node.httpSrv.Close(); httpErr != nil && err == nil {
				err = httpErr
			}
		}
		if node.httpL != nil {
			node.httpL.Close() // nolint: errcheck
		}

		log.Info("Stopping endpoint")
		if epErr := node.ep.Close(); epErr != nil && err == nil {
			err = epErr
		}
		if node.host != nil {
			if hostErr := node.host.Close(); hostErr != nil && err == nil {
				err = hostErr
			}
		}
		node.wg.Wait()

		if storeErr := node.closeStores(); storeErr != nil && err == nil {
			err = storeErr
		}
	})
	return err
}

func (node *Node) closeStores() error {
	if c, ok := node.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
