package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skycoin/skyevent/pkg/netevent"
	"github.com/skycoin/skyevent/pkg/rpc"
)

var (
	// ErrUnknownVersion occurs when requesting a registry for an unsupported version.
	ErrUnknownVersion = errors.New("unknown chat protocol version")

	// ErrEmptyName occurs when a peer sets an empty nickname.
	ErrEmptyName = errors.New("empty name")
)

// HostName is the sender name of lines broadcast by the host itself.
const HostName = "host"

// Message is one chat line.
type Message struct {
	From string
	Text string
}

// Host is the handler of every host-side connection. Lines are relayed from a
// separate goroutine: handlers run with their connection locked and must not
// post to other connections.
type Host struct {
	mu    sync.Mutex
	names map[uuid.UUID]string
	peers map[uuid.UUID]rpc.Poster

	relayCh chan Message
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewHost starts a Host. backlog bounds the lines waiting to be relayed;
// lines arriving while it is full are dropped.
func NewHost(backlog int) *Host {
	h := &Host{
		names:   make(map[uuid.UUID]string),
		peers:   make(map[uuid.UUID]rpc.Poster),
		relayCh: make(chan Message, backlog),
		done:    make(chan struct{}),
	}
	h.wg.Add(1)
	go h.relayLoop()
	return h
}

// Attach adds a connection to the room.
func (h *Host) Attach(id uuid.UUID, p rpc.Poster) {
	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()
}

// Detach removes a connection from the room.
func (h *Host) Detach(id uuid.UUID) {
	h.mu.Lock()
	delete(h.peers, id)
	delete(h.names, id)
	h.mu.Unlock()
}

// Peers returns the number of attached connections.
func (h *Host) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Name returns the nickname of a connection.
func (h *Host) Name(id uuid.UUID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if name, ok := h.names[id]; ok {
		return name
	}
	return id.String()[:8]
}

// ReceiveChat implements ChatReceiver.
func (h *Host) ReceiveChat(c *netevent.Conn, text string) error {
	h.relay(Message{From: h.Name(c.ID()), Text: text})
	return nil
}

// SetName implements NameSetter.
func (h *Host) SetName(c *netevent.Conn, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	h.mu.Lock()
	h.names[c.ID()] = name
	h.mu.Unlock()
	log.WithField("conn", c.ID()).WithField("name", name).Info("Peer renamed.")
	return nil
}

// Broadcast sends a line from the host to every attached connection.
func (h *Host) Broadcast(text string) {
	h.relay(Message{From: HostName, Text: text})
}

// Close stops relaying.
func (h *Host) Close() error {
	h.once.Do(func() { close(h.done) })
	h.wg.Wait()
	return nil
}

func (h *Host) relay(msg Message) {
	select {
	case h.relayCh <- msg:
	default:
		log.WithField("from", msg.From).Warn("Relay backlog full, dropping line.")
	}
}

func (h *Host) relayLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.relayCh:
			h.mu.Lock()
			peers := make(map[uuid.UUID]rpc.Poster, len(h.peers))
			for id, p := range h.peers {
				peers[id] = p
			}
			h.mu.Unlock()

			for id, p := range peers {
				if err := ChatMessage.Call(p, msg.From, msg.Text); err != nil {
					log.WithField("conn", id).WithError(err).Warn("Failed to relay line.")
				}
			}
		}
	}
}

// Peer is the handler of a peer-side connection.
type Peer struct {
	mu      sync.Mutex
	history []Message
	pings   map[uint32]time.Time
	nonce   uint32
	rtt     time.Duration

	incoming chan Message
}

// NewPeer creates a Peer. Relayed lines are kept in History and, while there
// is room, also sent to Incoming.
func NewPeer(backlog int) *Peer {
	return &Peer{
		pings:    make(map[uint32]time.Time),
		incoming: make(chan Message, backlog),
	}
}

// DisplayChat implements ChatDisplayer.
func (p *Peer) DisplayChat(_ *netevent.Conn, from, text string) error {
	msg := Message{From: from, Text: text}
	p.mu.Lock()
	p.history = append(p.history, msg)
	p.mu.Unlock()

	select {
	case p.incoming <- msg:
	default:
	}
	return nil
}

// Incoming returns relayed lines as they arrive.
func (p *Peer) Incoming() <-chan Message { return p.incoming }

// History returns every relayed line received so far.
func (p *Peer) History() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.history...)
}

// Ping sends a Ping over dst. The round trip is reported by RTT once the
// Pong arrives. Pings unanswered for a minute are forgotten.
func (p *Peer) Ping(dst rpc.Poster) error {
	p.mu.Lock()
	p.nonce++
	nonce := p.nonce
	for n, sent := range p.pings {
		if time.Since(sent) > time.Minute {
			delete(p.pings, n)
		}
	}
	p.pings[nonce] = time.Now()
	p.mu.Unlock()

	return Ping.Call(dst, uint64(nonce))
}

// ReceivePong implements PongReceiver.
func (p *Peer) ReceivePong(_ *netevent.Conn, nonce uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sent, ok := p.pings[nonce]
	if !ok {
		return nil
	}
	delete(p.pings, nonce)
	p.rtt = time.Since(sent)
	return nil
}

// RTT returns the round trip time of the latest answered ping.
func (p *Peer) RTT() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rtt
}
