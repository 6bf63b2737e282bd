package lidgren

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Peer owns a single UDP socket and every Connection bound to it
// (spec.md §4.8 "Peer and worker loop"). Socket reads happen on a
// dedicated read goroutine (readLoop), which hands each datagram to one
// worker goroutine; parsing, heartbeat ticks and connection-state
// mutation all happen on that worker. Application goroutines enqueue
// outgoing messages and drain the released-incoming queue.
type Peer struct {
	config      *Configuration
	logger      zerolog.Logger
	messagePool *MessagePool
	stats       *Stats

	conn     *net.UDPConn
	uniqueID uint64

	mu          sync.RWMutex
	connections map[string]*Connection
	handshakes  map[string]*Connection // pending initiator-side handshakes, keyed by nonce
	running     bool

	unconnectedOut fifo
	incomingMu     sync.Mutex
	incomingCond   *sync.Cond
	incoming       []*IncomingMessage

	discoveryHandler func(request []byte) []byte

	datagramCh   chan datagramTask
	connectCh    chan *Connection
	disconnectCh chan disconnectRequest
	shutdownCh   chan string
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// disconnectRequest is how an application goroutine asks the worker to
// tear down a connection, keeping the worker the sole mutator of
// Connection state (spec.md §5 "single-writer worker").
type disconnectRequest struct {
	conn   *Connection
	reason string
}

// NewPeer constructs a Peer bound to cfg, ready for Start.
func NewPeer(cfg *Configuration) *Peer {
	p := &Peer{
		config:       cfg,
		logger:       cfg.logger(),
		messagePool:  NewMessagePool(),
		stats:        NewStats(),
		connections:  make(map[string]*Connection),
		handshakes:   make(map[string]*Connection),
		datagramCh:   make(chan datagramTask, 1024),
		connectCh:    make(chan *Connection, 64),
		disconnectCh: make(chan disconnectRequest, 64),
		shutdownCh:   make(chan string, 1),
		stopCh:       make(chan struct{}),
	}
	p.incomingCond = sync.NewCond(&p.incomingMu)
	return p
}

// Start binds the UDP socket, derives this peer's unique identifier,
// and launches the worker goroutine (spec.md §4.8, §6 "Peer
// identity").
func (p *Peer) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(p.config.LocalAddress), Port: p.config.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("lidgren: bind UDP socket: %w", err)
	}
	if p.config.ReceiveBufferSize > 0 {
		_ = conn.SetReadBuffer(p.config.ReceiveBufferSize)
	}
	if p.config.SendBufferSize > 0 {
		_ = conn.SetWriteBuffer(p.config.SendBufferSize)
	}
	if err := setBroadcast(conn, p.config.BroadcastAddress != ""); err != nil {
		p.logger.Warn().Err(err).Msg("lidgren: could not enable SO_BROADCAST")
	}

	p.conn = conn
	p.uniqueID = derivePeerUniqueID(conn)
	p.stats.bindConnectionGauge(func() float64 { return float64(p.connectionCount()) })
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	p.logger.Info().Str("local_addr", conn.LocalAddr().String()).Uint64("peer_id", p.uniqueID).Msg("lidgren: peer started")

	p.wg.Add(2)
	go p.readLoop()
	go p.workerLoop()
	return nil
}

// UniqueIdentifier is this peer's stable identity, derived from its
// bound endpoint and local interface addresses (spec.md §6).
func (p *Peer) UniqueIdentifier() uint64 { return p.uniqueID }

func (p *Peer) isRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// datagramTask is one received datagram handed from readLoop to
// workerLoop for parsing.
type datagramTask struct {
	data []byte
	addr *net.UDPAddr
	at   time.Time
}

// readLoop is the socket consumer: it owns ReadFromUDP and nothing
// else, handing every datagram to workerLoop over datagramCh so that
// connection-state mutation stays on one goroutine (spec.md §4.8, §5
// "single-writer worker").
func (p *Peer) readLoop() {
	defer p.wg.Done()
	buf := make([]byte, 65536)
	for p.isRunning() {
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if p.isRunning() {
				p.logger.Debug().Err(err).Msg("lidgren: read error")
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case p.datagramCh <- datagramTask{data: data, addr: addr, at: time.Now()}:
		case <-p.stopCh:
			return
		}
	}
}

// workerLoop is the single mutator of connection state: Heartbeat,
// poll, parse, and teardown (spec.md §4.8). It is the only goroutine
// that ever calls into a Connection's handshake, channel or
// fragment-reassembly state, so those fields need no locking of their
// own; only the fields application goroutines read directly (Status,
// Stats, AverageRTT) go through Connection.mu. Application-requested
// disconnects and the final shutdown teardown are funneled through
// disconnectCh/shutdownCh instead of mutating connections directly, for
// the same reason (spec.md §5 "single-writer worker").
func (p *Peer) workerLoop() {
	defer p.wg.Done()
	interval := p.heartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case reason := <-p.shutdownCh:
			for _, c := range p.snapshotConnections() {
				c.beginDisconnect(reason)
			}
			close(p.stopCh)
			if p.conn != nil {
				_ = p.conn.Close()
			}
			return
		case task := <-p.datagramCh:
			p.handleDatagram(task.data, task.addr, task.at)
		case c := <-p.connectCh:
			p.registerConnection(c)
			p.registerPendingHandshake(c)
			c.sendConnect()
		case req := <-p.disconnectCh:
			req.conn.beginDisconnect(req.reason)
		case now := <-ticker.C:
			p.heartbeatAll(now)
		}
	}
}

// heartbeatInterval implements spec.md §4.8's rate target:
// max(250, 1250 - num_connections) heartbeats per second, expressed
// as a tick period.
func (p *Peer) heartbeatInterval() time.Duration {
	rate := 1250 - p.connectionCount()
	if rate < 250 {
		rate = 250
	}
	return time.Second / time.Duration(rate)
}

func (p *Peer) heartbeatAll(now time.Time) {
	for _, c := range p.snapshotConnections() {
		c.retryHandshake(now)
		c.heartbeatTick(now)
		if c.Status() == StatusDisconnected {
			p.forgetConnection(c)
		}
	}
}

func (p *Peer) snapshotConnections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Connection, 0, len(p.connections))
	for _, c := range p.connections {
		out = append(out, c)
	}
	return out
}

func (p *Peer) connectionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

func (p *Peer) registerConnection(c *Connection) {
	p.mu.Lock()
	p.connections[c.RemoteAddr.String()] = c
	p.mu.Unlock()
}

func (p *Peer) forgetConnection(c *Connection) {
	p.mu.Lock()
	delete(p.connections, c.RemoteAddr.String())
	delete(p.handshakes, c.handshakeNonce)
	p.mu.Unlock()
}

func (p *Peer) lookupConnection(addr *net.UDPAddr) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.connections[addr.String()]
	return c, ok
}

// registerPendingHandshake tracks an initiator-side Connection by its
// handshake nonce until the ConnectResponse completes it, so a reply
// arriving from a different port than the original Connect was sent to
// can still be matched (spec.md §4.8 "Port-rebind detection").
func (p *Peer) registerPendingHandshake(c *Connection) {
	p.mu.Lock()
	p.handshakes[c.handshakeNonce] = c
	p.mu.Unlock()
}

func (p *Peer) lookupPendingHandshake(nonce string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.handshakes[nonce]
	return c, ok
}

func (p *Peer) forgetPendingHandshake(nonce string) {
	p.mu.Lock()
	delete(p.handshakes, nonce)
	p.mu.Unlock()
}

// rekeyConnection moves a registered connection to a new remote
// endpoint, e.g. when a ConnectResponse arrives from a port other than
// the one the original Connect was sent to (spec.md §4.8 "Port-rebind
// detection"). Called only from the worker goroutine.
func (p *Peer) rekeyConnection(c *Connection, addr *net.UDPAddr) {
	p.mu.Lock()
	delete(p.connections, c.RemoteAddr.String())
	c.RemoteAddr = addr
	p.connections[addr.String()] = c
	p.mu.Unlock()
}

// writeTo writes one already-encoded datagram to the socket and
// updates wire-level counters (spec.md §4.8, §9 "Observability").
func (p *Peer) writeTo(addr *net.UDPAddr, data []byte) {
	n, err := p.conn.WriteToUDP(data, addr)
	if err != nil {
		p.logger.Debug().Err(err).Str("remote_addr", addr.String()).Msg("lidgren: write error")
		return
	}
	p.stats.bytesSent.Add(float64(n))
	p.stats.datagramsSent.Inc()
}

// deliverIncoming pushes a fully parsed message to the
// application-visible released queue (spec.md §3 "released incoming
// queue", §5).
func (p *Peer) deliverIncoming(m *IncomingMessage) {
	p.incomingMu.Lock()
	p.incoming = append(p.incoming, m)
	p.incomingCond.Signal()
	p.incomingMu.Unlock()
	p.stats.datagramsReceived.Inc()
}

// postWarning logs a protocol-level warning and, when
// IncomingWarningMessage is enabled, also releases it to the
// application as a WarningMessage IncomingMessage — the two channels
// spec.md §7 says failures are always surfaced through, log or
// StatusChanged/WarningMessage, never a panic from the worker. c may
// be nil for warnings that aren't attributable to any connection.
func (p *Peer) postWarning(c *Connection, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.logger.Warn().Msg(msg)
	if p.config.EnabledMessageTypes&IncomingWarningMessage == 0 {
		return
	}
	im := p.messagePool.GetIncoming()
	im.Type = MsgWarningMessage
	im.SenderConn = c
	if c != nil {
		im.SenderEndpoint = c.RemoteAddr.String()
	}
	im.ReceiveTime = time.Now()
	im.Payload.WriteString(msg)
	p.deliverIncoming(im)
}

// postStatusChanged releases a StatusChanged IncomingMessage for c
// when IncomingStatusChanged is enabled (spec.md §6, §7).
func (p *Peer) postStatusChanged(c *Connection, s ConnectionStatus) {
	if p.config.EnabledMessageTypes&IncomingStatusChanged == 0 {
		return
	}
	im := p.messagePool.GetIncoming()
	im.Type = MsgStatusChanged
	im.SenderConn = c
	im.SenderEndpoint = c.RemoteAddr.String()
	im.ReceiveTime = time.Now()
	im.Payload.WriteByte(byte(s))
	p.deliverIncoming(im)
}

// ReadMessage blocks until a released incoming message is available
// or ctx is done (spec.md §6 "ReadMessage").
func (p *Peer) ReadMessage(ctx context.Context) (*IncomingMessage, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.incomingMu.Lock()
			p.incomingCond.Broadcast()
			p.incomingMu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	p.incomingMu.Lock()
	defer p.incomingMu.Unlock()
	for len(p.incoming) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.isRunning() {
			return nil, ErrNotRunning
		}
		p.incomingCond.Wait()
	}
	m := p.incoming[0]
	p.incoming = p.incoming[1:]
	return m, nil
}

// ReleaseMessage returns an IncomingMessage to the pool once the
// application is done reading it (spec.md §5 "Resource policy").
func (p *Peer) ReleaseMessage(m *IncomingMessage) {
	p.messagePool.PutIncoming(m)
}

// SendUnconnectedMessage sends payload to remoteAddr without any
// connection or channel bookkeeping (spec.md §6 "Unconnected send").
func (p *Peer) SendUnconnectedMessage(remoteAddr string, payload []byte) error {
	addr, err := resolveUDPAddr(remoteAddr)
	if err != nil {
		return err
	}
	var dgram []byte
	dgram = encodeWireHeader(dgram, msgUserBase, false, 0, len(payload)*8)
	dgram = append(dgram, payload...)
	p.writeTo(addr, dgram)
	return nil
}

// Connections returns a snapshot of every currently tracked
// connection, regardless of handshake status.
func (p *Peer) Connections() []*Connection {
	return p.snapshotConnections()
}

// Shutdown disconnects every live connection and stops the worker and
// read goroutines (spec.md §4.8). The disconnects themselves are
// performed by the worker goroutine, not this caller, to preserve the
// single-writer invariant (spec.md §5): this only hands the reason
// off over shutdownCh and waits for the worker to finish tearing down
// and close the socket.
func (p *Peer) Shutdown(reason string) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.shutdownCh <- reason
	p.wg.Wait()

	p.incomingMu.Lock()
	p.incomingCond.Broadcast()
	p.incomingMu.Unlock()
}

func resolveUDPAddr(s string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", s)
}
