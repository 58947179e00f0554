package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/winter-snowfall/wookiee-unicaster/internal/config"
	"github.com/winter-snowfall/wookiee-unicaster/internal/events"
	"github.com/winter-snowfall/wookiee-unicaster/internal/netio"
	"github.com/winter-snowfall/wookiee-unicaster/internal/protocol"
	"github.com/winter-snowfall/wookiee-unicaster/internal/registry"
)

// clientSlot tracks the CLIENT-side lifecycle state for one slot. Unlike
// the SERVER, the CLIENT has no shared listener and therefore no address
// table to guard: each slot owns two dedicated sockets and a single reader
// per socket, so the state here needs only the fields the bring-up/keep-
// alive/timeout logic reads and writes.
type clientSlot struct {
	mu sync.Mutex

	state State

	lastGameTraffic time.Time // drives client_connection_timeout
	lastKAAck       time.Time // drives ping_timeout / re-HELLO
}

// State mirrors registry.State for the CLIENT side, which has no registry
// of its own (only SERVER maps peer addresses to slots).
type State = registry.State

const (
	Unassigned = registry.Unassigned
	Assigning  = registry.Assigning
	Active     = registry.Active
	Resetting  = registry.Resetting
)

// Client is the CLIENT-role relay engine: for each slot it originates
// bring-up traffic to the SERVER and bridges tunneled payload to and from
// the local game server.
type Client struct {
	cfg *config.Config
	log zerolog.Logger
	bus *events.EventBus

	serverAddr *net.UDPAddr // (S, B_s+i) resolved per slot below
	gameAddr   *net.UDPAddr // (D, O), shared destination for every slot

	serverSocks []*netio.Socket // bound on B_s+i, talk to SERVER
	gameSocks   []*netio.Socket // bound on B_c+i, talk to local game server

	slots []*clientSlot

	wg sync.WaitGroup
}

// NewClient binds every slot's pair of sockets. Bind failure is fatal
// (BindError, §7).
func NewClient(cfg *config.Config, bus *events.EventBus) (*Client, error) {
	gameAddr := &net.UDPAddr{IP: cfg.DestIP, Port: cfg.AppDestPort}

	serverSocks := make([]*netio.Socket, cfg.PeerCount)
	gameSocks := make([]*netio.Socket, cfg.PeerCount)
	slots := make([]*clientSlot, cfg.PeerCount)

	cleanup := func(n int) {
		for j := 0; j < n; j++ {
			serverSocks[j].Close()
			gameSocks[j].Close()
		}
	}

	for i := 0; i < cfg.PeerCount; i++ {
		ssock, err := netio.Bind(cfg.LocalIP, cfg.ServerRelayBasePort+i)
		if err != nil {
			cleanup(i)
			return nil, err
		}
		gsock, err := netio.Bind(cfg.LocalIP, cfg.ClientRelayBasePort+i)
		if err != nil {
			ssock.Close()
			cleanup(i)
			return nil, err
		}
		serverSocks[i] = ssock
		gameSocks[i] = gsock
		slots[i] = &clientSlot{state: Unassigned}
	}

	return &Client{
		cfg:         cfg,
		log:         zerolog.Nop(),
		bus:         bus,
		serverAddr:  &net.UDPAddr{IP: cfg.PeerSourceIP},
		gameAddr:    gameAddr,
		serverSocks: serverSocks,
		gameSocks:   gameSocks,
		slots:       slots,
	}, nil
}

// SetLogger installs a component logger.
func (c *Client) SetLogger(l zerolog.Logger) { c.log = l }

// Snapshot mirrors registry.Snapshot for CLIENT-side slots, used by the
// REST status endpoint when run on the CLIENT host.
func (c *Client) Snapshot() []registry.Snapshot {
	out := make([]registry.Snapshot, len(c.slots))
	for i, s := range c.slots {
		s.mu.Lock()
		out[i] = registry.Snapshot{
			Index:         i,
			Port:          c.cfg.ServerRelayBasePort + i,
			State:         s.state,
			LastEgressAt:  s.lastGameTraffic,
			LastIngressAt: s.lastKAAck,
		}
		s.mu.Unlock()
	}
	return out
}

// Start launches bring-up/keep-alive, both channel workers, and the
// supervisor for every slot. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	for i := 0; i < c.cfg.PeerCount; i++ {
		c.wg.Add(3)
		go c.runKeepAlive(ctx, i)
		go c.runServerSideWorker(ctx, i)
		go c.runGameSideWorker(ctx, i)
	}

	c.wg.Add(1)
	go c.runSupervisor(ctx)
}

// Wait blocks until every goroutine launched by Start has returned.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close closes every slot's sockets, unblocking their readers.
func (c *Client) Close() {
	for i := range c.serverSocks {
		c.serverSocks[i].Close()
		c.gameSocks[i].Close()
	}
}

func (c *Client) slotServerAddr(idx int) *net.UDPAddr {
	return &net.UDPAddr{IP: c.serverAddr.IP, Port: c.cfg.ServerRelayBasePort + idx}
}

// runKeepAlive drives HELLO during bring-up and KA once active, per §4.2:
// HELLO repeats at ping_interval until a KA-ACK is observed; once active,
// KA is sent every ping_interval, and the absence of a KA-ACK within
// ping_timeout forces a fallback to HELLO (full re-bring-up).
func (c *Client) runKeepAlive(ctx context.Context, idx int) {
	defer c.wg.Done()

	slot := c.slots[idx]
	dst := c.slotServerAddr(idx)
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	slot.mu.Lock()
	slot.state = Assigning
	slot.mu.Unlock()
	c.serverSocks[idx].Send(protocol.Build(protocol.OpHello, idx), dst)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slot.mu.Lock()
			state := slot.state
			sinceAck := time.Since(slot.lastKAAck)
			slot.mu.Unlock()

			if state == Active && sinceAck < c.cfg.PingTimeout {
				c.serverSocks[idx].Send(protocol.Build(protocol.OpKeepAlive, idx), dst)
				continue
			}

			// Never went active, or an ACK is overdue: fall back to HELLO.
			if state == Active {
				c.log.Warn().Int("slot", idx).Msg("KA-ACK overdue, re-issuing HELLO")
				slot.mu.Lock()
				slot.state = Assigning
				slot.mu.Unlock()
				c.emit(events.SlotReset, idx)
			}
			c.serverSocks[idx].Send(protocol.Build(protocol.OpHello, idx), dst)
		}
	}
}

// runServerSideWorker reads whatever the SERVER sends on this slot's
// channel socket: KA-ACK marks the slot active and refreshes liveness;
// payload is forwarded to the local game server via the slot's egress
// socket.
func (c *Client) runServerSideWorker(ctx context.Context, idx int) {
	defer c.wg.Done()

	slot := c.slots[idx]
	buf := make([]byte, c.cfg.ReceiveBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, _, err := c.serverSocks[idx].Recv(buf, 200*time.Millisecond)
		if err != nil {
			if netio.IsTimeout(err) {
				continue
			}
			c.log.Error().Err(err).Int("slot", idx).Msg("server-side recv failed")
			continue
		}

		if protocol.IsControl(buf[:n]) {
			msg, err := protocol.Parse(buf[:n])
			if err != nil {
				c.log.Warn().Err(err).Int("slot", idx).Msg("protocol anomaly")
				continue
			}
			switch msg.Op {
			case protocol.OpKeepAliveAck:
				slot.mu.Lock()
				wasActive := slot.state == Active
				slot.state = Active
				slot.lastKAAck = time.Now()
				slot.mu.Unlock()
				if !wasActive {
					c.emit(events.SlotActive, idx)
				}
			case protocol.OpReset:
				c.resetSlot(idx)
			}
			continue
		}

		if err := c.gameSocks[idx].Send(buf[:n], c.gameAddr); err != nil {
			c.log.Error().Err(err).Int("slot", idx).Msg("forward to game server failed")
		}
	}
}

// runGameSideWorker reads game server replies on the slot's egress socket
// and forwards them to the SERVER over the slot's channel socket.
func (c *Client) runGameSideWorker(ctx context.Context, idx int) {
	defer c.wg.Done()

	slot := c.slots[idx]
	dst := c.slotServerAddr(idx)
	buf := make([]byte, c.cfg.ReceiveBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, _, err := c.gameSocks[idx].Recv(buf, 200*time.Millisecond)
		if err != nil {
			if netio.IsTimeout(err) {
				continue
			}
			c.log.Error().Err(err).Int("slot", idx).Msg("game-side recv failed")
			continue
		}

		slot.mu.Lock()
		slot.lastGameTraffic = time.Now()
		slot.mu.Unlock()

		if err := c.serverSocks[idx].Send(buf[:n], dst); err != nil {
			c.log.Error().Err(err).Int("slot", idx).Msg("forward to server failed")
		}
	}
}

// runSupervisor sweeps client_connection_timeout for every slot.
func (c *Client) runSupervisor(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for i, slot := range c.slots {
				slot.mu.Lock()
				last := slot.lastGameTraffic
				active := slot.state == Active
				slot.mu.Unlock()

				if active && !last.IsZero() && now.Sub(last) >= c.cfg.ClientConnectionTimeout {
					c.resetSlot(i)
				}
			}
		}
	}
}

func (c *Client) resetSlot(idx int) {
	slot := c.slots[idx]
	slot.mu.Lock()
	slot.state = Resetting
	slot.mu.Unlock()

	c.log.Info().Int("slot", idx).Msg("slot reset, re-issuing HELLO")

	slot.mu.Lock()
	slot.state = Assigning
	slot.lastGameTraffic = time.Time{}
	slot.lastKAAck = time.Time{}
	slot.mu.Unlock()

	c.emit(events.SlotReset, idx)
}

func (c *Client) emit(t events.EventType, slot int) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(context.Background(), events.Event{
		Type:   t,
		Source: "relay.client",
		At:     time.Now(),
		Slot:   slot,
	})
}
