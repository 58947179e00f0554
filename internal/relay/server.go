// Package relay implements the duplex relay engine: the SERVER and CLIENT
// roles built on top of the socket layer (internal/netio), the control
// subprotocol (internal/protocol) and, on SERVER, the peer registry
// (internal/registry).
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

// Server is the SERVER-role relay engine: a single public listener fanning
// out to N per-slot channel sockets, bridging remote peers to the CLIENT
// endpoint on the other side of the tunnel.
type Server struct {
	cfg *config.Config
	log zerolog.Logger
	bus *events.EventBus

	reg    *registry.Registry
	public *netio.Socket
	slots  []*netio.Socket
	queues []*Queue // public listener -> slot channel socket, per slot

	clientMu   sync.Mutex
	clientAddr []*net.UDPAddr // learned CLIENT endpoint for each slot, from HELLO

	clientLastSeenMu sync.Mutex
	clientLastSeen   []time.Time // last datagram (payload or KA/HELLO) received from the CLIENT on each slot

	wg sync.WaitGroup
}

// NewServer binds the public listener and every slot channel socket. A
// bind failure here is the BindError kind from §7: fatal during startup.
func NewServer(cfg *config.Config, bus *events.EventBus) (*Server, error) {
	public, err := netio.Bind(cfg.LocalIP, cfg.AppPort)
	if err != nil {
		return nil, err
	}

	slots := make([]*netio.Socket, cfg.PeerCount)
	queues := make([]*Queue, cfg.PeerCount)
	for i := 0; i < cfg.PeerCount; i++ {
		sock, err := netio.Bind(cfg.LocalIP, cfg.ServerRelayBasePort+i)
		if err != nil {
			public.Close()
			for j := 0; j < i; j++ {
				slots[j].Close()
			}
			return nil, err
		}
		slots[i] = sock
		queues[i] = NewQueue(cfg.PacketQueueSize)
	}

	return &Server{
		cfg:            cfg,
		log:            zerolog.Nop(),
		bus:            bus,
		reg:            registry.New(cfg.PeerCount, cfg.ServerRelayBasePort),
		public:         public,
		slots:          slots,
		queues:         queues,
		clientAddr:     make([]*net.UDPAddr, cfg.PeerCount),
		clientLastSeen: make([]time.Time, cfg.PeerCount),
	}, nil
}

// SetLogger installs a component logger, called by the caller once the
// ambient logging stack is initialized.
func (s *Server) SetLogger(l zerolog.Logger) { s.log = l }

// Registry exposes the peer registry for the REST status endpoint and the
// --stats CLI report; it is read-only from their perspective.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Start launches the public listener, every slot's channel worker, and the
// supervisor's timeout sweep. It returns immediately; callers use Wait (or
// observe ctx cancellation) to know when every goroutine has exited.
func (s *Server) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.runListener(ctx)

	for i := 0; i < s.cfg.PeerCount; i++ {
		s.wg.Add(2)
		go s.runSlotSender(ctx, i)
		go s.runSlotReceiver(ctx, i)
	}

	s.wg.Add(1)
	go s.runSupervisor(ctx)
}

// Wait blocks until every goroutine launched by Start has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close closes every socket, deterministically: the public listener first
// (stop new ingress) then each slot's channel socket, per §5.
func (s *Server) Close() {
	s.public.Close()
	for _, sock := range s.slots {
		sock.Close()
	}
}

// runListener is the single SERVER-ingress fan-out point (§4.3, §5): it is
// the only reader of the public socket and the only writer to registry
// assignment state on the ingress path.
func (s *Server) runListener(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, s.cfg.ReceiveBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, from, err := s.public.Recv(buf, 200*time.Millisecond)
		if err != nil {
			if netio.IsTimeout(err) {
				continue
			}
			s.log.Error().Err(err).Msg("public listener recv failed")
			continue
		}

		idx, ok := s.reg.Assign(from)
		if !ok {
			s.log.Warn().Str("peer", from.String()).Msg("peer table full, dropping datagram")
			continue
		}

		if s.reg.State(idx) == registry.Assigning {
			s.reg.Activate(idx)
			s.emit(events.SlotAssigned, idx, from)
			s.emit(events.SlotActive, idx, from)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if !s.queues[idx].Push(packet{data: data, from: from}) {
			s.reg.MarkDrop(idx)
			s.log.Warn().Int("slot", idx).Msg("slot queue full, dropping datagram")
		}
	}
}

// runSlotSender drains slot i's ingress queue onto its channel socket,
// addressed to the CLIENT endpoint learned from that slot's HELLO.
func (s *Server) runSlotSender(ctx context.Context, idx int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.queues[idx].C():
			dst := s.clientEndpoint(idx)
			if dst == nil {
				continue // CLIENT hasn't completed bring-up on this slot yet
			}
			if err := s.slots[idx].Send(p.data, dst); err != nil {
				s.log.Error().Err(err).Int("slot", idx).Msg("slot channel send failed")
			}
		}
	}
}

// runSlotReceiver is the SERVER-egress worker for slot i (§4.4): it reads
// whatever the CLIENT sends on this slot's channel socket, handling control
// opcodes in-band and otherwise delivering payload back to the peer via the
// shared public listener.
func (s *Server) runSlotReceiver(ctx context.Context, idx int) {
	defer s.wg.Done()

	buf := make([]byte, s.cfg.ReceiveBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, from, err := s.slots[idx].Recv(buf, 200*time.Millisecond)
		if err != nil {
			if netio.IsTimeout(err) {
				continue
			}
			s.log.Error().Err(err).Int("slot", idx).Msg("slot channel recv failed")
			continue
		}

		s.markClientSeen(idx)

		if protocol.IsControl(buf[:n]) {
			s.handleControl(idx, from, buf[:n])
			continue
		}

		peer := s.reg.PeerOf(idx)
		if peer == nil {
			continue
		}
		if err := s.public.Send(buf[:n], peer); err != nil {
			s.log.Error().Err(err).Int("slot", idx).Msg("public send failed")
			continue
		}
		s.reg.MarkEgress(idx)
	}
}

func (s *Server) handleControl(idx int, from *net.UDPAddr, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		s.log.Warn().Err(err).Int("slot", idx).Msg("protocol anomaly")
		return
	}

	switch msg.Op {
	case protocol.OpHello:
		s.setClientEndpoint(idx, from)
		if s.reg.State(idx) == registry.Assigning {
			s.reg.Activate(idx)
			s.emit(events.SlotActive, idx, s.reg.PeerOf(idx))
		}
		s.slots[idx].Send(protocol.Build(protocol.OpKeepAliveAck, idx), from)
	case protocol.OpKeepAlive:
		s.setClientEndpoint(idx, from)
		s.slots[idx].Send(protocol.Build(protocol.OpKeepAliveAck, idx), from)
	case protocol.OpReset:
		s.resetSlot(idx)
	}
}

func (s *Server) clientEndpoint(idx int) *net.UDPAddr {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return s.clientAddr[idx]
}

func (s *Server) setClientEndpoint(idx int, addr *net.UDPAddr) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	s.clientAddr[idx] = addr
}

// markClientSeen records that a datagram (payload or control) arrived from
// the CLIENT on slot idx's channel socket, the liveness signal
// server_connection_timeout is measured against.
func (s *Server) markClientSeen(idx int) {
	s.clientLastSeenMu.Lock()
	s.clientLastSeen[idx] = time.Now()
	s.clientLastSeenMu.Unlock()
}

func (s *Server) clientLastSeenAt(idx int) time.Time {
	s.clientLastSeenMu.Lock()
	defer s.clientLastSeenMu.Unlock()
	return s.clientLastSeen[idx]
}

// runSupervisor sweeps the two SERVER-side inactivity timers of §4.5: the
// per-slot server_connection_timeout and the global
// server_peer_connection_timeout.
func (s *Server) runSupervisor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()

			for i := 0; i < s.cfg.PeerCount; i++ {
				if s.reg.State(i) == registry.Unassigned {
					continue
				}
				last := s.clientLastSeenAt(i)
				if !last.IsZero() && now.Sub(last) >= s.cfg.ServerConnectionTimeout {
					s.resetSlot(i)
				}
			}

			if last := s.reg.LastGlobalActivity(); !last.IsZero() && now.Sub(last) >= s.cfg.ServerPeerConnectionTimeout {
				s.purgeAll()
			}
		}
	}
}

func (s *Server) resetSlot(idx int) {
	s.reg.SetState(idx, registry.Resetting)
	s.queues[idx].Drain()
	s.setClientEndpoint(idx, nil)
	s.clientLastSeenMu.Lock()
	s.clientLastSeen[idx] = time.Time{}
	s.clientLastSeenMu.Unlock()
	s.reg.Reset(idx)
	s.log.Info().Int("slot", idx).Msg("slot reset")
	s.emit(events.SlotReset, idx, nil)
}

func (s *Server) purgeAll() {
	for i := 0; i < s.cfg.PeerCount; i++ {
		s.queues[i].Drain()
		s.setClientEndpoint(i, nil)
		s.clientLastSeenMu.Lock()
		s.clientLastSeen[i] = time.Time{}
		s.clientLastSeenMu.Unlock()
	}
	s.reg.PurgeAll()
	s.log.Info().Msg("peer registry purged (global inactivity)")
	s.emit(events.RegistryPurged, -1, nil)
}

func (s *Server) emit(t events.EventType, slot int, peer net.Addr) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(context.Background(), events.Event{
		Type:   t,
		Source: "relay.server",
		At:     time.Now(),
		Slot:   slot,
		Peer:   peer,
	})
}
