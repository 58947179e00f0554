package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/winter-snowfall/wookiee-unicaster/internal/config"
	"github.com/winter-snowfall/wookiee-unicaster/internal/events"
	"github.com/winter-snowfall/wookiee-unicaster/internal/registry"
)

// newTestConfig builds a fast-timer pair of SERVER/CLIENT configs wired
// together over the loopback range, modeling two distinct hosts by using
// distinct 127.0.0.0/8 addresses the way a real SERVER/CLIENT pair would
// use distinct public/LAN addresses.
func newTestConfig(peerCount, appPort, baseServerPort, baseClientPort, gamePort int) (*config.Config, *config.Config) {
	base := config.Default()
	base.PeerCount = peerCount
	base.ServerRelayBasePort = baseServerPort
	base.ClientRelayBasePort = baseClientPort
	base.PingInterval = 30 * time.Millisecond
	base.PingTimeout = 90 * time.Millisecond
	base.ServerConnectionTimeout = time.Second
	base.ClientConnectionTimeout = time.Second
	base.ServerPeerConnectionTimeout = 5 * time.Second

	server := *base
	server.Role = config.RoleServer
	server.LocalIP = net.IPv4(127, 0, 0, 1)
	server.AppPort = appPort

	client := *base
	client.Role = config.RoleClient
	client.LocalIP = net.IPv4(127, 0, 0, 2)
	client.PeerSourceIP = net.IPv4(127, 0, 0, 1)
	client.DestIP = net.IPv4(127, 0, 0, 2)
	client.AppDestPort = gamePort

	return &server, &client
}

func TestSinglePeerSingleDatagramRoundTrip(t *testing.T) {
	srvCfg, cliCfg := newTestConfig(1, 41010, 41100, 41200, 41300)

	gameSock, err := net.ListenUDP("udp4", &net.UDPAddr{IP: cliCfg.DestIP, Port: cliCfg.AppDestPort})
	if err != nil {
		t.Fatalf("listen game server: %v", err)
	}
	defer gameSock.Close()

	srv, err := NewServer(srvCfg, events.NewEventBus())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	cli, err := NewClient(cliCfg, events.NewEventBus())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.Start(ctx)
	cli.Start(ctx)

	// Wait for bring-up: the CLIENT's HELLO must reach the SERVER before a
	// peer datagram will find an established endpoint to forward to.
	time.Sleep(150 * time.Millisecond)

	peerConn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: srvCfg.LocalIP, Port: srvCfg.AppPort})
	if err != nil {
		t.Fatalf("dial peer: %v", err)
	}
	defer peerConn.Close()

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := peerConn.Write(payload); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	gameSock.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := gameSock.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("game server did not receive forwarded payload: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("payload mismatch at game server: got %v, want %v", buf[:n], payload)
	}

	reply := []byte{0xCA, 0xFE, 0xBA, 0xBE}
	if _, err := gameSock.WriteToUDP(reply, &net.UDPAddr{IP: cliCfg.LocalIP, Port: cliCfg.ClientRelayBasePort}); err != nil {
		t.Fatalf("game server reply: %v", err)
	}

	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = peerConn.Read(buf)
	if err != nil {
		t.Fatalf("peer did not receive reply: %v", err)
	}
	if string(buf[:n]) != string(reply) {
		t.Fatalf("reply mismatch at peer: got %v, want %v", buf[:n], reply)
	}
}

// TestServerResetsSlotOnClientSilenceDespiteActivePeer covers §8 scenario 4:
// the CLIENT going silent must reset its SERVER-side slot even while the
// peer keeps sending, since server_connection_timeout tracks CLIENT
// liveness, not peer liveness.
func TestServerResetsSlotOnClientSilenceDespiteActivePeer(t *testing.T) {
	srvCfg, cliCfg := newTestConfig(1, 41012, 41120, 41220, 41320)

	bus := events.NewEventBus()
	resets := make(chan int, 8)
	bus.Subscribe(events.SlotReset, "test", func(_ context.Context, ev events.Event) error {
		resets <- ev.Slot
		return nil
	})

	srv, err := NewServer(srvCfg, bus)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	cli, err := NewClient(cliCfg, events.NewEventBus())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer cli.Close()

	srvCtx, srvCancel := context.WithCancel(context.Background())
	defer srvCancel()
	cliCtx, cliCancel := context.WithCancel(context.Background())

	srv.Start(srvCtx)
	cli.Start(cliCtx)

	// Wait for the CLIENT's HELLOs to establish the learned endpoint, then
	// have the peer send once: the SERVER only assigns/activates a slot on
	// first peer ingress.
	time.Sleep(150 * time.Millisecond)

	peerConn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: srvCfg.LocalIP, Port: srvCfg.AppPort})
	if err != nil {
		t.Fatalf("dial peer: %v", err)
	}
	defer peerConn.Close()

	if _, err := peerConn.Write([]byte{0x00}); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	var snap []registry.Snapshot
	activeDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(activeDeadline) {
		snap = srv.Registry().Snapshot()
		if len(snap) == 1 && snap[0].State == Active {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(snap) != 1 || snap[0].State != Active {
		t.Fatalf("slot did not become active before silence test: %+v", snap)
	}

	// Stop the CLIENT's keep-alives without closing its sockets, simulating
	// a CLIENT that has gone silent but whose sockets a real OS would leave
	// bound.
	cliCancel()

	stopPeer := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopPeer:
				return
			case <-ticker.C:
				peerConn.Write([]byte{0x01})
			}
		}
	}()
	defer close(stopPeer)

	// The still-sending peer rebinds the slot on its next datagram, so the
	// UNASSIGNED state lasts at most one send interval; the reset is observed
	// through the SlotReset event instead of by polling the registry.
	select {
	case slot := <-resets:
		if slot != 0 {
			t.Fatalf("unexpected slot reset: got slot %d, want 0", slot)
		}
	case <-time.After(4 * time.Second):
		t.Fatalf("slot was not reset after CLIENT went silent, despite continuous peer traffic: %+v", srv.Registry().Snapshot())
	}
}

func TestThirdPeerDroppedWhenTableFull(t *testing.T) {
	srvCfg, cliCfg := newTestConfig(2, 41011, 41110, 41210, 41310)

	gameSock, err := net.ListenUDP("udp4", &net.UDPAddr{IP: cliCfg.DestIP, Port: cliCfg.AppDestPort})
	if err != nil {
		t.Fatalf("listen game server: %v", err)
	}
	defer gameSock.Close()

	srv, err := NewServer(srvCfg, events.NewEventBus())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	cli, err := NewClient(cliCfg, events.NewEventBus())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.Start(ctx)
	cli.Start(ctx)
	time.Sleep(150 * time.Millisecond)

	dial := func(port int) *net.UDPConn {
		conn, err := net.DialUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}, &net.UDPAddr{IP: srvCfg.LocalIP, Port: srvCfg.AppPort})
		if err != nil {
			t.Fatalf("dial peer: %v", err)
		}
		return conn
	}

	p1 := dial(55001)
	defer p1.Close()
	p2 := dial(55002)
	defer p2.Close()
	p3 := dial(55003)
	defer p3.Close()

	p1.Write([]byte{1})
	p2.Write([]byte{2})
	time.Sleep(50 * time.Millisecond)
	p3.Write([]byte{3})
	time.Sleep(50 * time.Millisecond)

	snap := srv.Registry().Snapshot()
	for _, s := range snap {
		if s.Peer != nil && s.Peer.Port == 55003 {
			t.Fatalf("third peer must be dropped, not bound to slot %d", s.Index)
		}
	}
}
