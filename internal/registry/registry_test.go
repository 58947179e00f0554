package registry

import (
	"net"
	"testing"
)

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestAssignIdempotentForSameAddress(t *testing.T) {
	r := New(2, 23000)

	i1, ok := r.Assign(udpAddr("10.0.1.1", 55000))
	if !ok || i1 != 0 {
		t.Fatalf("first assign: got (%d, %v), want (0, true)", i1, ok)
	}

	i2, ok := r.Assign(udpAddr("10.0.1.1", 55000))
	if !ok || i2 != 0 {
		t.Fatalf("repeat assign: got (%d, %v), want (0, true)", i2, ok)
	}
}

func TestAssignAscendingSlotOrder(t *testing.T) {
	r := New(2, 23000)

	i1, _ := r.Assign(udpAddr("10.0.1.1", 55000))
	i2, _ := r.Assign(udpAddr("10.0.2.1", 55000))

	if i1 != 0 || i2 != 1 {
		t.Fatalf("got slots (%d, %d), want (0, 1)", i1, i2)
	}
}

func TestAssignDropsWhenFull(t *testing.T) {
	r := New(1, 23000)

	if _, ok := r.Assign(udpAddr("10.0.1.1", 55000)); !ok {
		t.Fatalf("expected first peer to be assigned")
	}

	idx, ok := r.Assign(udpAddr("10.0.3.1", 55000))
	if ok {
		t.Fatalf("expected second peer to be dropped, got slot %d", idx)
	}

	snap, _ := r.SlotSnapshot(0)
	if snap.Peer.String() != udpAddr("10.0.1.1", 55000).String() {
		t.Fatalf("existing slot must remain unchanged, got peer %v", snap.Peer)
	}
}

func TestResetClearsSlotAndAddressMapping(t *testing.T) {
	r := New(1, 23000)
	addr := udpAddr("10.0.1.1", 55000)

	r.Assign(addr)
	r.Reset(0)

	if got := r.State(0); got != Unassigned {
		t.Fatalf("state after reset: got %v, want UNASSIGNED", got)
	}
	if p := r.PeerOf(0); p != nil {
		t.Fatalf("peer after reset: got %v, want nil", p)
	}

	// The same address must be able to re-bind slot 0 immediately.
	idx, ok := r.Assign(addr)
	if !ok || idx != 0 {
		t.Fatalf("re-assign after reset: got (%d, %v), want (0, true)", idx, ok)
	}
}

func TestPurgeAllClearsEveryMapping(t *testing.T) {
	r := New(2, 23000)
	r.Assign(udpAddr("10.0.1.1", 55000))
	r.Assign(udpAddr("10.0.2.1", 55000))

	r.PurgeAll()

	for i := 0; i < r.Len(); i++ {
		if got := r.State(i); got != Unassigned {
			t.Errorf("slot %d state: got %v, want UNASSIGNED", i, got)
		}
	}

	idx, ok := r.Assign(udpAddr("10.0.1.1", 55000))
	if !ok || idx != 0 {
		t.Fatalf("assign after purge: got (%d, %v), want (0, true)", idx, ok)
	}
}

func TestDistinctSlotsHoldDistinctPeers(t *testing.T) {
	r := New(2, 23000)
	r.Assign(udpAddr("10.0.1.1", 55000))
	r.Assign(udpAddr("10.0.2.1", 55000))

	s0, _ := r.SlotSnapshot(0)
	s1, _ := r.SlotSnapshot(1)

	if s0.Peer.String() == s1.Peer.String() {
		t.Fatalf("slots 0 and 1 must not share a peer address")
	}
}
