// Package registry implements the SERVER-side peer registry described in
// the engine design: a fixed-size table of peer slots mapping a remote
// peer's observed (IP, port) to a slot index, used to fan datagrams arriving
// on the single public listener out to per-slot channel workers and back.
package registry

import (
	"net"
	"sync"
	"time"
)

// State is a peer slot's position in its lifecycle state machine.
type State int

const (
	Unassigned State = iota
	Assigning
	Active
	Resetting
)

func (s State) String() string {
	switch s {
	case Unassigned:
		return "UNASSIGNED"
	case Assigning:
		return "ASSIGNING"
	case Active:
		return "ACTIVE"
	case Resetting:
		return "RESETTING"
	default:
		return "UNKNOWN"
	}
}

// Slot is one peer-multiplexing channel. Fields other than Index are
// mutated only by the Registry holding the slot; workers read a consistent
// snapshot via Registry.Snapshot.
type Slot struct {
	Index int
	Port  int // B_s + Index, the relay port this slot owns

	state State
	peer  *net.UDPAddr

	lastIngressAt time.Time
	lastEgressAt  time.Time

	packetsIn  uint64
	packetsOut uint64
	drops      uint64
}

// Snapshot is an immutable, race-free copy of a slot's observable state,
// used by the REST status endpoint and the --stats CLI report.
type Snapshot struct {
	Index         int
	Port          int
	State         State
	Peer          *net.UDPAddr
	LastIngressAt time.Time
	LastEgressAt  time.Time
	PacketsIn     uint64
	PacketsOut    uint64
	Drops         uint64
}

// Registry owns the slot table and the peer-address-to-slot map. It is the
// single writer for both; callers never mutate slots directly.
type Registry struct {
	mu        sync.Mutex
	slots     []*Slot
	addrToIdx map[string]int
}

// New creates a Registry with n slots, each owning relay port basePort+i.
func New(n int, basePort int) *Registry {
	slots := make([]*Slot, n)
	for i := range slots {
		slots[i] = &Slot{Index: i, Port: basePort + i, state: Unassigned}
	}
	return &Registry{
		slots:     slots,
		addrToIdx: make(map[string]int, n),
	}
}

// Len returns the configured slot count N.
func (r *Registry) Len() int {
	return len(r.slots)
}

// Assign implements the §4.3 ingress policy for a datagram observed on the
// public listener from addr. It returns the bound slot index and whether
// the datagram should be forwarded (false only when the table is full and
// addr is not already bound).
//
// Assignment is atomic with respect to concurrent ingress: Assign holds the
// registry lock for its entire body.
func (r *Registry) Assign(addr *net.UDPAddr) (idx int, ok bool) {
	key := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, found := r.addrToIdx[key]; found {
		r.slots[i].lastIngressAt = time.Now()
		r.slots[i].packetsIn++
		return i, true
	}

	for i, s := range r.slots {
		if s.state == Unassigned {
			s.state = Assigning
			s.peer = addr
			s.lastIngressAt = time.Now()
			s.packetsIn++
			r.addrToIdx[key] = i
			return i, true
		}
	}

	return -1, false
}

// Activate transitions a slot from ASSIGNING to ACTIVE, the way the SERVER
// side does on first established mapping (the assignment itself, since the
// SERVER has no separate handshake ack to wait for).
func (r *Registry) Activate(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[idx].state == Assigning {
		r.slots[idx].state = Active
	}
}

// PeerOf returns the remote address currently bound to slot idx, or nil if
// unassigned.
func (r *Registry) PeerOf(idx int) *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[idx].peer
}

// MarkEgress records that a payload was sent back to the peer bound on
// slot idx.
func (r *Registry) MarkEgress(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[idx].lastEgressAt = time.Now()
	r.slots[idx].packetsOut++
}

// MarkDrop increments a slot's drop counter, used for QueueFull drops on
// that slot. An index outside the table is ignored.
func (r *Registry) MarkDrop(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx >= 0 && idx < len(r.slots) {
		r.slots[idx].drops++
	}
}

// Reset clears slot idx back to UNASSIGNED, removing its address mapping.
// Per §4.5, the caller must drain the slot's queue before calling Reset
// completes visibly to new assignments — Reset itself only clears registry
// state, queue draining is the channel worker's responsibility.
func (r *Registry) Reset(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(idx)
}

func (r *Registry) resetLocked(idx int) {
	s := r.slots[idx]
	if s.peer != nil {
		delete(r.addrToIdx, s.peer.String())
	}
	s.state = Unassigned
	s.peer = nil
	s.lastIngressAt = time.Time{}
	s.lastEgressAt = time.Time{}
}

// PurgeAll resets every slot, the §4.5 server_peer_connection_timeout
// global reset.
func (r *Registry) PurgeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		r.resetLocked(i)
	}
}

// LastGlobalActivity returns the most recent lastIngressAt across all
// slots, used to drive server_peer_connection_timeout.
func (r *Registry) LastGlobalActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest time.Time
	for _, s := range r.slots {
		if s.lastIngressAt.After(latest) {
			latest = s.lastIngressAt
		}
	}
	return latest
}

// State returns a slot's current lifecycle state.
func (r *Registry) State(idx int) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[idx].state
}

// SetState forces a slot's lifecycle state, used by channel workers to
// enter RESETTING ahead of calling Reset.
func (r *Registry) SetState(idx int, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[idx].state = state
}

// Snapshot returns a race-free copy of every slot's observable state, for
// the REST status endpoint and --stats report.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, len(r.slots))
	for i, s := range r.slots {
		out[i] = Snapshot{
			Index:         s.Index,
			Port:          s.Port,
			State:         s.state,
			Peer:          s.peer,
			LastIngressAt: s.lastIngressAt,
			LastEgressAt:  s.lastEgressAt,
			PacketsIn:     s.packetsIn,
			PacketsOut:    s.packetsOut,
			Drops:         s.drops,
		}
	}
	return out
}

// SlotSnapshot returns a single slot's snapshot, or ok=false if idx is out
// of range.
func (r *Registry) SlotSnapshot(idx int) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.slots) {
		return Snapshot{}, false
	}
	s := r.slots[idx]
	return Snapshot{
		Index:         s.Index,
		Port:          s.Port,
		State:         s.state,
		Peer:          s.peer,
		LastIngressAt: s.lastIngressAt,
		LastEgressAt:  s.lastEgressAt,
		PacketsIn:     s.packetsIn,
		PacketsOut:    s.packetsOut,
		Drops:         s.drops,
	}, true
}
