package relay

import "net"

// packet is a datagram in flight between a reader and its paired sender,
// decoupled by a bounded Queue so a slow sender never blocks the socket
// read loop feeding it.
type packet struct {
	data []byte
	from *net.UDPAddr
}

// Queue is a bounded, single-producer/single-consumer (or, on the SERVER
// public listener, many-producer/single-consumer-per-slot) FIFO of
// in-flight packets. Push never blocks: when full, the incoming packet is
// dropped, matching UDP's own best-effort delivery rather than introducing
// head-of-line blocking on a slow slot.
type Queue struct {
	ch chan packet
}

// NewQueue creates a Queue with the given depth (packet_queue_size).
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{ch: make(chan packet, depth)}
}

// Push enqueues a packet, returning false if the queue was full and the
// packet was dropped.
func (q *Queue) Push(p packet) bool {
	select {
	case q.ch <- p:
		return true
	default:
		return false
	}
}

// C exposes the receive side for a consumer's select loop.
func (q *Queue) C() <-chan packet {
	return q.ch
}

// Drain empties the queue without processing its contents, the §4.5
// requirement that a reset must not leak queued payloads from the
// previously bound peer to the next assignment.
func (q *Queue) Drain() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
