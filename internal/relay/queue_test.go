package relay

import (
	"net"
	"testing"
)

func TestQueuePushPopFIFO(t *testing.T) {
	q := NewQueue(4)
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}

	for i := 0; i < 3; i++ {
		if !q.Push(packet{data: []byte{byte(i)}, from: addr}) {
			t.Fatalf("push %d: unexpected drop", i)
		}
	}

	for i := 0; i < 3; i++ {
		p := <-q.C()
		if p.data[0] != byte(i) {
			t.Fatalf("pop %d: got %d, want %d (FIFO order violated)", i, p.data[0], i)
		}
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}

	if !q.Push(packet{data: []byte{1}, from: addr}) {
		t.Fatalf("push 1: unexpected drop")
	}
	if !q.Push(packet{data: []byte{2}, from: addr}) {
		t.Fatalf("push 2: unexpected drop")
	}
	if q.Push(packet{data: []byte{3}, from: addr}) {
		t.Fatalf("push 3: expected drop, queue should be full")
	}
}

func TestQueueDrainEmptiesWithoutBlocking(t *testing.T) {
	q := NewQueue(4)
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}

	q.Push(packet{data: []byte{1}, from: addr})
	q.Push(packet{data: []byte{2}, from: addr})

	q.Drain()

	select {
	case p := <-q.C():
		t.Fatalf("expected empty queue after Drain, got %v", p)
	default:
	}

	// A queue must accept new pushes immediately after Drain.
	if !q.Push(packet{data: []byte{3}, from: addr}) {
		t.Fatalf("push after drain: unexpected drop")
	}
}
