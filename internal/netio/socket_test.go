package netio

import (
	"net"
	"testing"
	"time"
)

func TestSendRecvRoundTrip(t *testing.T) {
	a, err := Bind(net.IPv4(127, 0, 0, 1), 0)
	if err != nil {
		t.Fatalf("bind a: %v", err)
	}
	defer a.Close()

	b, err := Bind(net.IPv4(127, 0, 0, 1), 0)
	if err != nil {
		t.Fatalf("bind b: %v", err)
	}
	defer b.Close()

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := a.Send(payload, b.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf := make([]byte, 2048)
	n, from, err := b.Recv(buf, time.Second)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("payload mismatch: got %v, want %v", buf[:n], payload)
	}
	if from.Port != a.LocalAddr().Port {
		t.Errorf("unexpected source port: got %d, want %d", from.Port, a.LocalAddr().Port)
	}
}

func TestRecvTimeout(t *testing.T) {
	s, err := Bind(net.IPv4(127, 0, 0, 1), 0)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer s.Close()

	buf := make([]byte, 64)
	_, _, err = s.Recv(buf, 20*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCloseUnblocksRecv(t *testing.T) {
	s, err := Bind(net.IPv4(127, 0, 0, 1), 0)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		_, _, err := s.Recv(buf, 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Errorf("expected an error after close, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}
