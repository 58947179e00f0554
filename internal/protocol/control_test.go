package protocol

import "testing"

func TestBuildParseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		op   Opcode
		slot int
	}{
		{"hello slot 0", OpHello, 0},
		{"ka slot 5", OpKeepAlive, 5},
		{"ka-ack slot 254", OpKeepAliveAck, 254},
		{"reset slot 1", OpReset, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := Build(tc.op, tc.slot)
			if !IsControl(wire) {
				t.Fatalf("built message not recognized as control")
			}
			msg, err := Parse(wire)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if msg.Op != tc.op {
				t.Errorf("Op mismatch: got %v, want %v", msg.Op, tc.op)
			}
			if msg.Slot != tc.slot {
				t.Errorf("Slot mismatch: got %d, want %d", msg.Slot, tc.slot)
			}
		})
	}
}

func TestIsControlRejectsPlainPayload(t *testing.T) {
	payloads := [][]byte{
		nil,
		{},
		{0xDE, 0xAD, 0xBE, 0xEF},
		[]byte("hello world"),
	}
	for _, p := range payloads {
		if IsControl(p) {
			t.Errorf("payload %v incorrectly recognized as control", p)
		}
	}
}

func TestParseTruncated(t *testing.T) {
	wire := Build(OpHello, 3)
	truncated := wire[:len(Sentinel)+1]
	if !IsControl(truncated) {
		t.Fatalf("truncated message should still match sentinel")
	}
	if _, err := Parse(truncated); err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestParseUnknownOpcode(t *testing.T) {
	wire := Build(OpHello, 2)
	wire[len(Sentinel)] = 0x7F
	if _, err := Parse(wire); err != ErrUnknownOpcode {
		t.Errorf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestSentinelUnlikelyInGamePayload(t *testing.T) {
	if len(Sentinel) < 4 {
		t.Errorf("sentinel length %d is too short to make accidental collisions negligible", len(Sentinel))
	}
}
