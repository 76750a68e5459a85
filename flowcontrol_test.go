package http2

import "testing"

func TestConnFlowSendAccounting(t *testing.T) {
	f := newConnFlow(65535, 65535)

	f.ConsumeSend(1000)
	if got := f.Send(); got != 64535 {
		t.Fatalf("Send = %d, want 64535", got)
	}

	f.IncrSend(1000)
	if got := f.Send(); got != 65535 {
		t.Fatalf("Send = %d, want 65535", got)
	}
}

func TestConnFlowRecvAccounting(t *testing.T) {
	f := newConnFlow(65535, 65535)

	f.ConsumeRecv(30000)
	f.ReplenishRecv(10000)

	if got := f.recv; got != 45535 {
		t.Fatalf("recv = %d, want 45535", got)
	}
}

func TestShouldReplenish(t *testing.T) {
	const max = int32(65535)

	if _, ok := shouldReplenish(max, max); ok {
		t.Fatal("full window should not need replenishing")
	}

	inc, ok := shouldReplenish(max/2-1, max)
	if !ok {
		t.Fatal("window below half should need replenishing")
	}
	if want := max - (max/2 - 1); inc != want {
		t.Fatalf("increment = %d, want %d", inc, want)
	}
}

func TestRedistributeSettingsDelta(t *testing.T) {
	var streams Streams

	s1 := NewStream(1, 65535, 65535)
	s2 := NewStream(3, 65535, 65535)
	streams.Insert(s1)
	streams.Insert(s2)

	redistributeSettingsDelta(&streams, -1000)

	if got := s1.SendWindow(); got != 64535 {
		t.Errorf("s1 SendWindow = %d, want 64535", got)
	}
	if got := s2.SendWindow(); got != 64535 {
		t.Errorf("s2 SendWindow = %d, want 64535", got)
	}
}
