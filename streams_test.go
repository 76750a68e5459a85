package http2

import (
	"testing"
	"time"
)

func TestStreamsInsertGetDel(t *testing.T) {
	var strms Streams

	s1 := NewStream(1, 0, 0)
	s3 := NewStream(3, 0, 0)
	s5 := NewStream(5, 0, 0)

	strms.Insert(s5)
	strms.Insert(s1)
	strms.Insert(s3)

	if strms.Len() != 3 {
		t.Fatalf("Len = %d, want 3", strms.Len())
	}

	var ids []uint32
	strms.Range(func(s *Stream) { ids = append(ids, s.ID()) })
	want := []uint32{1, 3, 5}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("Range order = %v, want %v", ids, want)
		}
	}

	if got := strms.Get(3); got != s3 {
		t.Fatalf("Get(3) = %v, want s3", got)
	}

	if got := strms.Del(3); got != s3 {
		t.Fatalf("Del(3) = %v, want s3", got)
	}

	if strms.Len() != 2 {
		t.Fatalf("Len after Del = %d, want 2", strms.Len())
	}

	if got := strms.Get(3); got != nil {
		t.Fatalf("Get(3) after Del = %v, want nil", got)
	}
}

func TestRapidResetCounter(t *testing.T) {
	var rc resetCounter

	now := time.Now()

	for i := 0; i < rapidResetMaxCancels; i++ {
		if rc.record(now) {
			t.Fatalf("tripped early at reset %d", i)
		}
	}

	if !rc.record(now) {
		t.Fatal("expected the counter to trip past the threshold")
	}
}

func TestRapidResetCounterSlidesWindow(t *testing.T) {
	var rc resetCounter

	now := time.Now()
	rc.record(now)

	later := now.Add(rapidResetWindow + time.Second)
	if rc.record(later) {
		t.Fatal("stale reset outside the window should not count")
	}

	if len(rc.timestamps) != 1 {
		t.Fatalf("timestamps = %d, want 1 after sliding", len(rc.timestamps))
	}
}
