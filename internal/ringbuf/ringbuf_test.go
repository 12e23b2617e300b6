package ringbuf

import (
	"strconv"
	"testing"

	"td9scan/internal/model"
)

func entry(i int) model.LogEntry {
	return model.LogEntry{Msg: strconv.Itoa(i), Kind: "normal"}
}

func TestPushAndTail(t *testing.T) {
	r := New(4)
	for i := 0; i < 3; i++ {
		r.Push(entry(i))
	}
	if r.Len() != 3 {
		t.Fatalf("len: got %d, want 3", r.Len())
	}
	tail := r.Tail(2)
	if len(tail) != 2 || tail[0].Msg != "1" || tail[1].Msg != "2" {
		t.Errorf("tail(2): got %v", tail)
	}
}

func TestOverwriteKeepsNewest(t *testing.T) {
	r := New(3)
	for i := 0; i < 10; i++ {
		r.Push(entry(i))
	}
	if r.Len() != 3 {
		t.Fatalf("len: got %d, want 3", r.Len())
	}
	if r.Dropped() != 7 {
		t.Errorf("dropped: got %d, want 7", r.Dropped())
	}
	tail := r.Tail(3)
	for i, want := range []string{"7", "8", "9"} {
		if tail[i].Msg != want {
			t.Errorf("tail[%d]: got %q, want %q", i, tail[i].Msg, want)
		}
	}
}

func TestTailLargerThanLive(t *testing.T) {
	r := New(8)
	r.Push(entry(1))
	if got := r.Tail(100); len(got) != 1 || got[0].Msg != "1" {
		t.Errorf("tail(100): got %v", got)
	}
}

func TestEmptyRing(t *testing.T) {
	r := New(2)
	if r.Len() != 0 || len(r.Tail(5)) != 0 {
		t.Error("empty ring not empty")
	}
}
