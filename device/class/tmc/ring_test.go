package tmc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPacketRingBoundaries(t *testing.T) {
	r := NewPacketRing(3, 8)

	packets := [][]byte{[]byte("abc"), []byte("defghijk"), {}}
	for _, p := range packets {
		if !r.Put(p) {
			t.Fatalf("Put(%q) = false", p)
		}
	}
	if r.Put([]byte("x")) {
		t.Error("Put() on full ring = true")
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}

	buf := make([]byte, 8)
	for _, want := range packets {
		n, ok := r.Get(buf)
		if !ok {
			t.Fatal("Get() = false")
		}
		if string(buf[:n]) != string(want) {
			t.Errorf("Get() = %q, want %q", buf[:n], want)
		}
	}
	if _, ok := r.Get(buf); ok {
		t.Error("Get() on empty ring = true")
	}
}

func TestPacketRingPutWait(t *testing.T) {
	r := NewPacketRing(1, 4)
	r.Put([]byte("one"))

	var put atomic.Bool
	errc := make(chan error, 1)
	go func() {
		err := r.PutWait(context.Background(), []byte("two"))
		put.Store(true)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if put.Load() {
		t.Fatal("PutWait() returned while the ring was full")
	}

	buf := make([]byte, 4)
	r.Get(buf)
	if err := <-errc; err != nil {
		t.Fatalf("PutWait() error = %v", err)
	}
	n, _ := r.Get(buf)
	if string(buf[:n]) != "two" {
		t.Errorf("Get() = %q, want %q", buf[:n], "two")
	}
}

func TestPacketRingPutWaitCancel(t *testing.T) {
	r := NewPacketRing(1, 4)
	r.Put([]byte("one"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.PutWait(ctx, []byte("two")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("PutWait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestPacketRingReset(t *testing.T) {
	r := NewPacketRing(2, 4)
	r.Put([]byte("a"))
	r.Put([]byte("b"))
	r.Reset()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", r.Len())
	}
	if !r.Put([]byte("c")) {
		t.Error("Put() after Reset = false")
	}
}

func TestWorkQueue(t *testing.T) {
	q := NewWorkQueue(2)
	var order []int

	if !q.Schedule(func() { order = append(order, 1) }) {
		t.Fatal("Schedule() = false on empty queue")
	}
	if !q.Schedule(func() { panic("boom") }) {
		t.Fatal("Schedule() = false with room left")
	}
	if q.Schedule(func() {}) {
		t.Error("Schedule() = true on full queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	finished := make(chan struct{})
	if err := q.Submit(ctx, func() {
		order = append(order, 3)
		close(finished)
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking item")
	}
	cancel()
	<-done

	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("order = %v, want [1 3]", order)
	}
}
