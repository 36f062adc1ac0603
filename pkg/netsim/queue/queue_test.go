package queue

import (
	"sync"
	"testing"
	"time"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int]()

	for i := 0; i < 10; i++ {
		q.Push(i)
	}

	for i := 0; i < 10; i++ {
		v, ok := q.WaitAndPop()
		if !ok {
			t.Fatalf("queue closed unexpectedly at %d", i)
		}
		if v != i {
			t.Errorf("pop %d: got %d", i, v)
		}
	}
}

func TestWaitAndPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)

	go func() {
		v, ok := q.WaitAndPop()
		if ok {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer never woke up")
	}
}

func TestStopWakesWaiters(t *testing.T) {
	q := New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.WaitAndPop(); ok {
				t.Error("pop succeeded on stopped queue")
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters not woken by Stop")
	}
}

func TestPushAfterStopDiscarded(t *testing.T) {
	q := New[int]()
	q.Stop()
	q.Push(1)

	if q.Len() != 0 {
		t.Errorf("push after stop retained value, len = %d", q.Len())
	}
	if q.Active() {
		t.Error("queue still active after Stop")
	}
	if _, ok := q.WaitAndPop(); ok {
		t.Error("pop succeeded after Stop")
	}
}

func TestStopIdempotent(t *testing.T) {
	q := New[int]()
	q.Stop()
	q.Stop()

	if q.Active() {
		t.Error("queue active after double Stop")
	}
}

func TestPerProducerOrder(t *testing.T) {
	q := New[[2]int]()

	const producers = 4
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	last := map[int]int{}
	for i := 0; i < producers*perProducer; i++ {
		v, ok := q.WaitAndPop()
		if !ok {
			t.Fatal("queue closed early")
		}
		p, seq := v[0], v[1]
		if prev, seen := last[p]; seen && seq != prev+1 {
			t.Fatalf("producer %d out of order: %d after %d", p, seq, prev)
		}
		last[p] = seq
	}
}
