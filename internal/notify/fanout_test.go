package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingPublisher struct{ calls chan Event }

func (p failingPublisher) Publish(_ context.Context, ev Event) error {
	p.calls <- ev
	return errors.New("backend down")
}

func TestFanoutDeliversInOrder(t *testing.T) {
	mem := NewInMemory()
	sub, cancelSub := mem.Subscribe(4)
	defer cancelSub()

	f := NewFanout(mem, 4, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Notify(ReportPage, MainPage)

	for _, want := range []Event{ReportPage, MainPage} {
		select {
		case got := <-sub:
			if got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestFanoutNotifyNeverBlocks(t *testing.T) {
	f := NewFanout(NewInMemory(), 1, time.Second, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			f.Notify(ReportPage)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a running consumer")
	}
}

func TestFanoutSurvivesPublishErrors(t *testing.T) {
	pub := failingPublisher{calls: make(chan Event, 2)}
	f := NewFanout(pub, 4, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Notify(ReportPage)
	f.Notify(MainPage)

	for i := 0; i < 2; i++ {
		select {
		case <-pub.calls:
		case <-time.After(time.Second):
			t.Fatalf("publish %d not attempted", i)
		}
	}
}

func TestInMemoryUnsubscribe(t *testing.T) {
	mem := NewInMemory()
	sub, cancelSub := mem.Subscribe(1)
	cancelSub()
	cancelSub()

	if err := mem.Publish(context.Background(), MainPage); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, ok := <-sub; ok {
		t.Fatal("expected closed subscription")
	}
}
