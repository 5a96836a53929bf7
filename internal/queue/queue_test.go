package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(2)
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	sent := NewMessage(TypeMacJoin, []byte("aa:bb:cc:dd:ee:ff"))
	if err := q.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-msgs:
		if got.ID != sent.ID || got.Type != TypeMacJoin || string(got.Body) != "aa:bb:cc:dd:ee:ff" {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Publish(ctx, NewMessage(TypeMacJoin, nil)); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	cancel()
	if err := q.Publish(ctx, NewMessage(TypeMacJoin, nil)); err == nil {
		t.Fatal("expected context error on full queue")
	}
}

var (
	_ Sizer = (*InMemory)(nil)
	_ Sizer = (*RedisQueue)(nil)
)

func TestInMemoryLen(t *testing.T) {
	ctx := context.Background()
	q := NewInMemory(4)
	for i := 0; i < 3; i++ {
		if err := q.Publish(ctx, NewMessage(TypeMacJoin, nil)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if n, err := q.Len(ctx); err != nil || n != 3 {
		t.Fatalf("len: %d %v", n, err)
	}
}

func TestDecode(t *testing.T) {
	b, err := encode(NewMessage(TypeMacJoin, []byte("x")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg, err := decode(string(b)); err != nil || msg.Type != TypeMacJoin {
		t.Fatalf("decode: %+v %v", msg, err)
	}
	if _, err := decode("checkin|legacy"); err == nil {
		t.Fatal("expected error on non-json entry")
	}
	if _, err := decode(`{"id":"1"}`); err == nil {
		t.Fatal("expected error on untyped message")
	}
}
