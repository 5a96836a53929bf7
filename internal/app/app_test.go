package app

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"aanmelden/internal/attendance"
	"aanmelden/internal/config"
	"aanmelden/internal/notify"
	"aanmelden/internal/queue"
)

func memoryConfig() config.App {
	return config.App{
		StoreBackend:  "memory",
		QueueBackend:  "memory",
		NotifyBackend: "memory",
		Timezone:      "UTC",
	}
}

func TestBuildMemoryBackends(t *testing.T) {
	b, err := Build(context.Background(), memoryConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer b.Close()
	if b.DB != nil || b.Redis != nil {
		t.Fatal("memory backends must not open connections")
	}
	infos, err := b.Service.ListEnabled(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected seeded slots, got %d", len(infos))
	}
}

func TestBuildRejectsBadLevels(t *testing.T) {
	cfg := memoryConfig()
	cfg.SlotLevels = "0:x"
	if _, err := Build(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected SLOT_LEVELS error")
	}
}

func TestCheckWorkerBackends(t *testing.T) {
	shared := config.App{QueueBackend: "redis", StoreBackend: "postgres", NotifyBackend: "redis"}
	tests := []struct {
		name    string
		mutate  func(*config.App)
		wantErr bool
	}{
		{"shared backends", func(*config.App) {}, false},
		{"memory queue", func(c *config.App) { c.QueueBackend = "memory" }, true},
		{"memory store", func(c *config.App) { c.StoreBackend = "memory" }, true},
		{"memory notify", func(c *config.App) { c.NotifyBackend = "memory" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := shared
			tt.mutate(&cfg)
			if err := CheckWorkerBackends(cfg); (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMacJoinFlowsThroughQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mem := attendance.NewMemoryStore()
	slot := mem.AddSlot(attendance.Slot{Name: "fri", Pod: attendance.PodEvening, Enabled: true})
	friday := time.Date(2026, 10, 23, 18, 0, 0, 0, time.UTC)
	updates := notify.NewInMemory()
	events, stop := updates.Subscribe(8)
	defer stop()
	fanout := notify.NewFanout(updates, 8, time.Second, nil)
	go fanout.Run(ctx)

	b := &Backends{
		Service: attendance.NewService(mem, fanout, attendance.Options{
			Location: time.UTC,
			Now:      func() time.Time { return friday },
		}),
		Queue: queue.NewInMemory(4),
	}
	user, err := b.Service.SyncUser(ctx, attendance.Identity{Subject: "7", FirstName: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Service.Register(ctx, slot, user, true); err != nil {
		t.Fatal(err)
	}
	mem.AddMacAddress(user.ID, "aa:bb:cc:dd:ee:ff")

	go func() { _ = b.Dispatcher(zap.NewNop()).Run(ctx, b.Queue) }()
	if err := b.Queue.Publish(ctx, queue.NewMessage(queue.TypeMacJoin, []byte("AA:BB:CC:DD:EE:FF"))); err != nil {
		t.Fatal(err)
	}

	for {
		select {
		case ev := <-events:
			if ev != notify.ReportPage {
				continue
			}
			present, err := b.Service.IsPresent(ctx, slot, user.Username)
			if err != nil {
				t.Fatal(err)
			}
			if present {
				return
			}
		case <-ctx.Done():
			t.Fatal("mac join never marked the registration seen")
		}
	}
}
