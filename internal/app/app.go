// Package app assembles the backends shared by the API server and the worker.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aanmelden/internal/attendance"
	"aanmelden/internal/config"
	"aanmelden/internal/notify"
	"aanmelden/internal/queue"
	"aanmelden/internal/store"
)

// Backends holds the wired service and the resources it runs on.
type Backends struct {
	Service *attendance.Service
	Queue   queue.Queue
	Fanout  *notify.Fanout
	DB      *store.DB
	Redis   *store.Redis
	// Updates is set when page updates stay in-process.
	Updates *notify.InMemory
}

// Build connects storage, queue and notification backends as configured.
func Build(ctx context.Context, cfg config.App, log *zap.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.QueueBackend != "memory" || cfg.NotifyBackend != "memory" {
		b.Redis = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		if !b.Redis.Healthy(ctx) {
			log.Warn("redis not reachable", zap.String("addr", cfg.RedisAddr))
		}
	}

	var st attendance.Store
	switch cfg.StoreBackend {
	case "memory":
		mem := attendance.NewMemoryStore()
		mem.AddSlot(attendance.Slot{Name: "fri", Pod: attendance.PodEvening, Description: "Vrijdagavond", Enabled: true})
		mem.AddSlot(attendance.Slot{Name: "sat", Pod: attendance.PodAfternoon, Description: "Zaterdagmiddag", Enabled: true})
		st = mem
		log.Warn("using in-memory store, data is lost on restart")
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("db connect: %w", err)
		}
		b.DB = db
		if err := store.Migrate(db.Client); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		st = attendance.NewRepository(db.Client)
	}

	if cfg.QueueBackend == "memory" {
		b.Queue = queue.NewInMemory(64)
	} else {
		b.Queue = queue.NewRedisQueue(b.Redis.Client, queue.DefaultKey)
	}

	var pub notify.Publisher
	if cfg.NotifyBackend == "memory" {
		b.Updates = notify.NewInMemory()
		pub = b.Updates
	} else {
		pub = notify.NewRedisPublisher(b.Redis.Client)
	}
	b.Fanout = notify.NewFanout(pub, 128, 2*time.Second, log.Named("notify"))

	levels, err := attendance.ParseLevels(cfg.SlotLevels)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("SLOT_LEVELS: %w", err)
	}
	b.Service = attendance.NewService(st, b.Fanout, attendance.Options{
		Levels:         levels,
		Location:       cfg.Location(),
		StrictCapacity: cfg.StrictCapacity,
		Logger:         log.Named("attendance"),
	})
	log.Info("backends ready",
		zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend),
		zap.String("notify", cfg.NotifyBackend), zap.String("levels", levels.String()),
		zap.Bool("strict_capacity", cfg.StrictCapacity))
	return b, nil
}

// CheckWorkerBackends rejects settings under which a separate worker process
// would consume or write state the api process never sees.
func CheckWorkerBackends(cfg config.App) error {
	switch {
	case cfg.QueueBackend == "memory":
		return fmt.Errorf("queue backend memory is served inline by the api process")
	case cfg.StoreBackend == "memory":
		return fmt.Errorf("store backend memory is private to one process")
	case cfg.NotifyBackend == "memory":
		return fmt.Errorf("notify backend memory cannot reach api clients")
	}
	return nil
}

// Close releases database and redis connections.
func (b *Backends) Close() {
	_ = b.DB.Close()
	_ = b.Redis.Close()
}

// Dispatcher routes queued MAC join events to the attendance service.
func (b *Backends) Dispatcher(log *zap.Logger) *queue.Dispatcher {
	d := queue.NewDispatcher(log)
	d.Handle(queue.TypeMacJoin, MacJoinHandler(b.Service, log))
	return d
}

// MacJoinHandler marks the device owner's registrations for today as seen.
func MacJoinHandler(svc *attendance.Service, log *zap.Logger) queue.HandlerFunc {
	return func(ctx context.Context, msg queue.Message) error {
		matched, err := svc.MacCheckin(ctx, string(msg.Body))
		if err != nil {
			return err
		}
		log.Debug("mac join processed", zap.String("id", msg.ID), zap.Bool("matched", matched))
		return nil
	}
}
