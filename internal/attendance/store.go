package attendance

import (
	"context"
	"time"
)

// Store is the persistence boundary of the registration engine.
// Implementations return ErrNotFound for missing records and errDuplicate when a
// presence for the same (user, date, pod) already exists.
type Store interface {
	ListSlots(ctx context.Context, enabledOnly bool) ([]Slot, error)
	GetSlot(ctx context.Context, name string, pod Pod) (Slot, error)
	SpecialDatesOn(ctx context.Context, date time.Time) ([]SpecialDate, error)

	CountPresences(ctx context.Context, date time.Time, pod Pod, supervisors bool) (int, error)
	CountUserPresences(ctx context.Context, userID int64, dates []time.Time) (int, error)
	CreatePresence(ctx context.Context, p Presence) (Presence, error)
	GetPresence(ctx context.Context, userID int64, date time.Time, pod Pod) (Presence, error)
	GetPresenceByID(ctx context.Context, id int64) (Presence, error)
	DeletePresence(ctx context.Context, id int64) error
	SetSeen(ctx context.Context, id int64, seen bool, by SeenBy) error
	MarkSeenOn(ctx context.Context, userID int64, date time.Time, by SeenBy) (int, error)
	ListPresenceEntries(ctx context.Context, date time.Time, pod Pod) ([]PresenceEntry, error)
	ListSeenUsernames(ctx context.Context, date time.Time, pod Pod) ([]string, error)
	CountSeenSince(ctx context.Context, username string, from time.Time) (int, error)

	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	UpsertUser(ctx context.Context, u User) (User, error)
	ListActiveUsers(ctx context.Context) ([]User, error)
	UserByMAC(ctx context.Context, mac string) (User, error)

	// WithinSlotLock runs fn against a store view that holds an exclusive lock on (date, pod).
	WithinSlotLock(ctx context.Context, date time.Time, pod Pod, fn func(Store) error) error
}
