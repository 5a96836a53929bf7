package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"aanmelden/internal/metrics"
	"aanmelden/internal/notify"
)

// NormalizeMAC lower-cases a MAC address and validates its shape loosely.
func NormalizeMAC(mac string) (string, error) {
	mac = strings.ToLower(strings.TrimSpace(mac))
	if strings.Count(mac, ":") < 5 {
		return "", fmt.Errorf("%w: malformed mac address %q", ErrInvalidInput, mac)
	}
	return mac, nil
}

// MacCheckin marks today's registrations of the MAC owner as seen.
// Unknown devices and owners without a registration today are ignored.
func (s *Service) MacCheckin(ctx context.Context, mac string) (bool, error) {
	mac, err := NormalizeMAC(mac)
	if err != nil {
		return false, err
	}
	user, err := s.store.UserByMAC(ctx, mac)
	if errors.Is(err, ErrNotFound) {
		metrics.MacEvents.WithLabelValues("unknown_mac").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mac owner: %w", err)
	}
	n, err := s.store.MarkSeenOn(ctx, user.ID, s.Today(), SeenByMAC)
	if err != nil {
		return false, fmt.Errorf("mac checkin: %w", err)
	}
	if n == 0 {
		metrics.MacEvents.WithLabelValues("not_registered").Inc()
		return false, nil
	}
	metrics.MacEvents.WithLabelValues("seen").Inc()
	s.log.Info("mac checkin", zap.String("user", user.Username))
	s.notifier.Notify(notify.ReportPage)
	return true, nil
}

// IsPresent reports whether username has confirmed attendance for the slot's upcoming date.
func (s *Service) IsPresent(ctx context.Context, slot Slot, username string) (bool, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p, err := s.store.GetPresence(ctx, user.ID, s.SlotDate(slot), slot.Pod)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Seen, nil
}

// ArePresent lists the usernames with confirmed attendance for the slot's upcoming date.
func (s *Service) ArePresent(ctx context.Context, slot Slot) ([]string, error) {
	names, err := s.store.ListSeenUsernames(ctx, s.SlotDate(slot), slot.Pod)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// PresentSince counts confirmed attendances of username on or after from.
func (s *Service) PresentSince(ctx context.Context, username string, from time.Time) (int, error) {
	return s.store.CountSeenSince(ctx, username, Day(from))
}

// SlotOverview is an enabled slot with its member registrations.
type SlotOverview struct {
	SlotInfo
	Presence []PresenceEntry `json:"presence"`
}

// MemberEntry is an active user available for manual registration.
type MemberEntry struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	StripcardUsed  int    `json:"stripcard_used"`
	StripcardCount int    `json:"stripcard_count"`
}

// Overview is the supervisor's view of the current slot week.
type Overview struct {
	Slots   []SlotOverview `json:"slots"`
	Members []MemberEntry  `json:"members"`
}

// Overview lists every enabled slot with its registrations plus all active users.
func (s *Service) Overview(ctx context.Context, principal Principal) (Overview, error) {
	if !principal.IsAdmin() {
		return Overview{}, ErrForbidden
	}
	infos, err := s.ListEnabled(ctx, principal.User)
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{Slots: make([]SlotOverview, 0, len(infos))}
	for _, info := range infos {
		entries, err := s.store.ListPresenceEntries(ctx, info.Date, info.Pod)
		if err != nil {
			return Overview{}, fmt.Errorf("presence entries: %w", err)
		}
		if entries == nil {
			entries = []PresenceEntry{}
		}
		ov.Slots = append(ov.Slots, SlotOverview{SlotInfo: info, Presence: entries})
	}
	users, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("active users: %w", err)
	}
	ov.Members = make([]MemberEntry, 0, len(users))
	for _, u := range users {
		ov.Members = append(ov.Members, MemberEntry{
			ID:             u.ID,
			Name:           u.FullName(),
			StripcardUsed:  u.Info.StripcardUsed,
			StripcardCount: u.Info.StripcardCount,
		})
	}
	return ov, nil
}

// FutureEntry addresses one slot occurrence on a concrete date.
type FutureEntry struct {
	Date time.Time `json:"date"`
	Day  string    `json:"day"`
	Pod  string    `json:"pod"`
}

// FutureUpdate adds and removes registrations of one user on future dates.
type FutureUpdate struct {
	Username string        `json:"username"`
	UserID   int64         `json:"user_id"`
	Add      []FutureEntry `json:"add"`
	Remove   []FutureEntry `json:"remove"`
}

// FutureResult reports how many entries were applied.
type FutureResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// ApplyFuture applies a bulk future update. It stops at the first failing entry.
func (s *Service) ApplyFuture(ctx context.Context, principal Principal, upd FutureUpdate) (FutureResult, error) {
	var res FutureResult
	if !principal.IsAdmin() {
		return res, ErrForbidden
	}
	var (
		user User
		err  error
	)
	if upd.Username != "" {
		user, err = s.store.GetUserByUsername(ctx, upd.Username)
	} else {
		user, err = s.store.GetUser(ctx, upd.UserID)
	}
	if err != nil {
		return res, fmt.Errorf("future user: %w", err)
	}
	for _, e := range upd.Add {
		slot, err := s.Slot(ctx, e.Day, e.Pod)
		if err != nil {
			return res, err
		}
		if _, err := s.RegisterFuture(ctx, principal, e.Date, slot, user); err != nil {
			return res, err
		}
		res.Added++
	}
	for _, e := range upd.Remove {
		slot, err := s.Slot(ctx, e.Day, e.Pod)
		if err != nil {
			return res, err
		}
		if err := s.DeregisterFuture(ctx, principal, e.Date, slot, user); err != nil {
			return res, err
		}
		res.Removed++
	}
	return res, nil
}
