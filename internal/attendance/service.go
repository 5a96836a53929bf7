package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aanmelden/internal/metrics"
	"aanmelden/internal/notify"
)

// Notifier receives page invalidation events after every state change.
// Implementations must not block the caller.
type Notifier interface {
	Notify(events ...notify.Event)
}

// Options tune the registration engine.
type Options struct {
	Levels         Levels
	Location       *time.Location
	StrictCapacity bool
	Logger         *zap.Logger
	Now            func() time.Time
}

// Service implements slot resolution, capacity and registration rules.
type Service struct {
	store    Store
	notifier Notifier
	levels   Levels
	loc      *time.Location
	strict   bool
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, notifier Notifier, opts Options) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		levels:   opts.Levels,
		loc:      opts.Location,
		strict:   opts.StrictCapacity,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if len(s.levels) == 0 {
		s.levels = DefaultLevels()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	return s
}

type nopNotifier struct{}

func (nopNotifier) Notify(...notify.Event) {}

// Today is the current calendar day in the portal's time zone.
func (s *Service) Today() time.Time {
	return Day(s.now().In(s.loc))
}

// SlotDate resolves the upcoming date of a slot.
func (s *Service) SlotDate(slot Slot) time.Time {
	return ResolveDate(slot, s.Today())
}

// Slot looks up an enabled slot by weekday name and pod.
func (s *Service) Slot(ctx context.Context, day, pod string) (Slot, error) {
	name, err := ParseDay(day)
	if err != nil {
		return Slot{}, err
	}
	p, err := ParsePod(pod)
	if err != nil {
		return Slot{}, err
	}
	slot, err := s.store.GetSlot(ctx, name, p)
	if err != nil {
		return Slot{}, err
	}
	if !slot.Enabled {
		return Slot{}, ErrNotFound
	}
	return slot, nil
}

// ListEnabled projects every enabled slot onto its upcoming date with current availability.
// When viewer is set, IsRegistered reflects the viewer's own presence.
func (s *Service) ListEnabled(ctx context.Context, viewer *User) ([]SlotInfo, error) {
	slots, err := s.store.ListSlots(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	out := make([]SlotInfo, 0, len(slots))
	for _, slot := range slots {
		date := s.SlotDate(slot)
		snap, err := s.Capacity(ctx, date, slot.Pod)
		if err != nil {
			return nil, err
		}
		info := SlotInfo{
			Slot:      slot,
			Date:      date,
			Capacity:  snap.Base,
			Taken:     snap.Taken,
			Available: snap.Available,
			Tutors:    snap.Tutors,
			Closed:    snap.Closed,
			Message:   snap.Message,
		}
		if viewer != nil {
			_, err := s.store.GetPresence(ctx, viewer.ID, date, slot.Pod)
			switch {
			case err == nil:
				info.IsRegistered = true
			case !errors.Is(err, ErrNotFound):
				return nil, fmt.Errorf("viewer presence: %w", err)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// FreeSlots is the public availability listing: no tutor counts and no viewer state.
func (s *Service) FreeSlots(ctx context.Context) ([]SlotInfo, error) {
	infos, err := s.ListEnabled(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i].Tutors = 0
	}
	return infos, nil
}

// activeWeekDates returns, for every enabled slot, its weekday's date inside the
// Monday to Sunday week containing date. Days already passed stay in the window.
func (s *Service) activeWeekDates(ctx context.Context, st Store, date time.Time) ([]time.Time, error) {
	slots, err := st.ListSlots(ctx, true)
	if err != nil {
		return nil, err
	}
	monday, _ := WeekWindow(date)
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, slot := range slots {
		idx, err := WeekdayIndex(slot.Name)
		if err != nil {
			return nil, err
		}
		d := monday.AddDate(0, 0, idx)
		if seen[d] {
			continue
		}
		seen[d] = true
		dates = append(dates, d)
	}
	return dates, nil
}

func (s *Service) checkEligibility(ctx context.Context, st Store, slot Slot, date time.Time, user User) error {
	snap, err := s.capacity(ctx, st, date, slot.Pod)
	if err != nil {
		return err
	}
	if snap.Full() {
		return ErrNotEnoughSlots
	}

	dates, err := s.activeWeekDates(ctx, st, date)
	if err != nil {
		return fmt.Errorf("active week: %w", err)
	}
	count, err := st.CountUserPresences(ctx, user.ID, dates)
	if err != nil {
		return fmt.Errorf("count user presences: %w", err)
	}
	if count >= user.Info.Days {
		return ErrTooManyDays
	}

	if HasStripcard(user.Info.AccountType) && user.Info.StripcardUsed >= user.Info.StripcardCount {
		return ErrStripcardLimitReached
	}
	return nil
}

// insertPresence creates the row or returns the one that won a uniqueness race.
func insertPresence(ctx context.Context, st Store, userID int64, date time.Time, pod Pod) (Presence, error) {
	p, err := st.CreatePresence(ctx, Presence{UserID: userID, Date: date, Pod: pod})
	if errors.Is(err, errDuplicate) {
		return st.GetPresence(ctx, userID, date, pod)
	}
	return p, err
}

// Register signs user up for the upcoming occurrence of slot. Unless bypass is set the
// capacity, weekly allowance and strip card rules apply. Registering twice is a no-op.
func (s *Service) Register(ctx context.Context, slot Slot, user User, bypass bool) (Presence, error) {
	date := s.SlotDate(slot)
	var p Presence
	run := func(st Store) error {
		existing, err := st.GetPresence(ctx, user.ID, date, slot.Pod)
		if err == nil {
			p = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if !bypass {
			if err := s.checkEligibility(ctx, st, slot, date, user); err != nil {
				return err
			}
		}
		p, err = insertPresence(ctx, st, user.ID, date, slot.Pod)
		return err
	}

	var err error
	if s.strict && !bypass {
		err = s.store.WithinSlotLock(ctx, date, slot.Pod, run)
	} else {
		err = run(s.store)
	}
	metrics.Registrations.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		if IsRejection(err) {
			s.log.Debug("registration rejected",
				zap.String("user", user.Username), zap.String("slot", slot.Name),
				zap.String("pod", string(slot.Pod)), zap.String("reason", ErrorKind(err)))
			return Presence{}, err
		}
		return Presence{}, fmt.Errorf("register: %w", err)
	}

	s.log.Info("registered",
		zap.String("user", user.Username), zap.Time("date", date), zap.String("pod", string(slot.Pod)),
		zap.Bool("bypass", bypass))
	s.notifier.Notify(notify.ReportPage, notify.MainPage)
	return p, nil
}

// RegisterFuture registers user on an arbitrary date carrying the slot's weekday.
func (s *Service) RegisterFuture(ctx context.Context, principal Principal, date time.Time, slot Slot, user User) (Presence, error) {
	if !principal.IsAdmin() {
		return Presence{}, ErrForbidden
	}
	date = Day(date)
	slotDate := s.SlotDate(slot)
	if date.Weekday() != slotDate.Weekday() {
		return Presence{}, ErrForbidden
	}
	p, err := insertPresence(ctx, s.store, user.ID, date, slot.Pod)
	metrics.Registrations.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return Presence{}, fmt.Errorf("register future: %w", err)
	}
	s.log.Info("registered future",
		zap.String("user", user.Username), zap.Time("date", date), zap.String("pod", string(slot.Pod)))
	if InWeek(date, slotDate) {
		s.notifier.Notify(notify.ReportPage, notify.MainPage)
	}
	return p, nil
}

// Deregister removes user's registration for the upcoming occurrence of slot.
// Confirmed attendance cannot be removed.
func (s *Service) Deregister(ctx context.Context, slot Slot, user User) error {
	date := s.SlotDate(slot)
	p, err := s.store.GetPresence(ctx, user.ID, date, slot.Pod)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	if p.Seen {
		metrics.Deregistrations.WithLabelValues(resultLabel(ErrAlreadySeen)).Inc()
		return ErrAlreadySeen
	}
	if err := s.store.DeletePresence(ctx, p.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deregister: %w", err)
	}
	metrics.Deregistrations.WithLabelValues(resultLabel(nil)).Inc()
	s.log.Info("deregistered",
		zap.String("user", user.Username), zap.Time("date", date), zap.String("pod", string(slot.Pod)))
	s.notifier.Notify(notify.ReportPage, notify.MainPage)
	return nil
}

// DeregisterFuture removes a registration on an arbitrary date, regardless of attendance.
func (s *Service) DeregisterFuture(ctx context.Context, principal Principal, date time.Time, slot Slot, user User) error {
	if !principal.IsAdmin() {
		return ErrForbidden
	}
	date = Day(date)
	p, err := s.store.GetPresence(ctx, user.ID, date, slot.Pod)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deregister future: %w", err)
	}
	if err := s.store.DeletePresence(ctx, p.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deregister future: %w", err)
	}
	metrics.Deregistrations.WithLabelValues(resultLabel(nil)).Inc()
	if InWeek(date, s.SlotDate(slot)) {
		s.notifier.Notify(notify.ReportPage, notify.MainPage)
	}
	return nil
}

// MarkSeen sets the attendance flag of a presence. seen arrives as the string "true" or anything else.
func (s *Service) MarkSeen(ctx context.Context, principal Principal, presenceID int64, seen string) error {
	if !principal.IsAdmin() {
		return ErrForbidden
	}
	if _, err := s.store.GetPresenceByID(ctx, presenceID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("mark seen: %w", err)
	}
	if err := s.store.SetSeen(ctx, presenceID, seen == "true", SeenByManual); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	s.notifier.Notify(notify.ReportPage)
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorKind(err)
}
