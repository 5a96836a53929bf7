package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"aanmelden/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(events ...notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingNotifier) take() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type fixture struct {
	store    *MemoryStore
	notifier *recordingNotifier
	svc      *Service
	now      time.Time
	fri      Slot
	sat      Slot
}

// newFixture starts on Wednesday 2026-10-21 with Friday and Saturday evening slots enabled.
func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC),
	}
	f.fri = f.store.AddSlot(Slot{Name: "fri", Pod: PodEvening, Enabled: true})
	f.sat = f.store.AddSlot(Slot{Name: "sat", Pod: PodEvening, Enabled: true})
	f.store.AddSlot(Slot{Name: "sun", Pod: PodMorning, Enabled: false})

	o := Options{Location: time.UTC, Now: func() time.Time { return f.now }}
	for _, fn := range opts {
		fn(&o)
	}
	f.svc = NewService(f.store, f.notifier, o)
	return f
}

func (f *fixture) user(t *testing.T, name string, role Role, days int) User {
	t.Helper()
	u, err := f.store.UpsertUser(context.Background(), User{
		Username:  "idp-" + name,
		FirstName: name,
		Role:      role,
		Active:    true,
		Info:      UserInfo{Days: days},
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestSlotLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if s, err := f.svc.Slot(ctx, "fri", "evening"); err != nil || s.ID != f.fri.ID {
		t.Fatalf("expected fri slot, got %+v %v", s, err)
	}
	if _, err := f.svc.Slot(ctx, "sun", "morning"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("disabled slot should be not found, got %v", err)
	}
	if _, err := f.svc.Slot(ctx, "mon", "evening"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing slot should be not found, got %v", err)
	}
	if _, err := f.svc.Slot(ctx, "xyz", "evening"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ann", RoleMember, 2)
	if _, err := f.svc.Register(ctx, f.sat, u, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	infos, err := f.svc.ListEnabled(ctx, &u)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 enabled slots, got %d", len(infos))
	}
	if infos[0].Name != "fri" || !infos[0].Date.Equal(date(2026, 10, 23)) || infos[0].IsRegistered {
		t.Fatalf("unexpected fri info %+v", infos[0])
	}
	if infos[1].Name != "sat" || !infos[1].IsRegistered || infos[1].Taken != 1 || infos[1].Available != 15 {
		t.Fatalf("unexpected sat info %+v", infos[1])
	}
}

func TestFreeSlotsHidesTutors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tutor := f.user(t, "tom", RoleSupervisor, 7)
	if _, err := f.svc.Register(ctx, f.fri, tutor, true); err != nil {
		t.Fatalf("register: %v", err)
	}

	infos, err := f.svc.FreeSlots(ctx)
	if err != nil {
		t.Fatalf("free: %v", err)
	}
	if infos[0].Tutors != 0 || infos[0].Capacity != 20 || infos[0].Available != 20 {
		t.Fatalf("unexpected public fri info %+v", infos[0])
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ann", RoleMember, 1)

	first, err := f.svc.Register(ctx, f.fri, u, false)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	second, err := f.svc.Register(ctx, f.fri, u, false)
	if err != nil {
		t.Fatalf("second register should succeed, got %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same presence, got %d and %d", first.ID, second.ID)
	}
	if taken, _ := f.svc.SlotsTaken(ctx, date(2026, 10, 23), PodEvening); taken != 1 {
		t.Fatalf("expected one presence, got %d", taken)
	}
}

func TestRegisterNotifiesBothPages(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "ann", RoleMember, 1)
	if _, err := f.svc.Register(context.Background(), f.fri, u, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	got := f.notifier.take()
	if len(got) != 2 || got[0] != notify.ReportPage || got[1] != notify.MainPage {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestRegisterWeeklyAllowance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ann", RoleMember, 1)

	if _, err := f.svc.Register(ctx, f.fri, u, false); err != nil {
		t.Fatalf("register fri: %v", err)
	}
	if _, err := f.svc.Register(ctx, f.sat, u, false); !errors.Is(err, ErrTooManyDays) {
		t.Fatalf("expected too many days, got %v", err)
	}
	if got := f.notifier.take(); len(got) != 2 {
		t.Fatalf("rejection must not notify, got %v", got)
	}

	f.now = f.now.AddDate(0, 0, 7)
	if _, err := f.svc.Register(ctx, f.sat, u, false); err != nil {
		t.Fatalf("next week should be allowed, got %v", err)
	}
}

func TestRegisterWeeklyAllowanceCountsPassedDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ann", RoleMember, 1)

	f.now = time.Date(2026, 10, 23, 18, 0, 0, 0, time.UTC)
	if _, err := f.svc.Register(ctx, f.fri, u, false); err != nil {
		t.Fatalf("register fri: %v", err)
	}

	f.now = time.Date(2026, 10, 24, 9, 0, 0, 0, time.UTC)
	if _, err := f.svc.Register(ctx, f.sat, u, false); !errors.Is(err, ErrTooManyDays) {
		t.Fatalf("friday of the same week must count, got %v", err)
	}

	f.now = time.Date(2026, 10, 30, 9, 0, 0, 0, time.UTC)
	if _, err := f.svc.Register(ctx, f.fri, u, false); err != nil {
		t.Fatalf("following week should be allowed, got %v", err)
	}
}

func TestRegisterBypassSkipsChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddSpecialDate(SpecialDate{Date: date(2026, 10, 23), Closed: true})
	u := f.user(t, "ann", RoleMember, 0)

	if _, err := f.svc.Register(ctx, f.fri, u, false); !errors.Is(err, ErrNotEnoughSlots) {
		t.Fatalf("expected not enough slots, got %v", err)
	}
	if _, err := f.svc.Register(ctx, f.fri, u, true); err != nil {
		t.Fatalf("bypass register: %v", err)
	}
}

func TestRegisterCapacityOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddSpecialDate(SpecialDate{Date: date(2026, 10, 23), Pod: podPtr(PodEvening), FreeSlots: intPtr(1)})

	a := f.user(t, "ann", RoleMember, 1)
	b := f.user(t, "bob", RoleMember, 1)
	if _, err := f.svc.Register(ctx, f.fri, a, false); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := f.svc.Register(ctx, f.fri, b, false); !errors.Is(err, ErrNotEnoughSlots) {
		t.Fatalf("expected not enough slots, got %v", err)
	}
	if _, err := f.svc.Register(ctx, f.sat, b, false); err != nil {
		t.Fatalf("override must not affect saturday: %v", err)
	}
}

func TestRegisterStripcard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	used := f.user(t, "used", RoleMember, 2)
	used.Info.AccountType = "strippenkaart"
	used.Info.StripcardUsed, used.Info.StripcardCount = 3, 3
	if _, err := f.svc.Register(ctx, f.fri, used, false); !errors.Is(err, ErrStripcardLimitReached) {
		t.Fatalf("expected strip card limit, got %v", err)
	}

	left := f.user(t, "left", RoleMember, 2)
	left.Info.AccountType = "strippenkaart"
	left.Info.StripcardUsed, left.Info.StripcardCount = 2, 3
	if _, err := f.svc.Register(ctx, f.fri, left, false); err != nil {
		t.Fatalf("remaining strip should allow register: %v", err)
	}
}

func TestStrictCapacityUnderConcurrency(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.StrictCapacity = true })
	ctx := context.Background()
	f.store.AddSpecialDate(SpecialDate{Date: date(2026, 10, 23), FreeSlots: intPtr(5)})

	users := make([]User, 20)
	for i := range users {
		users[i] = f.user(t, fmt.Sprintf("u%d", i), RoleMember, 1)
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u User) {
			defer wg.Done()
			if _, err := f.svc.Register(ctx, f.fri, u, false); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	if ok != 5 {
		t.Fatalf("expected exactly 5 registrations, got %d", ok)
	}
}

func TestDeregister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ann", RoleMember, 1)

	if err := f.svc.Deregister(ctx, f.fri, u); err != nil {
		t.Fatalf("deregister without presence should be a no-op: %v", err)
	}
	p, err := f.svc.Register(ctx, f.fri, u, false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.store.SetSeen(ctx, p.ID, true, SeenByManual); err != nil {
		t.Fatalf("set seen: %v", err)
	}
	if err := f.svc.Deregister(ctx, f.fri, u); !errors.Is(err, ErrAlreadySeen) {
		t.Fatalf("expected already seen, got %v", err)
	}
	if err := f.store.SetSeen(ctx, p.ID, false, SeenByManual); err != nil {
		t.Fatalf("unset seen: %v", err)
	}
	if err := f.svc.Deregister(ctx, f.fri, u); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := f.store.GetPresence(ctx, u.ID, date(2026, 10, 23), PodEvening); !errors.Is(err, ErrNotFound) {
		t.Fatalf("presence should be gone, got %v", err)
	}
}

func TestRegisterFuture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "boss", RoleSupervisor, 1)
	member := f.user(t, "ann", RoleMember, 1)
	far := date(2026, 11, 20) // a friday

	if _, err := f.svc.RegisterFuture(ctx, Principal{User: &member}, far, f.fri, member); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member must be forbidden, got %v", err)
	}
	if _, err := f.svc.RegisterFuture(ctx, Principal{User: &admin}, date(2026, 11, 19), f.fri, member); !errors.Is(err, ErrForbidden) {
		t.Fatalf("weekday mismatch must be forbidden, got %v", err)
	}
	f.notifier.take()
	if _, err := f.svc.RegisterFuture(ctx, Principal{ClientID: "kiosk"}, far, f.fri, member); err != nil {
		t.Fatalf("register future: %v", err)
	}
	if got := f.notifier.take(); len(got) != 0 {
		t.Fatalf("out-of-week change must not notify, got %v", got)
	}
	if _, err := f.svc.RegisterFuture(ctx, Principal{User: &admin}, date(2026, 10, 23), f.fri, member); err != nil {
		t.Fatalf("register this week: %v", err)
	}
	if got := f.notifier.take(); len(got) != 2 {
		t.Fatalf("in-week change must notify, got %v", got)
	}

	if err := f.svc.DeregisterFuture(ctx, Principal{User: &member}, far, f.fri, member); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member deregister future must be forbidden, got %v", err)
	}
	if err := f.svc.DeregisterFuture(ctx, Principal{User: &admin}, far, f.fri, member); err != nil {
		t.Fatalf("deregister future: %v", err)
	}
	if _, err := f.store.GetPresence(ctx, member.ID, far, PodEvening); !errors.Is(err, ErrNotFound) {
		t.Fatalf("future presence should be gone, got %v", err)
	}
}

func TestMarkSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.user(t, "ann", RoleMember, 1)
	p, err := f.svc.Register(ctx, f.fri, member, false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := f.svc.MarkSeen(ctx, Principal{User: &member}, p.ID, "true"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := f.svc.MarkSeen(ctx, Principal{ClientID: "kiosk"}, p.ID, "true"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	got, _ := f.store.GetPresenceByID(ctx, p.ID)
	if !got.Seen || got.SeenBy != SeenByManual {
		t.Fatalf("expected manual seen, got %+v", got)
	}
	if err := f.svc.MarkSeen(ctx, Principal{ClientID: "kiosk"}, p.ID, "yes"); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	if got, _ := f.store.GetPresenceByID(ctx, p.ID); got.Seen {
		t.Fatal("anything other than \"true\" should clear seen")
	}
	if err := f.svc.MarkSeen(ctx, Principal{ClientID: "kiosk"}, 9999, "true"); err != nil {
		t.Fatalf("unknown presence should be ignored, got %v", err)
	}
}

func TestMacCheckin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ann", RoleMember, 1)
	f.store.AddMacAddress(u.ID, "aa:bb:cc:dd:ee:ff")

	if _, err := f.svc.MacCheckin(ctx, "aabbcc"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid mac, got %v", err)
	}
	if ok, err := f.svc.MacCheckin(ctx, "11:22:33:44:55:66"); ok || err != nil {
		t.Fatalf("unknown mac should be ignored, got %v %v", ok, err)
	}

	if _, err := f.svc.Register(ctx, f.fri, u, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if ok, err := f.svc.MacCheckin(ctx, "AA:BB:CC:DD:EE:FF"); ok || err != nil {
		t.Fatalf("no registration today, got %v %v", ok, err)
	}

	f.now = time.Date(2026, 10, 23, 19, 0, 0, 0, time.UTC)
	f.notifier.take()
	for i := 0; i < 2; i++ {
		ok, err := f.svc.MacCheckin(ctx, "AA:BB:CC:DD:EE:FF")
		if err != nil || !ok {
			t.Fatalf("checkin %d: %v %v", i, ok, err)
		}
	}
	if present, _ := f.svc.IsPresent(ctx, f.fri, u.Username); !present {
		t.Fatal("expected user to be present")
	}
	names, _ := f.svc.ArePresent(ctx, f.fri)
	if len(names) != 1 || names[0] != u.Username {
		t.Fatalf("unexpected present list %v", names)
	}
	if got := f.notifier.take(); len(got) != 2 || got[0] != notify.ReportPage {
		t.Fatalf("expected a report page event per checkin, got %v", got)
	}
	if n, _ := f.svc.PresentSince(ctx, u.Username, date(2026, 10, 1)); n != 1 {
		t.Fatalf("expected 1 attendance since october, got %d", n)
	}
}

func TestMacCheckinMatchesUpperCaseRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ann", RoleMember, 1)
	f.store.AddMacAddress(u.ID, " AA:BB:CC:DD:EE:0F ")

	if _, err := f.svc.Register(ctx, f.fri, u, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.now = time.Date(2026, 10, 23, 19, 0, 0, 0, time.UTC)
	if ok, err := f.svc.MacCheckin(ctx, "aa:bb:cc:dd:ee:0f"); err != nil || !ok {
		t.Fatalf("checkin: %v %v", ok, err)
	}
}

func TestArePresentEmpty(t *testing.T) {
	f := newFixture(t)
	names, err := f.svc.ArePresent(context.Background(), f.sat)
	if err != nil || names == nil || len(names) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v %v", names, err)
	}
	if ok, err := f.svc.IsPresent(context.Background(), f.sat, "idp-nobody"); ok || err != nil {
		t.Fatalf("unknown user should not be present, got %v %v", ok, err)
	}
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "boss", RoleSupervisor, 1)
	member := f.user(t, "ann", RoleMember, 1)
	if _, err := f.svc.Register(ctx, f.fri, member, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.Register(ctx, f.fri, admin, false); err != nil {
		t.Fatalf("register admin: %v", err)
	}

	if _, err := f.svc.Overview(ctx, Principal{User: &member}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	ov, err := f.svc.Overview(ctx, Principal{User: &admin})
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(ov.Slots) != 2 || len(ov.Members) != 2 {
		t.Fatalf("unexpected overview %+v", ov)
	}
	fri := ov.Slots[0]
	if len(fri.Presence) != 1 || fri.Presence[0].Name != "ann" || fri.Tutors != 1 {
		t.Fatalf("supervisors must not be listed as presence, got %+v", fri)
	}
}

func TestApplyFuture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.user(t, "ann", RoleMember, 1)
	client := Principal{ClientID: "planner"}

	res, err := f.svc.ApplyFuture(ctx, client, FutureUpdate{
		Username: member.Username,
		Add: []FutureEntry{
			{Date: date(2026, 11, 6), Day: "fri", Pod: "evening"},
			{Date: date(2026, 11, 7), Day: "sat", Pod: "evening"},
		},
	})
	if err != nil || res.Added != 2 {
		t.Fatalf("apply: %+v %v", res, err)
	}

	res, err = f.svc.ApplyFuture(ctx, client, FutureUpdate{
		UserID: member.ID,
		Remove: []FutureEntry{{Date: date(2026, 11, 6), Day: "fri", Pod: "evening"}},
		Add:    []FutureEntry{{Date: date(2026, 11, 9), Day: "fri", Pod: "evening"}},
	})
	if !errors.Is(err, ErrForbidden) || res.Added != 0 || res.Removed != 0 {
		t.Fatalf("weekday mismatch should stop the batch, got %+v %v", res, err)
	}

	if _, err := f.svc.ApplyFuture(ctx, Principal{User: &member}, FutureUpdate{Username: member.Username}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSyncUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.SyncUser(ctx, Identity{Subject: "42", FirstName: "Ann", AccountType: "lid"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if u.Username != "idp-42" || u.Role != RoleMember || u.Info.Days != 1 || !u.Active {
		t.Fatalf("unexpected new user %+v", u)
	}

	days := 3
	u2, err := f.svc.SyncUser(ctx, Identity{Subject: "idp-42", FirstName: "Ann", AccountType: "begeleider", Days: &days})
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if u2.ID != u.ID || u2.Role != RoleSupervisor || u2.Info.Days != 3 {
		t.Fatalf("unexpected refreshed user %+v", u2)
	}

	u3, err := f.svc.SyncUser(ctx, Identity{Subject: "42", AccountType: "begeleider"})
	if err != nil || u3.Info.Days != 3 {
		t.Fatalf("nil quota should keep stored value, got %+v %v", u3, err)
	}

	if _, err := f.svc.SyncUser(ctx, Identity{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	wrapped := fmt.Errorf("register: %w", ErrTooManyDays)
	if ErrorKind(wrapped) != "too_many_days" || !IsRejection(wrapped) {
		t.Fatalf("wrapped rejection not recognised")
	}
	if ErrorKind(errors.New("boom")) != "unexpected" || IsRejection(ErrForbidden) {
		t.Fatal("unexpected classification")
	}
}
