package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type presenceKey struct {
	userID int64
	date   time.Time
	pod    Pod
}

// MemoryStore keeps portal data in process memory. It backs local development
// without Postgres and the handler and service tests.
type MemoryStore struct {
	mu        sync.RWMutex
	slotLock  sync.Mutex
	nextID    int64
	slots     []Slot
	specials  []SpecialDate
	users     map[int64]User
	presences map[int64]Presence
	byKey     map[presenceKey]int64
	macs      map[string]int64
	now       func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]User),
		presences: make(map[int64]Presence),
		byKey:     make(map[presenceKey]int64),
		macs:      make(map[string]int64),
		now:       time.Now,
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddSlot stores a slot template.
func (m *MemoryStore) AddSlot(s Slot) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	m.slots = append(m.slots, s)
	return s
}

// AddSpecialDate stores an override.
func (m *MemoryStore) AddSpecialDate(sd SpecialDate) SpecialDate {
	m.mu.Lock()
	defer m.mu.Unlock()
	sd.ID = m.id()
	sd.Date = Day(sd.Date)
	m.specials = append(m.specials, sd)
	return sd
}

// AddMacAddress links a device to a user. The address is stored lower-cased, as MacCheckin looks it up.
func (m *MemoryStore) AddMacAddress(userID int64, mac string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.macs[strings.ToLower(strings.TrimSpace(mac))] = userID
}

func (m *MemoryStore) ListSlots(_ context.Context, enabledOnly bool) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Slot
	for _, s := range m.slots {
		if enabledOnly && !s.Enabled {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return weekdayIndex[out[i].Name] < weekdayIndex[out[j].Name]
	})
	return out, nil
}

func (m *MemoryStore) GetSlot(_ context.Context, name string, pod Pod) (Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		if s.Name == name && s.Pod == pod {
			return s, nil
		}
	}
	return Slot{}, ErrNotFound
}

func (m *MemoryStore) SpecialDatesOn(_ context.Context, date time.Time) ([]SpecialDate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = Day(date)
	var out []SpecialDate
	for _, sd := range m.specials {
		if sd.Date.Equal(date) {
			out = append(out, sd)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountPresences(_ context.Context, date time.Time, pod Pod, supervisors bool) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = Day(date)
	n := 0
	for _, p := range m.presences {
		if !p.Date.Equal(date) || p.Pod != pod {
			continue
		}
		if m.users[p.UserID].IsSupervisor() == supervisors {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountUserPresences(_ context.Context, userID int64, dates []time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[time.Time]bool, len(dates))
	for _, d := range dates {
		want[Day(d)] = true
	}
	n := 0
	for _, p := range m.presences {
		if p.UserID == userID && want[p.Date] {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreatePresence(_ context.Context, p Presence) (Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Date = Day(p.Date)
	key := presenceKey{p.UserID, p.Date, p.Pod}
	if _, ok := m.byKey[key]; ok {
		return Presence{}, errDuplicate
	}
	p.ID = m.id()
	p.CreatedAt = m.now()
	m.presences[p.ID] = p
	m.byKey[key] = p.ID
	return p, nil
}

func (m *MemoryStore) GetPresence(_ context.Context, userID int64, date time.Time, pod Pod) (Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[presenceKey{userID, Day(date), pod}]
	if !ok {
		return Presence{}, ErrNotFound
	}
	return m.presences[id], nil
}

func (m *MemoryStore) GetPresenceByID(_ context.Context, id int64) (Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presences[id]
	if !ok {
		return Presence{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) DeletePresence(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presences[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.presences, id)
	delete(m.byKey, presenceKey{p.UserID, p.Date, p.Pod})
	return nil
}

func (m *MemoryStore) SetSeen(_ context.Context, id int64, seen bool, by SeenBy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presences[id]
	if !ok {
		return ErrNotFound
	}
	p.Seen, p.SeenBy = seen, by
	m.presences[id] = p
	return nil
}

func (m *MemoryStore) MarkSeenOn(_ context.Context, userID int64, date time.Time, by SeenBy) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date = Day(date)
	n := 0
	for id, p := range m.presences {
		if p.UserID == userID && p.Date.Equal(date) {
			p.Seen, p.SeenBy = true, by
			m.presences[id] = p
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListPresenceEntries(_ context.Context, date time.Time, pod Pod) ([]PresenceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = Day(date)
	var out []PresenceEntry
	for _, p := range m.presences {
		u := m.users[p.UserID]
		if !p.Date.Equal(date) || p.Pod != pod || u.IsSupervisor() {
			continue
		}
		out = append(out, PresenceEntry{
			ID:             p.ID,
			Seen:           p.Seen,
			SeenBy:         p.SeenBy,
			Name:           u.FullName(),
			StripcardUsed:  u.Info.StripcardUsed,
			StripcardCount: u.Info.StripcardCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) ListSeenUsernames(_ context.Context, date time.Time, pod Pod) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = Day(date)
	var out []string
	for _, p := range m.presences {
		if p.Seen && p.Date.Equal(date) && p.Pod == pod {
			out = append(out, m.users[p.UserID].Username)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) CountSeenSince(_ context.Context, username string, from time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	from = Day(from)
	n := 0
	for _, p := range m.presences {
		if p.Seen && !p.Date.Before(from) && m.users[p.UserID].Username == username {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *MemoryStore) UpsertUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.users {
		if existing.Username == u.Username {
			u.ID = id
		}
	}
	if u.ID == 0 {
		u.ID = m.id()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) ListActiveUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if u.Active {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out, nil
}

func (m *MemoryStore) UserByMAC(_ context.Context, mac string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.macs[mac]
	if !ok {
		return User{}, ErrNotFound
	}
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// WithinSlotLock serialises every locked section; the memory store has no finer granularity.
func (m *MemoryStore) WithinSlotLock(_ context.Context, _ time.Time, _ Pod, fn func(Store) error) error {
	m.slotLock.Lock()
	defer m.slotLock.Unlock()
	return fn(m)
}
