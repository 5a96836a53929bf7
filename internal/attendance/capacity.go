package attendance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Level grants Increment extra slots once at least Tutors supervisors are registered.
type Level struct {
	Tutors    int
	Increment int
}

// Levels is a cumulative step table ordered by tutor threshold.
type Levels []Level

// DefaultLevels is the table used when SLOT_LEVELS is not configured.
func DefaultLevels() Levels {
	return Levels{{0, 16}, {1, 4}, {5, 4}, {6, 2}, {7, 2}}
}

// ParseLevels reads a table formatted as "0:16,1:4,5:4".
func ParseLevels(s string) (Levels, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLevels(), nil
	}
	var out Levels
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("slot level %q: want <tutors>:<slots>", part)
		}
		tutors, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || tutors < 0 {
			return nil, fmt.Errorf("slot level %q: bad tutor threshold", part)
		}
		inc, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("slot level %q: bad increment", part)
		}
		if seen[tutors] {
			return nil, fmt.Errorf("slot level %q: duplicate threshold", part)
		}
		seen[tutors] = true
		out = append(out, Level{Tutors: tutors, Increment: inc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tutors < out[j].Tutors })
	return out, nil
}

// Capacity sums every increment whose threshold the tutor count meets.
func (l Levels) Capacity(tutors int) int {
	total := 0
	for _, lvl := range l {
		if tutors >= lvl.Tutors {
			total += lvl.Increment
		}
	}
	return total
}

func (l Levels) String() string {
	parts := make([]string, len(l))
	for i, lvl := range l {
		parts[i] = fmt.Sprintf("%d:%d", lvl.Tutors, lvl.Increment)
	}
	return strings.Join(parts, ",")
}

// ResolveOverride picks the special date for pod: exact pod first, then the whole-day entry.
func ResolveOverride(specials []SpecialDate, pod Pod) *SpecialDate {
	var fallback *SpecialDate
	for i := range specials {
		sd := &specials[i]
		if sd.Pod != nil && *sd.Pod == pod {
			return sd
		}
		if sd.Pod == nil && fallback == nil {
			fallback = sd
		}
	}
	return fallback
}

// BaseCapacity combines an override with the tutor-driven step table.
// A closed override always yields zero.
func BaseCapacity(levels Levels, override *SpecialDate, tutors int) int {
	if override != nil {
		if override.Closed {
			return 0
		}
		if override.FreeSlots != nil && *override.FreeSlots >= 0 {
			return *override.FreeSlots
		}
	}
	return levels.Capacity(tutors)
}

// CapacitySnapshot is a point-in-time view of one (date, pod).
type CapacitySnapshot struct {
	Date      time.Time `json:"date"`
	Pod       Pod       `json:"pod"`
	Base      int       `json:"base"`
	Taken     int       `json:"taken"`
	Tutors    int       `json:"tutors"`
	Available int       `json:"available"`
	Closed    bool      `json:"closed"`
	Message   string    `json:"message,omitempty"`
}

// Full reports whether registration must be refused.
func (c CapacitySnapshot) Full() bool { return c.Available <= 0 }

// Capacity reads the current presence counts and overrides for (date, pod).
func (s *Service) Capacity(ctx context.Context, date time.Time, pod Pod) (CapacitySnapshot, error) {
	return s.capacity(ctx, s.store, date, pod)
}

func (s *Service) capacity(ctx context.Context, st Store, date time.Time, pod Pod) (CapacitySnapshot, error) {
	date = Day(date)
	taken, err := st.CountPresences(ctx, date, pod, false)
	if err != nil {
		return CapacitySnapshot{}, fmt.Errorf("count presences: %w", err)
	}
	tutors, err := st.CountPresences(ctx, date, pod, true)
	if err != nil {
		return CapacitySnapshot{}, fmt.Errorf("count tutors: %w", err)
	}
	specials, err := st.SpecialDatesOn(ctx, date)
	if err != nil {
		return CapacitySnapshot{}, fmt.Errorf("special dates: %w", err)
	}
	override := ResolveOverride(specials, pod)

	snap := CapacitySnapshot{
		Date:   date,
		Pod:    pod,
		Taken:  taken,
		Tutors: tutors,
		Base:   BaseCapacity(s.levels, override, tutors),
	}
	if override != nil {
		snap.Closed = override.Closed
		snap.Message = override.Message
	}
	snap.Available = snap.Base - snap.Taken
	return snap, nil
}

// SlotsTaken counts member registrations; supervisors do not consume capacity.
func (s *Service) SlotsTaken(ctx context.Context, date time.Time, pod Pod) (int, error) {
	return s.store.CountPresences(ctx, Day(date), pod, false)
}

// TutorCount counts supervisor registrations.
func (s *Service) TutorCount(ctx context.Context, date time.Time, pod Pod) (int, error) {
	return s.store.CountPresences(ctx, Day(date), pod, true)
}

// Available returns base capacity minus taken slots; it may be negative.
func (s *Service) Available(ctx context.Context, date time.Time, pod Pod) (int, error) {
	snap, err := s.Capacity(ctx, date, pod)
	if err != nil {
		return 0, err
	}
	return snap.Available, nil
}

// IsClosed reports whether the resolved override closes (date, pod).
func (s *Service) IsClosed(ctx context.Context, date time.Time, pod Pod) (bool, error) {
	specials, err := s.store.SpecialDatesOn(ctx, Day(date))
	if err != nil {
		return false, err
	}
	if o := ResolveOverride(specials, pod); o != nil {
		return o.Closed, nil
	}
	return false, nil
}
