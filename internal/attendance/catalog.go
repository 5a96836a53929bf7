package attendance

import (
	"fmt"
	"strings"
	"time"
)

var weekdayIndex = map[string]int{
	"mon": 0,
	"tue": 1,
	"wed": 2,
	"thu": 3,
	"fri": 4,
	"sat": 5,
	"sun": 6,
}

// WeekdayIndex returns the Monday-based index of a short weekday name.
func WeekdayIndex(name string) (int, error) {
	idx, ok := weekdayIndex[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidInput, name)
	}
	return idx, nil
}

// ParseDay validates a weekday name coming from the transport layer.
func ParseDay(name string) (string, error) {
	if _, err := WeekdayIndex(name); err != nil {
		return "", err
	}
	return strings.ToLower(name), nil
}

func mondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Day truncates t to its calendar day, expressed as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResolveDate returns the nearest date on or after ref that falls on the slot's weekday.
// A slot with an invalid weekday name is a programming error and panics.
func ResolveDate(slot Slot, ref time.Time) time.Time {
	idx, err := WeekdayIndex(slot.Name)
	if err != nil {
		panic(err)
	}
	ref = Day(ref)
	offset := ((idx-mondayIndex(ref))%7 + 7) % 7
	return ref.AddDate(0, 0, offset)
}

// WeekWindow returns the Monday and Sunday of the week containing d.
func WeekWindow(d time.Time) (time.Time, time.Time) {
	d = Day(d)
	monday := d.AddDate(0, 0, -mondayIndex(d))
	return monday, monday.AddDate(0, 0, 6)
}

// InWeek reports whether d lies in the Monday to Sunday week containing ref.
func InWeek(d, ref time.Time) bool {
	monday, sunday := WeekWindow(ref)
	d = Day(d)
	return !d.Before(monday) && !d.After(sunday)
}

// SlotInfo is the display projection of an enabled slot for its upcoming date.
type SlotInfo struct {
	Slot
	Date         time.Time `json:"date"`
	Capacity     int       `json:"capacity"`
	Taken        int       `json:"taken"`
	Available    int       `json:"available"`
	Tutors       int       `json:"tutors"`
	Closed       bool      `json:"closed"`
	Message      string    `json:"message,omitempty"`
	IsRegistered bool      `json:"is_registered"`
}
