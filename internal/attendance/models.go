package attendance

import (
	"fmt"
	"strings"
	"time"
)

// Pod is a time-of-day partition of a session.
type Pod string

const (
	PodMorning   Pod = "morning"
	PodAfternoon Pod = "afternoon"
	PodEvening   Pod = "evening"
)

// ParsePod validates a pod name coming from the transport layer.
func ParsePod(s string) (Pod, error) {
	switch p := Pod(strings.ToLower(strings.TrimSpace(s))); p {
	case PodMorning, PodAfternoon, PodEvening:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown pod %q", ErrInvalidInput, s)
}

// Role is the permission tier of a user inside the portal.
type Role string

const (
	RoleMember     Role = "member"
	RoleSupervisor Role = "supervisor"
)

// SeenBy records how attendance was confirmed.
type SeenBy string

const (
	SeenByNone   SeenBy = ""
	SeenByMAC    SeenBy = "mac"
	SeenByManual SeenBy = "manual"
)

var supervisorTags = map[string]bool{
	"begeleider":          true,
	"aspirant_begeleider": true,
	"ondersteuning":       true,
}

func accountTags(accountType string) []string {
	parts := strings.Split(accountType, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsSupervisorAccount reports whether the IDP account type grants supervisor privilege.
func IsSupervisorAccount(accountType string) bool {
	for _, tag := range accountTags(accountType) {
		if supervisorTags[tag] {
			return true
		}
	}
	return false
}

// HasStripcard reports whether the account is billed per visit.
func HasStripcard(accountType string) bool {
	for _, tag := range accountTags(accountType) {
		if tag == "strippenkaart" {
			return true
		}
	}
	return false
}

// UserInfo carries the quota fields received from the identity provider.
type UserInfo struct {
	Days             int        `json:"days"`
	AccountType      string     `json:"account_type"`
	StripcardUsed    int        `json:"stripcard_used"`
	StripcardCount   int        `json:"stripcard_count"`
	StripcardExpires *time.Time `json:"stripcard_expires,omitempty"`
}

// User is a portal account, created on first login.
type User struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Role      Role     `json:"role"`
	Active    bool     `json:"active"`
	Info      UserInfo `json:"userinfo"`
}

func (u User) IsSupervisor() bool { return u.Role == RoleSupervisor }

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Slot is a recurring weekly registration template.
type Slot struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Pod         Pod    `json:"pod"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// SpecialDate overrides capacity or closes a day. A nil Pod applies to every pod of that day.
type SpecialDate struct {
	ID        int64     `json:"id"`
	Date      time.Time `json:"date"`
	Pod       *Pod      `json:"pod,omitempty"`
	FreeSlots *int      `json:"free_slots,omitempty"`
	Closed    bool      `json:"closed"`
	Message   string    `json:"message,omitempty"`
}

// Presence is the registration and attendance record of one user for one (date, pod).
type Presence struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Date      time.Time `json:"date"`
	Pod       Pod       `json:"pod"`
	Seen      bool      `json:"seen"`
	SeenBy    SeenBy    `json:"seen_by"`
	CreatedAt time.Time `json:"created_at"`
}

// MacAddress links a network device to its owner.
type MacAddress struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	MAC    string `json:"mac"`
}

// PresenceEntry is a presence joined with the owner's display fields.
type PresenceEntry struct {
	ID             int64  `json:"id"`
	Seen           bool   `json:"seen"`
	SeenBy         SeenBy `json:"seen_by"`
	Name           string `json:"name"`
	StripcardUsed  int    `json:"stripcard_used"`
	StripcardCount int    `json:"stripcard_count"`
}

// Principal identifies who is invoking an operation: a logged-in user or a machine client.
type Principal struct {
	User     *User
	ClientID string
}

// IsAdmin reports whether the caller may use supervisor-only operations.
func (p Principal) IsAdmin() bool {
	if p.ClientID != "" {
		return true
	}
	return p.User != nil && p.User.IsSupervisor()
}
