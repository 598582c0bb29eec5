package domain

import (
	"strings"
	"time"
)

// EventStatus is the lifecycle state of an event. Only confirmed events exist.
type EventStatus string

const StatusConfirmed EventStatus = "confirmed"

// AnonymousUser is the scope used when no identity is available.
const AnonymousUser = "anonymous"

// Scope partitions events per user
type Scope struct {
	UserID string
}

// NewScope returns the scope for userID, falling back to the anonymous sentinel
func NewScope(userID string) Scope {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = AnonymousUser
	}
	return Scope{UserID: userID}
}

func (s Scope) String() string {
	if s.UserID == "" {
		return AnonymousUser
	}
	return s.UserID
}

// EventTime is a point in time with the zone tag it is persisted under
type EventTime struct {
	DateTime time.Time `json:"dateTime"`
	TimeZone string    `json:"timeZone"`
}

// Reminder is a notification override attached to an event
type Reminder struct {
	Method  string `json:"method"` // popup or email
	Minutes int    `json:"minutes"`
}

// DefaultReminders are attached to every new event
func DefaultReminders() []Reminder {
	return []Reminder{
		{Method: "popup", Minutes: 60},
		{Method: "email", Minutes: 24 * 60},
	}
}

// Event is a calendar entry owned by exactly one scope
type Event struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Start       EventTime   `json:"start"`
	End         EventTime   `json:"end"`
	Status      EventStatus `json:"status"`
	ColorTag    int         `json:"colorTag"`
	Reminders   []Reminder  `json:"reminders,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// EventFields are the mutable fields supplied on create and update
type EventFields struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

// Fields returns the mutable fields of the event
func (e *Event) Fields() EventFields {
	return EventFields{
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.Start.DateTime,
		End:         e.End.DateTime,
	}
}

// StartsWithin reports whether the event start lies in [from, to).
func (e *Event) StartsWithin(from, to time.Time) bool {
	st := e.Start.DateTime
	return !st.Before(from) && st.Before(to)
}

// SearchText is the lowercased text used by keyword matching
func (e *Event) SearchText() string {
	return strings.ToLower(e.Title + " " + e.Description)
}

// PopupReminder returns minutes before start for the popup reminder, if any
func (e *Event) PopupReminder() (int, bool) {
	for _, r := range e.Reminders {
		if r.Method == "popup" {
			return r.Minutes, true
		}
	}
	return 0, false
}

// FormatTime returns formatted time range for display
func (e *Event) FormatTime(loc *time.Location) string {
	start := e.Start.DateTime.In(loc)
	if e.End.DateTime.IsZero() {
		return start.Format("15:04")
	}
	return start.Format("15:04") + "-" + e.End.DateTime.In(loc).Format("15:04")
}

// FormatDateTime returns formatted date and time
func (e *Event) FormatDateTime(loc *time.Location) string {
	return e.Start.DateTime.In(loc).Format("02.01.2006 15:04")
}

// IsToday returns true if event starts today in loc
func (e *Event) IsToday(now time.Time, loc *time.Location) bool {
	from := StartOfDay(now, loc)
	return e.StartsWithin(from, from.AddDate(0, 0, 1))
}

// LocationEmoji returns location emoji if location is set
func (e *Event) LocationEmoji() string {
	if e.Location != "" {
		return " 📍"
	}
	return ""
}

// StartOfDay returns local midnight of t in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
