package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/tazhate/weatherplanner/internal/domain"
)

// FormatEventList formats events grouped by day for display
func FormatEventList(events []domain.Event, loc *time.Location) string {
	if len(events) == 0 {
		return "No events"
	}

	var sb strings.Builder
	var currentDate string

	for _, e := range events {
		start := e.Start.DateTime.In(loc)
		eventDate := start.Format("Jan 2")

		// date header when the day changes
		if eventDate != currentDate {
			if currentDate != "" {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("📅 %s, %s:\n", start.Weekday(), eventDate))
			currentDate = eventDate
		}

		line := fmt.Sprintf("  %s — %s", e.FormatTime(loc), e.Title)
		if e.Location != "" {
			line += fmt.Sprintf(" 📍%s", e.Location)
		}
		sb.WriteString(line + "\n")
	}

	return sb.String()
}

// FormatTodayBriefing formats today's events for the morning briefing
func FormatTodayBriefing(events []domain.Event, loc *time.Location) string {
	if len(events) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("📅 Today's events:\n")

	for _, e := range events {
		line := fmt.Sprintf("• %s — %s", e.Start.DateTime.In(loc).Format("15:04"), e.Title)
		if e.Location != "" {
			line += fmt.Sprintf(" 📍%s", e.Location)
		}
		sb.WriteString(line + "\n")
	}

	return sb.String()
}

// FormatReminder formats a popup reminder for an upcoming event
func FormatReminder(e domain.Event, loc *time.Location) string {
	text := fmt.Sprintf("🔔 Reminder\n\n%s at %s", e.Title, e.Start.DateTime.In(loc).Format("15:04"))
	if e.Location != "" {
		text += fmt.Sprintf(" 📍%s", e.Location)
	}
	return text
}
