// Package ics converts between stored events and iCalendar data.
package ics

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/tazhate/weatherplanner/internal/domain"
)

const ProductID = "-//WeatherPlanner//Calendar//EN"

// UIDSuffix is appended to event ids to form iCalendar UIDs
const UIDSuffix = "@weatherplanner"

// NewCalendar wraps events in a VCALENDAR; stamp becomes each DTSTAMP
func NewCalendar(events []domain.Event, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, e := range events {
		cal.Children = append(cal.Children, EventComponent(e, stamp))
	}
	return cal
}

// EventComponent converts one event into a VEVENT with its reminders as VALARMs
func EventComponent(e domain.Event, stamp time.Time) *ical.Component {
	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, e.ID+UIDSuffix)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	vevent.Props.SetText(ical.PropSummary, e.Title)

	if e.Description != "" {
		vevent.Props.SetText(ical.PropDescription, e.Description)
	}
	if e.Location != "" {
		vevent.Props.SetText(ical.PropLocation, e.Location)
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStart, e.Start.DateTime.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, e.End.DateTime.UTC())
	vevent.Props.SetText(ical.PropStatus, "CONFIRMED")

	if !e.CreatedAt.IsZero() {
		vevent.Props.SetDateTime(ical.PropCreated, e.CreatedAt.UTC())
	}
	if !e.UpdatedAt.IsZero() {
		vevent.Props.SetDateTime(ical.PropLastModified, e.UpdatedAt.UTC())
	}

	for _, r := range e.Reminders {
		vevent.Children = append(vevent.Children, alarm(e, r))
	}
	return vevent.Component
}

func alarm(e domain.Event, r domain.Reminder) *ical.Component {
	a := ical.NewComponent(ical.CompAlarm)

	action := "DISPLAY"
	if r.Method == "email" {
		action = "EMAIL"
		a.Props.SetText(ical.PropSummary, e.Title)
	}
	a.Props.SetText(ical.PropAction, action)
	a.Props.SetText(ical.PropDescription, e.Title)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", r.Minutes)
	a.Props.Set(trigger)
	return a
}

// Encode writes events as an iCalendar stream
func Encode(w io.Writer, events []domain.Event, stamp time.Time) error {
	if err := ical.NewEncoder(w).Encode(NewCalendar(events, stamp)); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}
