package ics_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/ics"
)

func calendarBody(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestExport(t *testing.T) {
	Convey("Given two stored events", t, func() {
		start := time.Date(2026, 10, 18, 7, 0, 0, 0, time.UTC)
		events := []domain.Event{
			{
				ID:          "event_1",
				Title:       "Morning Run",
				Description: "Morning run in Paris. Perfect weather: 20°C, clear sky.",
				Location:    "Paris",
				Start:       domain.EventTime{DateTime: start, TimeZone: "UTC"},
				End:         domain.EventTime{DateTime: start.Add(time.Hour), TimeZone: "UTC"},
				Status:      domain.StatusConfirmed,
				Reminders:   domain.DefaultReminders(),
			},
			{
				ID:    "event_2",
				Title: "Gym Session",
				Start: domain.EventTime{DateTime: start.Add(12 * time.Hour), TimeZone: "UTC"},
				End:   domain.EventTime{DateTime: start.Add(14 * time.Hour), TimeZone: "UTC"},
			},
		}

		var buf bytes.Buffer
		err := ics.Encode(&buf, events, start)

		Convey("Then they are encoded as VEVENTs with alarms", func() {
			So(err, ShouldBeNil)
			out := buf.String()
			So(out, ShouldContainSubstring, "BEGIN:VCALENDAR")
			So(out, ShouldContainSubstring, "UID:event_1@weatherplanner")
			So(out, ShouldContainSubstring, "SUMMARY:Morning Run")
			So(out, ShouldContainSubstring, "DTSTART:20261018T070000Z")
			So(out, ShouldContainSubstring, "BEGIN:VALARM")
			So(out, ShouldContainSubstring, "TRIGGER:-PT60M")
			So(out, ShouldContainSubstring, "TRIGGER:-PT1440M")
			So(strings.Count(out, "BEGIN:VEVENT"), ShouldEqual, 2)
		})

		Convey("Then importing the output yields the same fields", func() {
			res, err := ics.Import(buf.Bytes(), ics.ImportOptions{})
			So(err, ShouldBeNil)
			So(len(res.Events), ShouldEqual, 2)
			So(res.Events[0].Title, ShouldEqual, "Morning Run")
			So(res.Events[0].Location, ShouldEqual, "Paris")
			So(res.Events[0].Start, ShouldEqual, start)
			So(res.Events[0].End, ShouldEqual, start.Add(time.Hour))
			So(res.Events[1].End.Sub(res.Events[1].Start), ShouldEqual, 2*time.Hour)
		})
	})
}

func TestImport(t *testing.T) {
	Convey("Given a daily recurring event with an exception", t, func() {
		body := calendarBody(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//test//EN",
			"BEGIN:VEVENT",
			"UID:standup-1",
			"DTSTAMP:20261001T000000Z",
			"DTSTART:20261001T080000Z",
			"DTEND:20261001T081500Z",
			"SUMMARY:Standup",
			"RRULE:FREQ=DAILY;COUNT=5",
			"EXDATE:20261003T080000Z",
			"END:VEVENT",
			"END:VCALENDAR",
		)

		res, err := ics.Import(body, ics.ImportOptions{
			From: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		})

		Convey("Then every occurrence but the excluded one is imported", func() {
			So(err, ShouldBeNil)
			So(len(res.Events), ShouldEqual, 4)
			for _, e := range res.Events {
				So(e.Title, ShouldEqual, "Standup")
				So(e.End.Sub(e.Start), ShouldEqual, 15*time.Minute)
				So(e.Start.Day(), ShouldNotEqual, 3)
			}
		})
	})

	Convey("Given an unbounded recurrence", t, func() {
		body := calendarBody(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//test//EN",
			"BEGIN:VEVENT",
			"UID:forever",
			"DTSTAMP:20261001T000000Z",
			"DTSTART:20261001T180000Z",
			"DTEND:20261001T190000Z",
			"SUMMARY:Evening Walk",
			"RRULE:FREQ=DAILY",
			"END:VEVENT",
			"END:VCALENDAR",
		)

		res, err := ics.Import(body, ics.ImportOptions{
			From:        time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
			To:          time.Date(2026, 12, 30, 0, 0, 0, 0, time.UTC),
			MaxPerEvent: 10,
		})

		Convey("Then expansion stops at the cap", func() {
			So(err, ShouldBeNil)
			So(len(res.Events), ShouldEqual, 10)
			So(res.Truncated, ShouldResemble, []string{"forever"})
		})
	})

	Convey("Given events with missing data", t, func() {
		body := calendarBody(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//test//EN",
			"BEGIN:VEVENT",
			"DTSTART:20261001T180000Z",
			"SUMMARY:No UID",
			"END:VEVENT",
			"BEGIN:VEVENT",
			"UID:no-end",
			"DTSTART:20261002T180000Z",
			"END:VEVENT",
			"END:VCALENDAR",
		)

		res, err := ics.Import(body, ics.ImportOptions{})

		Convey("Then invalid events are skipped and gaps are defaulted", func() {
			So(err, ShouldBeNil)
			So(res.Skipped, ShouldEqual, 1)
			So(len(res.Events), ShouldEqual, 1)
			So(res.Events[0].Title, ShouldEqual, "Imported Event")
			So(res.Events[0].End.Sub(res.Events[0].Start), ShouldEqual, time.Hour)
		})
	})

	Convey("An empty body is rejected", t, func() {
		_, err := ics.Import([]byte("  \n"), ics.ImportOptions{})
		So(errors.Is(err, ics.ErrEmpty), ShouldBeTrue)
	})
}
