package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/service"
	"github.com/tazhate/weatherplanner/internal/storage"
)

func TestProfileService(t *testing.T) {
	Convey("Given a profile service with defaults", t, func() {
		ctx := context.Background()
		profiles := service.NewProfileService(storage.NewMemory(), domain.Profile{
			City:    "Paris",
			Weather: domain.Weather{Temperature: 20, Condition: "clear sky"},
		})

		Convey("When a user has no stored profile", func() {
			p, err := profiles.Get(ctx, "")

			Convey("Then the defaults are returned under the anonymous id", func() {
				So(err, ShouldBeNil)
				So(p.UserID, ShouldEqual, domain.AnonymousUser)
				So(p.City, ShouldEqual, "Paris")
				So(p.Weather.Condition, ShouldEqual, "clear sky")
			})
		})

		Convey("When the city and weather are set", func() {
			_, err := profiles.SetCity(ctx, "42", " London ")
			So(err, ShouldBeNil)
			_, err = profiles.SetWeather(ctx, "42", domain.Weather{Temperature: 11.5, Condition: "light rain"})
			So(err, ShouldBeNil)

			Convey("Then both are persisted", func() {
				p, err := profiles.Get(ctx, "42")
				So(err, ShouldBeNil)
				So(p.City, ShouldEqual, "London")
				So(p.Weather, ShouldResemble, domain.Weather{Temperature: 11.5, Condition: "light rain"})
			})
		})

		Convey("When registering a chat identity", func() {
			_, err := profiles.Register(ctx, "7", 1007, "Ann", domain.RoleOwner)
			So(err, ShouldBeNil)

			Convey("Then it is kept alongside the defaults", func() {
				p, _ := profiles.Get(ctx, "7")
				So(p.TelegramID, ShouldEqual, int64(1007))
				So(p.Role, ShouldEqual, domain.RoleOwner)
				So(p.City, ShouldEqual, "Paris")
			})
		})

		Convey("When blank values are given", func() {
			_, errCity := profiles.SetCity(ctx, "42", "  ")
			_, errWeather := profiles.SetWeather(ctx, "42", domain.Weather{Temperature: 3})

			So(errors.Is(errCity, domain.ErrValidation), ShouldBeTrue)
			So(errors.Is(errWeather, domain.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestFormatters(t *testing.T) {
	Convey("Given events on two days", t, func() {
		loc := time.UTC
		events := []domain.Event{
			{
				Title:    "Morning Run",
				Location: "Paris",
				Start:    domain.EventTime{DateTime: time.Date(2026, 10, 17, 7, 0, 0, 0, loc)},
				End:      domain.EventTime{DateTime: time.Date(2026, 10, 17, 8, 0, 0, 0, loc)},
			},
			{
				Title: "Coffee Meeting",
				Start: domain.EventTime{DateTime: time.Date(2026, 10, 18, 10, 0, 0, 0, loc)},
				End:   domain.EventTime{DateTime: time.Date(2026, 10, 18, 11, 0, 0, 0, loc)},
			},
		}

		Convey("The list groups them by day", func() {
			text := service.FormatEventList(events, loc)
			So(text, ShouldContainSubstring, "📅 Saturday, Oct 17:")
			So(text, ShouldContainSubstring, "📅 Sunday, Oct 18:")
			So(text, ShouldContainSubstring, "Morning Run 📍Paris")
		})

		Convey("The briefing lists start times", func() {
			text := service.FormatTodayBriefing(events[:1], loc)
			So(text, ShouldStartWith, "📅 Today's events:")
			So(text, ShouldContainSubstring, "• 07:00 — Morning Run")
		})

		Convey("The reminder names the event", func() {
			So(service.FormatReminder(events[1], loc), ShouldContainSubstring, "Coffee Meeting at 10:00")
		})

		Convey("Empty input yields placeholders", func() {
			So(service.FormatEventList(nil, loc), ShouldEqual, "No events")
			So(service.FormatTodayBriefing(nil, loc), ShouldEqual, "")
		})
	})
}
