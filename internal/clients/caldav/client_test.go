package caldav

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tazhate/weatherplanner/config"
	"github.com/tazhate/weatherplanner/internal/domain"
)

type recorded struct {
	method string
	path   string
	body   string
	user   string
}

func TestClientSync(t *testing.T) {
	Convey("Given a client pointed at a CalDAV server", t, func() {
		var mu sync.Mutex
		var requests []recorded
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			user, _, _ := r.BasicAuth()
			mu.Lock()
			requests = append(requests, recorded{method: r.Method, path: r.URL.Path, body: string(body), user: user})
			mu.Unlock()
			switch r.Method {
			case http.MethodPut:
				w.WriteHeader(http.StatusCreated)
			case http.MethodDelete:
				w.WriteHeader(http.StatusNoContent)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
		}))
		defer srv.Close()

		client := NewClient(config.CalDAVConfig{
			URL:          srv.URL,
			Username:     "ann",
			Password:     "secret",
			CalendarPath: "/calendars/ann/home",
		}, nil)
		So(client.IsConfigured(), ShouldBeTrue)

		ctx := context.Background()
		scope := domain.NewScope("42")
		start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
		event := domain.Event{
			ID:    "event_1",
			Title: "Morning Run",
			Start: domain.EventTime{DateTime: start, TimeZone: "UTC"},
			End:   domain.EventTime{DateTime: start.Add(time.Hour), TimeZone: "UTC"},
		}

		Convey("When an event is pushed", func() {
			err := client.PushEvent(ctx, scope, event)

			Convey("Then it is PUT as an iCalendar object under the scope", func() {
				So(err, ShouldBeNil)
				So(len(requests), ShouldEqual, 1)
				So(requests[0].method, ShouldEqual, http.MethodPut)
				So(requests[0].path, ShouldEqual, "/calendars/ann/home/42-event_1.ics")
				So(requests[0].user, ShouldEqual, "ann")
				So(requests[0].body, ShouldContainSubstring, "SUMMARY:Morning Run")
				So(requests[0].body, ShouldContainSubstring, "UID:event_1@weatherplanner")
			})
		})

		Convey("When an event is removed", func() {
			err := client.RemoveEvent(ctx, scope, "event_1")

			Convey("Then the object is deleted", func() {
				So(err, ShouldBeNil)
				So(len(requests), ShouldEqual, 1)
				So(requests[0].method, ShouldEqual, http.MethodDelete)
				So(requests[0].path, ShouldEqual, "/calendars/ann/home/42-event_1.ics")
			})
		})
	})

	Convey("A client without a calendar path refuses to sync", t, func() {
		client := NewClient(config.CalDAVConfig{URL: "http://127.0.0.1:1", Username: "a", Password: "b"}, nil)
		err := client.RemoveEvent(context.Background(), domain.NewScope("1"), "x")
		So(err, ShouldNotBeNil)
	})

	Convey("A client without credentials is not configured", t, func() {
		So(NewClient(config.CalDAVConfig{}, nil).IsConfigured(), ShouldBeFalse)
	})
}
