package bot

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/tazhate/weatherplanner/config"
	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/interpreter"
	"github.com/tazhate/weatherplanner/internal/metrics"
	"github.com/tazhate/weatherplanner/internal/service"
	"github.com/tazhate/weatherplanner/internal/storage"
)

var apiNow = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer() *httptest.Server {
	cfg := config.New()
	cfg.API.Username = "ann"
	cfg.API.Password = "secret"

	clock := func() time.Time { return apiNow }
	kv := storage.NewMemory()
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)

	events := service.NewEventStore(kv, service.WithClock(clock), service.WithMetrics(m))
	scheduler := interpreter.NewScheduler(events, interpreter.WithClock(clock))
	deleter := interpreter.NewDeleter(events, interpreter.WithClock(clock))

	b, err := New(cfg, Services{
		Events: events,
		Profiles: service.NewProfileService(kv, domain.Profile{
			City:    "Paris",
			Weather: domain.Weather{Temperature: 20, Condition: "clear sky"},
		}),
		Router:    interpreter.NewRouter(scheduler, deleter, interpreter.WithClock(clock)),
		Scheduler: scheduler,
		Deleter:   deleter,
	}, nil, m, reg)
	So(err, ShouldBeNil)

	return httptest.NewServer(b.Handler())
}

func call(srv *httptest.Server, method, path, user, body string) (int, apiEnvelope) {
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	So(err, ShouldBeNil)
	req.SetBasicAuth("ann", "secret")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}

	resp, err := srv.Client().Do(req)
	So(err, ShouldBeNil)
	defer resp.Body.Close()

	var env apiEnvelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func decodeEvents(env apiEnvelope) []domain.Event {
	var events []domain.Event
	So(json.Unmarshal(env.Data, &events), ShouldBeNil)
	return events
}

const eventBody = `{"title":"Dentist","location":"Paris","start":"2026-10-18T14:00:00Z","end":"2026-10-18T15:00:00Z"}`

func TestAPIAuth(t *testing.T) {
	Convey("Given the API server", t, func() {
		srv := newTestServer()
		defer srv.Close()

		Convey("Requests without credentials are rejected", func() {
			resp, err := http.Get(srv.URL + "/api/events")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
			So(resp.Header.Get("WWW-Authenticate"), ShouldContainSubstring, "WeatherPlanner API")
		})

		Convey("Health and metrics are open", func() {
			resp, err := http.Get(srv.URL + "/health")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			call(srv, http.MethodGet, "/api/events", "u1", "")
			resp, err = http.Get(srv.URL + "/metrics")
			So(err, ShouldBeNil)
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			So(string(body), ShouldContainSubstring, "test_")
		})
	})
}

func TestAPIEvents(t *testing.T) {
	Convey("Given the API server", t, func() {
		srv := newTestServer()
		defer srv.Close()

		Convey("An event can be created, read, updated and deleted", func() {
			code, env := call(srv, http.MethodPost, "/api/events", "u1", eventBody)
			So(code, ShouldEqual, http.StatusCreated)
			So(env.Success, ShouldBeTrue)

			var created domain.Event
			So(json.Unmarshal(env.Data, &created), ShouldBeNil)
			So(created.Title, ShouldEqual, "Dentist")
			So(created.Start.TimeZone, ShouldEqual, "UTC")

			code, env = call(srv, http.MethodGet, "/api/event/"+created.ID, "u1", "")
			So(code, ShouldEqual, http.StatusOK)

			code, env = call(srv, http.MethodPut, "/api/event/"+created.ID, "u1",
				`{"title":"Dentist (moved)","start":"2026-10-19 09:00"}`)
			So(code, ShouldEqual, http.StatusOK)
			var updated domain.Event
			So(json.Unmarshal(env.Data, &updated), ShouldBeNil)
			So(updated.Title, ShouldEqual, "Dentist (moved)")
			So(updated.End.DateTime.Sub(updated.Start.DateTime), ShouldEqual, time.Hour)

			code, _ = call(srv, http.MethodDelete, "/api/event/"+created.ID, "u1", "")
			So(code, ShouldEqual, http.StatusOK)

			code, env = call(srv, http.MethodGet, "/api/event/"+created.ID, "u1", "")
			So(code, ShouldEqual, http.StatusNotFound)
			So(env.Success, ShouldBeFalse)
		})

		Convey("Invalid events are rejected with 400", func() {
			code, _ := call(srv, http.MethodPost, "/api/events", "u1",
				`{"title":"Backwards","start":"2026-10-18T15:00:00Z","end":"2026-10-18T14:00:00Z"}`)
			So(code, ShouldEqual, http.StatusBadRequest)

			code, _ = call(srv, http.MethodPost, "/api/events", "u1", `{"title":"No start"}`)
			So(code, ShouldEqual, http.StatusBadRequest)

			code, _ = call(srv, http.MethodPost, "/api/events", "u1", `not json`)
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Events are scoped by the user header", func() {
			call(srv, http.MethodPost, "/api/events", "u1", eventBody)

			_, env := call(srv, http.MethodGet, "/api/events", "u1", "")
			So(decodeEvents(env), ShouldHaveLength, 1)

			_, env = call(srv, http.MethodGet, "/api/events", "u2", "")
			So(decodeEvents(env), ShouldHaveLength, 0)
		})

		Convey("A date-only upper bound covers the whole day", func() {
			call(srv, http.MethodPost, "/api/events", "u1", eventBody)

			_, env := call(srv, http.MethodGet, "/api/events?from=2026-10-18&to=2026-10-18", "u1", "")
			So(decodeEvents(env), ShouldHaveLength, 1)

			_, env = call(srv, http.MethodGet, "/api/events?to=2026-10-17", "u1", "")
			So(decodeEvents(env), ShouldHaveLength, 0)

			code, _ := call(srv, http.MethodGet, "/api/events?from=yesterday", "u1", "")
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Search requires a query", func() {
			call(srv, http.MethodPost, "/api/events", "u1", eventBody)

			code, _ := call(srv, http.MethodGet, "/api/events/search", "u1", "")
			So(code, ShouldEqual, http.StatusBadRequest)

			_, env := call(srv, http.MethodGet, "/api/events/search?q=dent", "u1", "")
			So(decodeEvents(env), ShouldHaveLength, 1)
		})

		Convey("Upcoming validates days", func() {
			call(srv, http.MethodPost, "/api/events", "u1", eventBody)

			_, env := call(srv, http.MethodGet, "/api/events/upcoming", "u1", "")
			So(decodeEvents(env), ShouldHaveLength, 1)

			code, _ := call(srv, http.MethodGet, "/api/events/upcoming?days=-1", "u1", "")
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAPIChat(t *testing.T) {
	Convey("Given the API server", t, func() {
		srv := newTestServer()
		defer srv.Close()

		Convey("Schedule uses the profile context", func() {
			code, env := call(srv, http.MethodPost, "/api/chat/schedule", "u1",
				`{"text":"go for a run tomorrow morning"}`)
			So(code, ShouldEqual, http.StatusOK)

			var res interpreter.ScheduleResult
			So(json.Unmarshal(env.Data, &res), ShouldBeNil)
			So(res.Success, ShouldBeTrue)
			So(res.Event.Title, ShouldEqual, "Morning Run")
			So(res.Event.Location, ShouldEqual, "Paris")
			So(res.Event.Description, ShouldContainSubstring, "20°C, clear sky")
			So(res.Event.Start.DateTime.UTC().Format(time.RFC3339), ShouldEqual, "2026-10-18T09:00:00Z")
		})

		Convey("Request context overrides the profile", func() {
			_, env := call(srv, http.MethodPost, "/api/chat/schedule", "u1",
				`{"text":"bike ride","city":"Lyon","temperature":12.5,"condition":"windy"}`)

			var res interpreter.ScheduleResult
			So(json.Unmarshal(env.Data, &res), ShouldBeNil)
			So(res.Event.Location, ShouldEqual, "Lyon")
			So(res.Event.Description, ShouldContainSubstring, "12.5°C, windy")
		})

		Convey("Delete removes matching events", func() {
			call(srv, http.MethodPost, "/api/events", "u1", eventBody)

			_, env := call(srv, http.MethodPost, "/api/chat/delete", "u1", `{"text":"cancel dentist"}`)
			var res interpreter.DeleteResult
			So(json.Unmarshal(env.Data, &res), ShouldBeNil)
			So(res.Success, ShouldBeTrue)
			So(res.DeletedCount, ShouldEqual, 1)
		})

		Convey("Chat routes to both interpreters", func() {
			_, env := call(srv, http.MethodPost, "/api/chat", "u1", `{"text":"schedule gym at 7pm"}`)
			var reply interpreter.ChatReply
			So(json.Unmarshal(env.Data, &reply), ShouldBeNil)
			So(reply.Scheduled, ShouldNotBeNil)
			So(reply.Deleted, ShouldBeNil)
			So(reply.Text, ShouldContainSubstring, "Gym Session")
		})

		Convey("Empty text is rejected", func() {
			code, _ := call(srv, http.MethodPost, "/api/chat", "u1", `{"text":"  "}`)
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAPICalendarFiles(t *testing.T) {
	Convey("Given the API server", t, func() {
		srv := newTestServer()
		defer srv.Close()

		Convey("Export returns an iCalendar document", func() {
			call(srv, http.MethodPost, "/api/events", "u1", eventBody)

			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/events/export.ics", nil)
			req.SetBasicAuth("ann", "secret")
			req.Header.Set(UserHeader, "u1")
			resp, err := srv.Client().Do(req)
			So(err, ShouldBeNil)
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			So(resp.Header.Get("Content-Type"), ShouldStartWith, "text/calendar")
			So(string(body), ShouldContainSubstring, "SUMMARY:Dentist")
		})

		Convey("Import creates events inside the horizon", func() {
			lines := []string{
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:-//test//EN",
				"BEGIN:VEVENT",
				"UID:yoga",
				"DTSTAMP:20261001T000000Z",
				"SUMMARY:Yoga",
				"DTSTART:20261019T070000Z",
				"DTEND:20261019T080000Z",
				"RRULE:FREQ=DAILY;COUNT=3",
				"END:VEVENT",
				"END:VCALENDAR",
			}
			body := strings.Join(lines, "\r\n") + "\r\n"

			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/events/import", bytes.NewBufferString(body))
			req.SetBasicAuth("ann", "secret")
			req.Header.Set(UserHeader, "u1")
			resp, err := srv.Client().Do(req)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			var env apiEnvelope
			So(json.NewDecoder(resp.Body).Decode(&env), ShouldBeNil)
			var out ImportResponse
			So(json.Unmarshal(env.Data, &out), ShouldBeNil)
			So(out.Imported, ShouldEqual, 3)

			_, env = call(srv, http.MethodGet, "/api/events/search?q=yoga", "u1", "")
			So(decodeEvents(env), ShouldHaveLength, 3)
		})

		Convey("An empty import is a bad request", func() {
			code, _ := call(srv, http.MethodPost, "/api/events/import", "u1", "")
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAPIProfile(t *testing.T) {
	Convey("Given the API server", t, func() {
		srv := newTestServer()
		defer srv.Close()

		Convey("The profile starts from the defaults and can be changed", func() {
			_, env := call(srv, http.MethodGet, "/api/profile", "u1", "")
			var p domain.Profile
			So(json.Unmarshal(env.Data, &p), ShouldBeNil)
			So(p.City, ShouldEqual, "Paris")

			_, env = call(srv, http.MethodPut, "/api/profile", "u1", `{"city":"Nice","temperature":25}`)
			So(json.Unmarshal(env.Data, &p), ShouldBeNil)
			So(p.City, ShouldEqual, "Nice")
			So(p.Weather.Temperature, ShouldEqual, 25)
			So(p.Weather.Condition, ShouldEqual, "clear sky")
		})
	})
}

func TestParseWeatherArgs(t *testing.T) {
	Convey("parseWeatherArgs", t, func() {
		w, err := parseWeatherArgs("18 light rain")
		So(err, ShouldBeNil)
		So(w, ShouldResemble, domain.Weather{Temperature: 18, Condition: "light rain"})

		w, err = parseWeatherArgs("-3.5°C snow")
		So(err, ShouldBeNil)
		So(w.Temperature, ShouldEqual, -3.5)

		_, err = parseWeatherArgs("warm")
		So(err, ShouldNotBeNil)

		_, err = parseWeatherArgs("hot sunny")
		So(err, ShouldNotBeNil)
	})
}
