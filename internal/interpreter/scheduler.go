package interpreter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

// ScheduleRequest is one scheduling utterance with its ambient context
type ScheduleRequest struct {
	Text     string
	Weather  domain.Weather
	Location string
	Scope    domain.Scope
}

// ScheduleResult reports the outcome of a scheduling request. Event is set
// only on success.
type ScheduleResult struct {
	Success bool          `json:"success"`
	Event   *domain.Event `json:"event,omitempty"`
	Message string        `json:"message"`
}

type activity struct {
	keywords    []string
	title       string
	description string // format verbs: city, temperature, condition
}

// activities is matched in order; the first entry with a keyword in the text wins.
var activities = []activity{
	{[]string{"run", "jog"}, "Morning Run", "Morning run in %s. Perfect weather: %s°C, %s."},
	{[]string{"gym", "workout"}, "Gym Session", "Gym workout in %s. Weather: %s°C, %s."},
	{[]string{"picnic", "outdoor"}, "Outdoor Picnic", "Outdoor picnic in %s. Great weather: %s°C, %s."},
	{[]string{"walk", "stroll"}, "Evening Walk", "Evening walk in %s. Weather: %s°C, %s."},
	{[]string{"bike", "cycling"}, "Bike Ride", "Bike ride in %s. Weather: %s°C, %s."},
	{[]string{"coffee", "cafe"}, "Coffee Meeting", "Coffee meeting in %s. Weather: %s°C, %s."},
}

var defaultActivity = activity{
	title:       "Scheduled Activity",
	description: "Suggested by AI for %s. Weather: %s°C, %s.",
}

var timesOfDay = []struct {
	keyword   string
	startHour int
	endHour   int
}{
	{"morning", 9, 10},
	{"afternoon", 14, 15},
	{"evening", 19, 20},
}

var (
	clockTimeRe = regexp.MustCompile(`at (\d{1,2})(am|pm)?`)
	durationRe  = regexp.MustCompile(`(\d+)\s*(hour|hr|minute|min)`)
)

// Scheduler creates one event from a free-text request
type Scheduler struct {
	store EventStore
	opts  options
}

func NewScheduler(store EventStore, opts ...Option) *Scheduler {
	return &Scheduler{store: store, opts: buildOptions(opts)}
}

// Schedule interprets req and creates the event. Failures are reported in
// the result; Schedule never returns an error.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) ScheduleResult {
	fields := s.Interpret(req)

	event, err := s.store.CreateEvent(ctx, req.Scope, fields)
	if err != nil {
		s.opts.metrics.Interpretation("schedule", false)
		s.opts.log.Warn(ctx, "schedule failed",
			logger.String("scope", req.Scope.String()),
			logger.String("text", req.Text),
			logger.Error(err),
		)
		return ScheduleResult{
			Success: false,
			Message: fmt.Sprintf("❌ Sorry, I couldn't schedule that activity: %v", err),
		}
	}

	s.opts.metrics.Interpretation("schedule", true)
	start := event.Start.DateTime.In(s.opts.loc)
	return ScheduleResult{
		Success: true,
		Event:   &event,
		Message: fmt.Sprintf("✅ %q has been added to your calendar for %s at %s.",
			event.Title, start.Format("Jan 2, 2006"), start.Format("3:04 PM")),
	}
}

// Interpret applies the rule table to req without touching the store
func (s *Scheduler) Interpret(req ScheduleRequest) domain.EventFields {
	text := strings.ToLower(req.Text)
	act := matchActivity(text)
	start, end := s.timeRange(text)

	return domain.EventFields{
		Title:       act.title,
		Description: fmt.Sprintf(act.description, req.Location, formatTemperature(req.Weather.Temperature), req.Weather.Condition),
		Location:    req.Location,
		Start:       start,
		End:         end,
	}
}

func matchActivity(text string) activity {
	for _, a := range activities {
		if containsAny(text, a.keywords...) {
			return a
		}
	}
	return defaultActivity
}

func (s *Scheduler) timeRange(text string) (time.Time, time.Time) {
	start := s.opts.localNow()
	if strings.Contains(text, "tomorrow") {
		start = start.AddDate(0, 0, 1)
	}
	end := start.Add(time.Hour)

	for _, tod := range timesOfDay {
		if strings.Contains(text, tod.keyword) {
			start = atHour(start, tod.startHour)
			end = atHour(start, tod.endHour)
			break
		}
	}

	if m := clockTimeRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		switch {
		case m[2] == "pm" && hour < 12:
			hour += 12
		case m[2] == "am" && hour == 12:
			hour = 0
		}
		start = atHour(start, hour)
		end = start.Add(time.Hour)
	}

	if m := durationRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			unit := time.Minute
			if m[2] == "hour" || m[2] == "hr" {
				unit = time.Hour
			}
			end = start.Add(time.Duration(n) * unit)
		}
	}

	return start, end
}

// atHour returns t's calendar day at hour:00; out-of-range hours roll over
func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

func formatTemperature(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
