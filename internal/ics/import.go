package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/weatherplanner/internal/domain"
)

const defaultMaxPerEvent = 500

// ErrEmpty is returned for an empty payload
var ErrEmpty = errors.New("empty ICS body")

// ParsedEvent is a VEVENT before recurrence expansion
type ParsedEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	RawRRule    string
	ExDates     []time.Time
}

// ImportOptions bounds recurrence expansion. Recurring events only yield
// occurrences starting in [From, To]; single events are always kept.
type ImportOptions struct {
	From        time.Time
	To          time.Time
	MaxPerEvent int
}

// ImportResult is the set of events to create from a payload
type ImportResult struct {
	Events    []domain.EventFields
	Skipped   int
	Truncated []string
}

// Parse reads every VEVENT in body. Events without a UID or a start are
// counted as skipped.
func Parse(body []byte) ([]ParsedEvent, int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, 0, ErrEmpty
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("parse calendar: %w", err)
	}

	var events []ParsedEvent
	skipped := 0
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start

	if dt := ve.GetProperty(ical.ComponentPropertyDtStart); dt != nil {
		if vs, ok := dt.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if !strings.Contains(dt.Value, "T") {
			out.AllDay = true
		}
	}

	if end, err := ve.GetEndAt(); err == nil && end.After(start) {
		out.End = end
	} else if out.AllDay {
		out.End = start.AddDate(0, 0, 1)
	} else {
		out.End = start.Add(time.Hour)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part), start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// Import parses body and expands recurrences into event fields
func Import(body []byte, opts ImportOptions) (ImportResult, error) {
	var result ImportResult

	parsed, skipped, err := Parse(body)
	if err != nil {
		return result, err
	}
	result.Skipped = skipped

	if opts.MaxPerEvent <= 0 {
		opts.MaxPerEvent = defaultMaxPerEvent
	}
	if !opts.To.IsZero() && opts.To.Before(opts.From) {
		return result, errors.New("import: window end is before start")
	}

	for _, ev := range parsed {
		if ev.RawRRule == "" {
			result.Events = append(result.Events, toFields(ev, ev.Start, ev.End))
			continue
		}

		starts, truncated, err := expand(ev, opts)
		if err != nil {
			result.Skipped++
			continue
		}
		if truncated {
			result.Truncated = append(result.Truncated, ev.UID)
		}
		dur := ev.End.Sub(ev.Start)
		for _, st := range starts {
			result.Events = append(result.Events, toFields(ev, st, st.Add(dur)))
		}
	}
	return result, nil
}

func expand(ev ParsedEvent, opts ImportOptions) ([]time.Time, bool, error) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil, false, fmt.Errorf("parse RRULE %q: %w", ev.RawRRule, err)
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	from, to := opts.From, opts.To
	if from.IsZero() {
		from = ev.Start
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 90)
	}

	starts := set.Between(from.In(ev.Start.Location()), to.In(ev.Start.Location()), true)
	if len(starts) > opts.MaxPerEvent {
		return starts[:opts.MaxPerEvent], true, nil
	}
	return starts, false, nil
}

func toFields(ev ParsedEvent, start, end time.Time) domain.EventFields {
	title := strings.TrimSpace(ev.Summary)
	if title == "" {
		title = "Imported Event"
	}
	return domain.EventFields{
		Title:       title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start,
		End:         end,
	}
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
