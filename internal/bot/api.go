package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/ics"
	"github.com/tazhate/weatherplanner/internal/interpreter"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

// UserHeader carries the scope of an API request
const UserHeader = "X-User-ID"

const maxImportBytes = 4 << 20

// API Response types
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventRequest is the body of create and update calls. Times are RFC 3339,
// "YYYY-MM-DD HH:MM" or "YYYY-MM-DD" in the configured zone.
type EventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// ChatAPIRequest is the body of the chat endpoints. Empty context fields
// fall back to the user's profile.
type ChatAPIRequest struct {
	Text        string   `json:"text"`
	City        string   `json:"city"`
	Temperature *float64 `json:"temperature"`
	Condition   string   `json:"condition"`
}

type ProfileRequest struct {
	City        string   `json:"city"`
	Temperature *float64 `json:"temperature"`
	Condition   string   `json:"condition"`
}

type ImportResponse struct {
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Truncated []string `json:"truncated,omitempty"`
}

// SetupAPI registers API routes with Basic Auth
func (b *Bot) SetupAPI(mux *http.ServeMux) {
	if b.cfg.API.Username == "" || b.cfg.API.Password == "" {
		b.log.Warn(context.Background(), "api credentials not set, REST API disabled")
		return
	}

	// Events
	b.handle(mux, "GET /api/events", b.apiListEvents)
	b.handle(mux, "POST /api/events", b.apiCreateEvent)
	b.handle(mux, "GET /api/events/today", b.apiTodayEvents)
	b.handle(mux, "GET /api/events/upcoming", b.apiUpcomingEvents)
	b.handle(mux, "GET /api/events/search", b.apiSearchEvents)
	b.handle(mux, "GET /api/event/{id}", b.apiGetEvent)
	b.handle(mux, "PUT /api/event/{id}", b.apiUpdateEvent)
	b.handle(mux, "DELETE /api/event/{id}", b.apiDeleteEvent)

	// Chat
	b.handle(mux, "POST /api/chat", b.apiChat)
	b.handle(mux, "POST /api/chat/schedule", b.apiChatSchedule)
	b.handle(mux, "POST /api/chat/delete", b.apiChatDelete)

	// iCalendar
	b.handle(mux, "GET /api/events/export.ics", b.apiExport)
	b.handle(mux, "POST /api/events/import", b.apiImport)

	// Profile
	b.handle(mux, "GET /api/profile", b.apiGetProfile)
	b.handle(mux, "PUT /api/profile", b.apiUpdateProfile)
}

func (b *Bot) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, b.instrument(pattern, b.basicAuth(h)))
}

// basicAuth middleware
func (b *Bot) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != b.cfg.API.Username || password != b.cfg.API.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="WeatherPlanner API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (b *Bot) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		b.metrics.ObserveHTTP(route, rec.status, time.Since(started))
	})
}

func (b *Bot) jsonResponse(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (b *Bot) jsonError(w http.ResponseWriter, err string, status int) {
	writeJSON(w, status, APIResponse{Success: false, Error: err})
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// storeError maps store failures onto HTTP statuses
func (b *Bot) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		b.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		b.jsonError(w, err.Error(), http.StatusNotFound)
	default:
		b.log.Error(r.Context(), "api request failed", logger.String("path", r.URL.Path), logger.Error(err))
		b.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func requestScope(r *http.Request) domain.Scope {
	return domain.NewScope(r.Header.Get(UserHeader))
}

// GET /api/events?from=&to= - list events, optionally by start range
func (b *Bot) apiListEvents(w http.ResponseWriter, r *http.Request) {
	from, err := b.parseBound(r.URL.Query().Get("from"), false)
	if err != nil {
		b.jsonError(w, "Invalid from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := b.parseBound(r.URL.Query().Get("to"), true)
	if err != nil {
		b.jsonError(w, "Invalid to: "+err.Error(), http.StatusBadRequest)
		return
	}

	events, err := b.svc.Events.ListEvents(r.Context(), requestScope(r), from, to)
	if err != nil {
		b.storeError(w, r, err)
		return
	}
	b.jsonResponse(w, events)
}

// POST /api/events - create event
func (b *Bot) apiCreateEvent(w http.ResponseWriter, r *http.Request) {
	fields, ok := b.decodeEvent(w, r)
	if !ok {
		return
	}

	event, err := b.svc.Events.CreateEvent(r.Context(), requestScope(r), fields)
	if err != nil {
		b.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: event})
}

// GET /api/events/today
func (b *Bot) apiTodayEvents(w http.ResponseWriter, r *http.Request) {
	events, err := b.svc.Events.TodayEvents(r.Context(), requestScope(r))
	if err != nil {
		b.storeError(w, r, err)
		return
	}
	b.jsonResponse(w, events)
}

// GET /api/events/upcoming?days=7
func (b *Bot) apiUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			b.jsonError(w, "Invalid days", http.StatusBadRequest)
			return
		}
		days = n
	}

	events, err := b.svc.Events.UpcomingEvents(r.Context(), requestScope(r), days)
	if err != nil {
		b.storeError(w, r, err)
		return
	}
	b.jsonResponse(w, events)
}

// GET /api/events/search?q=
func (b *Bot) apiSearchEvents(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		b.jsonError(w, "q is required", http.StatusBadRequest)
		return
	}

	events, err := b.svc.Events.SearchEvents(r.Context(), requestScope(r), q)
	if err != nil {
		b.storeError(w, r, err)
		return
	}
	b.jsonResponse(w, events)
}

// GET /api/event/{id}
func (b *Bot) apiGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := b.svc.Events.GetEvent(r.Context(), requestScope(r), r.PathValue("id"))
	if err != nil {
		b.storeError(w, r, err)
		return
	}
	b.jsonResponse(w, event)
}

// PUT /api/event/{id} - replace mutable fields
func (b *Bot) apiUpdateEvent(w http.ResponseWriter, r *http.Request) {
	fields, ok := b.decodeEvent(w, r)
	if !ok {
		return
	}

	event, err := b.svc.Events.UpdateEvent(r.Context(), requestScope(r), r.PathValue("id"), fields)
	if err != nil {
		b.storeError(w, r, err)
		return
	}
	b.jsonResponse(w, event)
}

// DELETE /api/event/{id}
func (b *Bot) apiDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := b.svc.Events.DeleteEvent(r.Context(), requestScope(r), id); err != nil {
		b.storeError(w, r, err)
		return
	}
	b.jsonResponse(w, map[string]string{"deleted": id})
}

// POST /api/chat - route a chat message to the interpreters
func (b *Bot) apiChat(w http.ResponseWriter, r *http.Request) {
	req, profile, ok := b.decodeChat(w, r)
	if !ok {
		return
	}

	reply := b.svc.Router.Handle(r.Context(), interpreter.ChatRequest{
		Text:     req.Text,
		Scope:    requestScope(r),
		Weather:  profile.Weather,
		Location: profile.City,
	})
	b.jsonResponse(w, reply)
}

// POST /api/chat/schedule
func (b *Bot) apiChatSchedule(w http.ResponseWriter, r *http.Request) {
	req, profile, ok := b.decodeChat(w, r)
	if !ok {
		return
	}

	res := b.svc.Scheduler.Schedule(r.Context(), interpreter.ScheduleRequest{
		Text:     req.Text,
		Weather:  profile.Weather,
		Location: profile.City,
		Scope:    requestScope(r),
	})
	b.jsonResponse(w, res)
}

// POST /api/chat/delete
func (b *Bot) apiChatDelete(w http.ResponseWriter, r *http.Request) {
	req, _, ok := b.decodeChat(w, r)
	if !ok {
		return
	}

	res := b.svc.Deleter.Delete(r.Context(), interpreter.DeleteRequest{
		Text:  req.Text,
		Scope: requestScope(r),
	})
	b.jsonResponse(w, res)
}

// GET /api/events/export.ics
func (b *Bot) apiExport(w http.ResponseWriter, r *http.Request) {
	events, err := b.svc.Events.ListEvents(r.Context(), requestScope(r), time.Time{}, time.Time{})
	if err != nil {
		b.storeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := ics.Encode(&buf, events, b.svc.Events.Now()); err != nil {
		b.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	_, _ = w.Write(buf.Bytes())
}

// POST /api/events/import - create events from an iCalendar body
func (b *Bot) apiImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		b.jsonError(w, "Read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	now := b.svc.Events.Now()
	res, err := ics.Import(body, ics.ImportOptions{
		From:        now,
		To:          now.AddDate(0, 0, b.cfg.Import.HorizonDays),
		MaxPerEvent: b.cfg.Import.MaxPerEvent,
	})
	if err != nil {
		b.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	scope := requestScope(r)
	out := ImportResponse{Skipped: res.Skipped, Truncated: res.Truncated}
	for _, fields := range res.Events {
		if _, err := b.svc.Events.CreateEvent(r.Context(), scope, fields); err != nil {
			if !errors.Is(err, domain.ErrValidation) {
				b.storeError(w, r, err)
				return
			}
			out.Failed++
			continue
		}
		out.Imported++
	}

	b.log.Info(r.Context(), "calendar imported",
		logger.String("scope", scope.String()),
		logger.Int("imported", out.Imported),
		logger.Int("skipped", out.Skipped),
		logger.Int("failed", out.Failed),
	)
	b.jsonResponse(w, out)
}

// GET /api/profile
func (b *Bot) apiGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := b.svc.Profiles.Get(r.Context(), requestScope(r).UserID)
	if err != nil {
		b.storeError(w, r, err)
		return
	}
	b.jsonResponse(w, profile)
}

// PUT /api/profile - set city and/or weather
func (b *Bot) apiUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	userID := requestScope(r).UserID
	profile, err := b.svc.Profiles.Get(ctx, userID)
	if err != nil {
		b.storeError(w, r, err)
		return
	}

	if req.City != "" {
		if profile, err = b.svc.Profiles.SetCity(ctx, userID, req.City); err != nil {
			b.storeError(w, r, err)
			return
		}
	}
	if req.Temperature != nil || req.Condition != "" {
		weather := profile.Weather
		if req.Temperature != nil {
			weather.Temperature = *req.Temperature
		}
		if req.Condition != "" {
			weather.Condition = req.Condition
		}
		if profile, err = b.svc.Profiles.SetWeather(ctx, userID, weather); err != nil {
			b.storeError(w, r, err)
			return
		}
	}
	b.jsonResponse(w, profile)
}

func (b *Bot) decodeEvent(w http.ResponseWriter, r *http.Request) (domain.EventFields, bool) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return domain.EventFields{}, false
	}

	start, err := b.parseTime(req.Start)
	if err != nil {
		b.jsonError(w, "Invalid start: "+err.Error(), http.StatusBadRequest)
		return domain.EventFields{}, false
	}

	var end time.Time
	if req.End == "" {
		end = start.Add(time.Hour)
	} else if end, err = b.parseTime(req.End); err != nil {
		b.jsonError(w, "Invalid end: "+err.Error(), http.StatusBadRequest)
		return domain.EventFields{}, false
	}

	return domain.EventFields{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Start:       start,
		End:         end,
	}, true
}

func (b *Bot) decodeChat(w http.ResponseWriter, r *http.Request) (ChatAPIRequest, domain.Profile, bool) {
	var req ChatAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return req, domain.Profile{}, false
	}
	if strings.TrimSpace(req.Text) == "" {
		b.jsonError(w, "text is required", http.StatusBadRequest)
		return req, domain.Profile{}, false
	}

	profile, err := b.svc.Profiles.Get(r.Context(), requestScope(r).UserID)
	if err != nil {
		b.storeError(w, r, err)
		return req, domain.Profile{}, false
	}
	if req.City != "" {
		profile.City = req.City
	}
	if req.Temperature != nil {
		profile.Weather.Temperature = *req.Temperature
	}
	if req.Condition != "" {
		profile.Weather.Condition = req.Condition
	}
	return req, profile, true
}

// parseTime accepts RFC 3339, "YYYY-MM-DD HH:MM" or "YYYY-MM-DD"
func (b *Bot) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: time is required", domain.ErrValidation)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, b.cfg.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised time %q", domain.ErrValidation, s)
}

// parseBound parses a range bound; a date-only upper bound covers the whole day
func (b *Bot) parseBound(s string, upper bool) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := b.parseTime(s)
	if err != nil {
		return time.Time{}, err
	}
	if upper && len(strings.TrimSpace(s)) == len("2006-01-02") {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}
