package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/metrics"
	"github.com/tazhate/weatherplanner/internal/storage"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

const (
	maxWriteAttempts = 5
	colorTagCount    = 11
	storedTimeZone   = "UTC"
)

// Syncer mirrors local changes to a remote calendar.
type Syncer interface {
	PushEvent(ctx context.Context, scope domain.Scope, e domain.Event) error
	RemoveEvent(ctx context.Context, scope domain.Scope, id string) error
}

// EventStore owns the per-scope event collections. Each collection is
// persisted as a single JSON array; every mutation rewrites the whole array.
//
// Mutations on one scope are serialized in-process, and each write is a
// compare-and-swap on the collection version so writers in other processes
// sharing the substrate cannot overwrite each other either.
type EventStore struct {
	kv      storage.KV
	log     logger.Logger
	metrics *metrics.Metrics
	syncer  Syncer
	now     func() time.Time
	loc     *time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an EventStore.
type Option func(*EventStore)

func WithLogger(l logger.Logger) Option {
	return func(s *EventStore) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *EventStore) { s.metrics = m }
}

// WithSyncer sets the remote calendar changes are pushed to.
func WithSyncer(sy Syncer) Option {
	return func(s *EventStore) { s.syncer = sy }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *EventStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone day-based queries are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *EventStore) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewEventStore creates a store over kv
func NewEventStore(kv storage.KV, opts ...Option) *EventStore {
	s := &EventStore{
		kv:    kv,
		log:   logger.Nop(),
		now:   time.Now,
		loc:   time.UTC,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the zone day-based queries use
func (s *EventStore) Location() *time.Location {
	return s.loc
}

// Now returns the store clock's current time in its location
func (s *EventStore) Now() time.Time {
	return s.now().In(s.loc)
}

// ListEvents returns events whose start lies in [from, to]. A zero bound is
// open. Results are ordered by start time.
func (s *EventStore) ListEvents(ctx context.Context, scope domain.Scope, from, to time.Time) ([]domain.Event, error) {
	started := time.Now()
	events, _, err := s.load(ctx, scope)
	s.metrics.ObserveStore("list", err, time.Since(started))
	if err != nil {
		return nil, err
	}

	result := make([]domain.Event, 0, len(events))
	for _, e := range events {
		st := e.Start.DateTime
		if !from.IsZero() && st.Before(from) {
			continue
		}
		if !to.IsZero() && st.After(to) {
			continue
		}
		result = append(result, e)
	}
	sortEvents(result)
	return result, nil
}

// GetEvent returns one event by id
func (s *EventStore) GetEvent(ctx context.Context, scope domain.Scope, id string) (domain.Event, error) {
	events, _, err := s.load(ctx, scope)
	if err != nil {
		return domain.Event{}, err
	}
	if i := indexOf(events, id); i >= 0 {
		return events[i], nil
	}
	return domain.Event{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}

// CreateEvent validates fields and appends a new event to the scope
func (s *EventStore) CreateEvent(ctx context.Context, scope domain.Scope, fields domain.EventFields) (domain.Event, error) {
	started := time.Now()
	event, err := s.createEvent(ctx, scope, fields)
	s.metrics.ObserveStore("create", err, time.Since(started))
	if err != nil {
		return domain.Event{}, err
	}

	s.log.Info(ctx, "event created",
		logger.String("scope", scope.String()),
		logger.String("id", event.ID),
		logger.String("title", event.Title),
	)
	s.push(ctx, scope, event)
	return event, nil
}

func (s *EventStore) createEvent(ctx context.Context, scope domain.Scope, fields domain.EventFields) (domain.Event, error) {
	fields, err := validate(fields)
	if err != nil {
		return domain.Event{}, err
	}

	now := s.now().UTC()
	event := domain.Event{
		ID:          newEventID(now),
		Title:       fields.Title,
		Description: fields.Description,
		Location:    fields.Location,
		Start:       domain.EventTime{DateTime: fields.Start.UTC(), TimeZone: storedTimeZone},
		End:         domain.EventTime{DateTime: fields.End.UTC(), TimeZone: storedTimeZone},
		Status:      domain.StatusConfirmed,
		ColorTag:    rand.IntN(colorTagCount) + 1,
		Reminders:   domain.DefaultReminders(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.mutate(ctx, scope, func(events []domain.Event) ([]domain.Event, error) {
		for indexOf(events, event.ID) >= 0 {
			event.ID = newEventID(now)
		}
		return append(events, event), nil
	})
	if err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// UpdateEvent replaces the mutable fields of an existing event
func (s *EventStore) UpdateEvent(ctx context.Context, scope domain.Scope, id string, fields domain.EventFields) (domain.Event, error) {
	started := time.Now()
	updated, err := s.updateEvent(ctx, scope, id, fields)
	s.metrics.ObserveStore("update", err, time.Since(started))
	if err != nil {
		return domain.Event{}, err
	}

	s.log.Info(ctx, "event updated", logger.String("scope", scope.String()), logger.String("id", id))
	s.push(ctx, scope, updated)
	return updated, nil
}

func (s *EventStore) updateEvent(ctx context.Context, scope domain.Scope, id string, fields domain.EventFields) (domain.Event, error) {
	fields, err := validate(fields)
	if err != nil {
		return domain.Event{}, err
	}

	var updated domain.Event
	err = s.mutate(ctx, scope, func(events []domain.Event) ([]domain.Event, error) {
		i := indexOf(events, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		e := events[i]
		e.Title = fields.Title
		e.Description = fields.Description
		e.Location = fields.Location
		e.Start = domain.EventTime{DateTime: fields.Start.UTC(), TimeZone: storedTimeZone}
		e.End = domain.EventTime{DateTime: fields.End.UTC(), TimeZone: storedTimeZone}
		e.UpdatedAt = s.now().UTC()
		events[i] = e
		updated = e
		return events, nil
	})
	if err != nil {
		return domain.Event{}, err
	}
	return updated, nil
}

// DeleteEvent removes one event by id
func (s *EventStore) DeleteEvent(ctx context.Context, scope domain.Scope, id string) error {
	started := time.Now()
	err := s.mutate(ctx, scope, func(events []domain.Event) ([]domain.Event, error) {
		i := indexOf(events, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return append(events[:i], events[i+1:]...), nil
	})
	s.metrics.ObserveStore("delete", err, time.Since(started))
	if err != nil {
		return err
	}

	s.log.Info(ctx, "event deleted", logger.String("scope", scope.String()), logger.String("id", id))
	s.remove(ctx, scope, id)
	return nil
}

// DeleteMatching removes every event match selects in a single write and
// returns the removed events. Nothing is written when nothing matches.
func (s *EventStore) DeleteMatching(ctx context.Context, scope domain.Scope, match func(domain.Event) bool) ([]domain.Event, error) {
	started := time.Now()
	var deleted []domain.Event
	err := s.mutate(ctx, scope, func(events []domain.Event) ([]domain.Event, error) {
		deleted = nil
		remaining := make([]domain.Event, 0, len(events))
		for _, e := range events {
			if match(e) {
				deleted = append(deleted, e)
			} else {
				remaining = append(remaining, e)
			}
		}
		if len(deleted) == 0 {
			return nil, errNoChange
		}
		return remaining, nil
	})
	if errors.Is(err, errNoChange) {
		err = nil
	}
	s.metrics.ObserveStore("delete_matching", err, time.Since(started))
	if err != nil {
		return nil, err
	}

	if len(deleted) > 0 {
		s.log.Info(ctx, "events deleted",
			logger.String("scope", scope.String()),
			logger.Int("count", len(deleted)),
		)
	}
	for _, e := range deleted {
		s.remove(ctx, scope, e.ID)
	}
	return deleted, nil
}

// UpcomingEvents returns events starting within the next days days
func (s *EventStore) UpcomingEvents(ctx context.Context, scope domain.Scope, days int) ([]domain.Event, error) {
	now := s.Now()
	return s.ListEvents(ctx, scope, now, now.AddDate(0, 0, days))
}

// TodayEvents returns events starting today
func (s *EventStore) TodayEvents(ctx context.Context, scope domain.Scope) ([]domain.Event, error) {
	return s.EventsOnDate(ctx, scope, s.Now())
}

// EventsOnDate returns events starting on the calendar day of date
func (s *EventStore) EventsOnDate(ctx context.Context, scope domain.Scope, date time.Time) ([]domain.Event, error) {
	from := domain.StartOfDay(date, s.loc)
	to := from.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return s.ListEvents(ctx, scope, from, to)
}

// SearchEvents returns events whose title, description or location contains query
func (s *EventStore) SearchEvents(ctx context.Context, scope domain.Scope, query string) ([]domain.Event, error) {
	events, err := s.ListEvents(ctx, scope, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var result []domain.Event
	for _, e := range events {
		if strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.Description), q) ||
			strings.Contains(strings.ToLower(e.Location), q) {
			result = append(result, e)
		}
	}
	return result, nil
}

// Scopes lists every scope that has a stored collection
func (s *EventStore) Scopes(ctx context.Context) ([]domain.Scope, error) {
	keys, err := s.kv.Keys(ctx, storage.EventsKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", domain.ErrStorage, err)
	}
	scopes := make([]domain.Scope, 0, len(keys))
	for _, k := range keys {
		scopes = append(scopes, domain.NewScope(strings.TrimPrefix(k, storage.EventsKeyPrefix)))
	}
	return scopes, nil
}

var errNoChange = errors.New("no change")

// mutate runs fn against the current collection and writes the result back.
// fn may run more than once when another writer wins the race.
func (s *EventStore) mutate(ctx context.Context, scope domain.Scope, fn func([]domain.Event) ([]domain.Event, error)) error {
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	key := storage.EventsKey(scope.UserID)
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		events, version, err := s.load(ctx, scope)
		if err != nil {
			return err
		}

		next, err := fn(events)
		if err != nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("%w: encode events: %v", domain.ErrStorage, err)
		}

		_, err = s.kv.Put(ctx, key, data, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			s.log.Error(ctx, "save events failed", logger.String("scope", scope.String()), logger.Error(err))
			return fmt.Errorf("%w: save events: %v", domain.ErrStorage, err)
		}

		s.metrics.StoreConflict()
		s.log.Warn(ctx, "concurrent write, retrying",
			logger.String("scope", scope.String()),
			logger.Int("attempt", attempt),
		)
		if err := backoff(ctx, attempt); err != nil {
			return fmt.Errorf("%w: save events: %v", domain.ErrStorage, err)
		}
	}
	return fmt.Errorf("%w: save events: gave up after %d conflicting writes", domain.ErrStorage, maxWriteAttempts)
}

func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt)*time.Millisecond + time.Duration(rand.Int64N(int64(time.Millisecond)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (s *EventStore) load(ctx context.Context, scope domain.Scope) ([]domain.Event, int64, error) {
	data, version, err := s.kv.Get(ctx, storage.EventsKey(scope.UserID))
	if err != nil {
		s.log.Error(ctx, "load events failed", logger.String("scope", scope.String()), logger.Error(err))
		return nil, 0, fmt.Errorf("%w: load events: %v", domain.ErrStorage, err)
	}
	if len(data) == 0 {
		return []domain.Event{}, version, nil
	}

	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, 0, fmt.Errorf("%w: decode events: %v", domain.ErrStorage, err)
	}
	return events, version, nil
}

func (s *EventStore) scopeLock(scope domain.Scope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[scope.String()]
	if !ok {
		l = &sync.Mutex{}
		s.locks[scope.String()] = l
	}
	return l
}

func (s *EventStore) push(ctx context.Context, scope domain.Scope, e domain.Event) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.PushEvent(ctx, scope, e); err != nil {
		s.metrics.SyncFailure()
		s.log.Warn(ctx, "failed to sync event to remote calendar", logger.String("id", e.ID), logger.Error(err))
	}
}

func (s *EventStore) remove(ctx context.Context, scope domain.Scope, id string) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.RemoveEvent(ctx, scope, id); err != nil {
		s.metrics.SyncFailure()
		s.log.Warn(ctx, "failed to delete event from remote calendar", logger.String("id", id), logger.Error(err))
	}
}

func validate(f domain.EventFields) (domain.EventFields, error) {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return f, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if f.Start.IsZero() || f.End.IsZero() {
		return f, fmt.Errorf("%w: start and end are required", domain.ErrValidation)
	}
	if !f.End.After(f.Start) {
		return f, fmt.Errorf("%w: end time must be after start time", domain.ErrValidation)
	}
	return f, nil
}

func newEventID(now time.Time) string {
	return fmt.Sprintf("event_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

func indexOf(events []domain.Event, id string) int {
	for i := range events {
		if events[i].ID == id {
			return i
		}
	}
	return -1
}

func sortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Start.DateTime, events[j].Start.DateTime
		if a.Equal(b) {
			return events[i].ID < events[j].ID
		}
		return a.Before(b)
	})
}
