package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tazhate/weatherplanner/config"
	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/metrics"
	"github.com/tazhate/weatherplanner/internal/service"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

// reminderLookahead covers the longest popup reminder offset
const reminderLookahead = 2

type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

// EventSource is what the scheduler reads from the event store
type EventSource interface {
	Scopes(ctx context.Context) ([]domain.Scope, error)
	TodayEvents(ctx context.Context, scope domain.Scope) ([]domain.Event, error)
	UpcomingEvents(ctx context.Context, scope domain.Scope, days int) ([]domain.Event, error)
}

type ProfileSource interface {
	Get(ctx context.Context, userID string) (domain.Profile, error)
}

type Scheduler struct {
	cron     *cron.Cron
	cfg      *config.Config
	events   EventSource
	profiles ProfileSource
	sender   MessageSender
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time // reminder key -> event start
}

func New(cfg *config.Config, events EventSource, profiles ProfileSource, log logger.Logger, m *metrics.Metrics) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(cfg.Location())),
		cfg:      cfg,
		events:   events,
		profiles: profiles,
		log:      log,
		metrics:  m,
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

func (s *Scheduler) SetSender(sender MessageSender) {
	s.sender = sender
}

// Start registers the jobs and blocks until ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	briefingSpec, err := s.cfg.BriefingSpec()
	if err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(briefingSpec, func() { s.morningBriefing(ctx) }); err != nil {
		return fmt.Errorf("add morning briefing: %w", err)
	}

	if s.cfg.Scheduler.Reminders {
		if _, err := s.cron.AddFunc("* * * * *", func() { s.checkReminders(ctx) }); err != nil {
			return fmt.Errorf("add reminder check: %w", err)
		}
	}

	s.cron.Start()
	s.log.Info(ctx, "scheduler started",
		logger.String("tz", s.cfg.Location().String()),
		logger.String("briefing", s.cfg.Scheduler.BriefingTime),
		logger.Bool("reminders", s.cfg.Scheduler.Reminders),
	)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info(context.Background(), "scheduler stopped")
}

func (s *Scheduler) morningBriefing(ctx context.Context) {
	if s.sender == nil {
		return
	}

	scopes, err := s.events.Scopes(ctx)
	if err != nil {
		s.log.Error(ctx, "list scopes for briefing", logger.Error(err))
		return
	}

	for _, scope := range scopes {
		s.sendBriefingTo(ctx, scope)
	}
}

func (s *Scheduler) sendBriefingTo(ctx context.Context, scope domain.Scope) {
	profile, ok := s.chatProfile(ctx, scope)
	if !ok {
		return
	}

	events, err := s.events.TodayEvents(ctx, scope)
	if err != nil {
		s.log.Error(ctx, "get today events", logger.String("scope", scope.String()), logger.Error(err))
		return
	}

	text := "☀️ Good morning!\n\n"
	if profile.City != "" && profile.Weather.Condition != "" {
		text += fmt.Sprintf("🌤 %s: %s°C, %s\n\n", profile.City,
			strconv.FormatFloat(profile.Weather.Temperature, 'f', -1, 64), profile.Weather.Condition)
	}
	if len(events) == 0 {
		text += "No events today. Enjoy the day!"
	} else {
		text += service.FormatTodayBriefing(events, s.cfg.Location())
	}

	if err := s.sender.SendMessage(profile.TelegramID, text); err != nil {
		s.log.Error(ctx, "send morning briefing", logger.Int64("chat_id", profile.TelegramID), logger.Error(err))
	}
}

// checkReminders sends popup reminders whose trigger time has passed for
// events that have not started yet. Each event start is reminded once.
func (s *Scheduler) checkReminders(ctx context.Context) {
	if s.sender == nil {
		return
	}

	scopes, err := s.events.Scopes(ctx)
	if err != nil {
		s.log.Error(ctx, "list scopes for reminders", logger.Error(err))
		return
	}

	now := s.now()
	s.pruneSent(now)

	for _, scope := range scopes {
		events, err := s.events.UpcomingEvents(ctx, scope, reminderLookahead)
		if err != nil {
			s.log.Error(ctx, "get upcoming events", logger.String("scope", scope.String()), logger.Error(err))
			continue
		}

		for _, e := range events {
			minutes, ok := e.PopupReminder()
			if !ok {
				continue
			}
			start := e.Start.DateTime
			if now.Before(start.Add(-time.Duration(minutes)*time.Minute)) || !now.Before(start) {
				continue
			}

			key := scope.String() + "/" + e.ID + "/" + strconv.FormatInt(start.Unix(), 10)
			if s.alreadySent(key) {
				continue
			}

			profile, ok := s.chatProfile(ctx, scope)
			if !ok {
				continue
			}

			if err := s.sender.SendMessage(profile.TelegramID, service.FormatReminder(e, s.cfg.Location())); err != nil {
				s.log.Error(ctx, "send reminder",
					logger.String("id", e.ID),
					logger.Int64("chat_id", profile.TelegramID),
					logger.Error(err),
				)
				continue
			}
			s.markSent(key, start)
			s.metrics.ReminderSent()
		}
	}
}

func (s *Scheduler) chatProfile(ctx context.Context, scope domain.Scope) (domain.Profile, bool) {
	profile, err := s.profiles.Get(ctx, scope.UserID)
	if err != nil {
		s.log.Error(ctx, "get profile", logger.String("scope", scope.String()), logger.Error(err))
		return domain.Profile{}, false
	}
	return profile, profile.TelegramID != 0
}

func (s *Scheduler) alreadySent(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[key]
	return ok
}

func (s *Scheduler) markSent(key string, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[key] = start
}

func (s *Scheduler) pruneSent(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, start := range s.sent {
		if !start.After(now) {
			delete(s.sent, k)
		}
	}
}
