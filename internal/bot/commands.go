package bot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/ics"
	"github.com/tazhate/weatherplanner/internal/service"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, profile domain.Profile) {
	chatID := msg.Chat.ID
	scope := telegramScope(msg.From.ID)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.reply(ctx, chatID, fmt.Sprintf("👋 Hi, %s!\n\nI plan activities around the weather in %s.\n\n/help — list of commands", profile.Name, profile.City))
	case "help":
		b.cmdHelp(ctx, chatID)
	case "today":
		b.cmdToday(ctx, chatID, scope)
	case "week":
		b.cmdWeek(ctx, chatID, scope)
	case "city":
		b.cmdCity(ctx, chatID, scope, args)
	case "weather":
		b.cmdWeather(ctx, chatID, scope, args)
	case "export":
		b.cmdExport(ctx, chatID, scope)
	default:
		b.reply(ctx, chatID, "Unknown command. /help for the list of commands")
	}
}

func (b *Bot) cmdHelp(ctx context.Context, chatID int64) {
	text := `Commands:

Calendar
/today — today's events
/week — events in the next 7 days
/export — download your calendar (.ics)

Context
/city Paris — set your city
/weather 18 light rain — set current weather

Just write to me:
• "schedule a run tomorrow morning"
• "book gym at 7pm for 2 hours"
• "cancel picnic" or "delete all events today"`

	b.reply(ctx, chatID, text)
}

func (b *Bot) cmdToday(ctx context.Context, chatID int64, scope domain.Scope) {
	events, err := b.svc.Events.TodayEvents(ctx, scope)
	if err != nil {
		b.reply(ctx, chatID, "❌ Error: "+err.Error())
		return
	}
	if len(events) == 0 {
		b.reply(ctx, chatID, "📅 Nothing planned for today")
		return
	}
	b.reply(ctx, chatID, service.FormatTodayBriefing(events, b.cfg.Location()))
}

func (b *Bot) cmdWeek(ctx context.Context, chatID int64, scope domain.Scope) {
	events, err := b.svc.Events.UpcomingEvents(ctx, scope, 7)
	if err != nil {
		b.reply(ctx, chatID, "❌ Error: "+err.Error())
		return
	}
	b.reply(ctx, chatID, "🗓 Next 7 days\n\n"+service.FormatEventList(events, b.cfg.Location()))
}

func (b *Bot) cmdCity(ctx context.Context, chatID int64, scope domain.Scope, args string) {
	if args == "" {
		b.reply(ctx, chatID, "Tell me the city: /city Paris")
		return
	}
	profile, err := b.svc.Profiles.SetCity(ctx, scope.UserID, args)
	if err != nil {
		b.reply(ctx, chatID, "❌ Error: "+err.Error())
		return
	}
	b.reply(ctx, chatID, "📍 City set to "+profile.City)
}

func (b *Bot) cmdWeather(ctx context.Context, chatID int64, scope domain.Scope, args string) {
	w, err := parseWeatherArgs(args)
	if err != nil {
		b.reply(ctx, chatID, "Usage: /weather 18 light rain")
		return
	}
	profile, err := b.svc.Profiles.SetWeather(ctx, scope.UserID, w)
	if err != nil {
		b.reply(ctx, chatID, "❌ Error: "+err.Error())
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("🌤 Weather in %s: %s°C, %s",
		profile.City, strconv.FormatFloat(profile.Weather.Temperature, 'f', -1, 64), profile.Weather.Condition))
}

func (b *Bot) cmdExport(ctx context.Context, chatID int64, scope domain.Scope) {
	events, err := b.svc.Events.ListEvents(ctx, scope, b.svc.Events.Now(), time.Time{})
	if err != nil {
		b.reply(ctx, chatID, "❌ Error: "+err.Error())
		return
	}
	if len(events) == 0 {
		b.reply(ctx, chatID, "📭 No upcoming events to export")
		return
	}

	var buf bytes.Buffer
	if err := ics.Encode(&buf, events, b.svc.Events.Now()); err != nil {
		b.reply(ctx, chatID, "❌ Error: "+err.Error())
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: "calendar.ics", Bytes: buf.Bytes()})
	doc.Caption = fmt.Sprintf("📤 %d upcoming events", len(events))
	if _, err := b.api.Send(doc); err != nil {
		b.log.Error(ctx, "send export", logger.Int64("chat_id", chatID), logger.Error(err))
	}
}

// parseWeatherArgs reads "<temperature> <condition...>"
func parseWeatherArgs(args string) (domain.Weather, error) {
	tempStr, condition, ok := strings.Cut(strings.TrimSpace(args), " ")
	if !ok || strings.TrimSpace(condition) == "" {
		return domain.Weather{}, fmt.Errorf("%w: expected temperature and condition", domain.ErrValidation)
	}
	temp, err := strconv.ParseFloat(strings.TrimSuffix(tempStr, "°C"), 64)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("%w: temperature %q", domain.ErrValidation, tempStr)
	}
	return domain.Weather{Temperature: temp, Condition: strings.TrimSpace(condition)}, nil
}
