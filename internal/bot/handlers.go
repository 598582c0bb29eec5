package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/interpreter"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

// telegramScope maps a Telegram user onto an event scope
func telegramScope(userID int64) domain.Scope {
	return domain.NewScope(strconv.FormatInt(userID, 10))
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !b.cfg.IsAllowedUser(userID) {
		b.reply(ctx, chatID, "⛔ Access denied")
		return
	}

	profile, ok := b.ensureProfile(ctx, msg.From)
	if !ok {
		b.reply(ctx, chatID, "❌ Something went wrong, please try again later")
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, profile)
		return
	}

	reply := b.svc.Router.Handle(ctx, interpreter.ChatRequest{
		Text:     text,
		Scope:    telegramScope(userID),
		Weather:  profile.Weather,
		Location: profile.City,
	})

	if reply.Scheduled != nil && reply.Scheduled.Success {
		if err := b.SendMessageWithKeyboard(chatID, reply.Text, eventKeyboard(reply.Scheduled.Event.ID)); err != nil {
			b.log.Error(ctx, "send reply", logger.Int64("chat_id", chatID), logger.Error(err))
		}
		return
	}
	b.reply(ctx, chatID, reply.Text)
}

// ensureProfile registers the chat identity of an allowed user on first contact
func (b *Bot) ensureProfile(ctx context.Context, from *tgbotapi.User) (domain.Profile, bool) {
	scope := telegramScope(from.ID)
	profile, err := b.svc.Profiles.Get(ctx, scope.UserID)
	if err != nil {
		b.log.Error(ctx, "get profile", logger.Int64("telegram_id", from.ID), logger.Error(err))
		return domain.Profile{}, false
	}
	if profile.TelegramID != 0 {
		return profile, true
	}

	name := from.FirstName
	if from.LastName != "" {
		name += " " + from.LastName
	}

	role := domain.RoleOwner
	if b.cfg.Telegram.PartnerID != 0 && from.ID == b.cfg.Telegram.PartnerID {
		role = domain.RolePartner
	}

	profile, err = b.svc.Profiles.Register(ctx, scope.UserID, from.ID, name, role)
	if err != nil {
		b.log.Error(ctx, "auto-register user", logger.Int64("telegram_id", from.ID), logger.Error(err))
		return domain.Profile{}, false
	}

	b.log.Info(ctx, "auto-registered user", logger.String("name", name), logger.Int64("telegram_id", from.ID))
	return profile, true
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	userID := callback.From.ID
	chatID := callback.Message.Chat.ID
	msgID := callback.Message.MessageID

	if !b.cfg.IsAllowedUser(userID) {
		_, _ = b.api.Request(tgbotapi.NewCallback(callback.ID, "⛔ Access denied"))
		return
	}

	action, arg, _ := strings.Cut(callback.Data, ":")

	switch action {
	case "del":
		err := b.svc.Events.DeleteEvent(ctx, telegramScope(userID), arg)
		text := "🗑 Event removed"
		if err != nil {
			text = "❌ " + err.Error()
		}
		_, _ = b.api.Request(tgbotapi.NewCallback(callback.ID, text))
		if err == nil {
			edit := tgbotapi.NewEditMessageText(chatID, msgID, callback.Message.Text+"\n\n"+text)
			_, _ = b.api.Request(edit)
		}
	default:
		_, _ = b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.log.Error(ctx, "send reply", logger.Int64("chat_id", chatID), logger.Error(err))
	}
}
