package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tazhate/weatherplanner/config"
	"github.com/tazhate/weatherplanner/internal/interpreter"
	"github.com/tazhate/weatherplanner/internal/metrics"
	"github.com/tazhate/weatherplanner/internal/service"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

const webhookPath = "/bot"

// ErrTelegramDisabled is returned when sending without a bot token
var ErrTelegramDisabled = errors.New("telegram is not configured")

// Services are the planner components the chat and the API drive
type Services struct {
	Events    *service.EventStore
	Profiles  *service.ProfileService
	Router    *interpreter.Router
	Scheduler *interpreter.Scheduler
	Deleter   *interpreter.Deleter
}

type Bot struct {
	api      *tgbotapi.BotAPI // nil when Telegram is disabled
	cfg      *config.Config
	svc      Services
	log      logger.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	server   *http.Server
	updates  chan tgbotapi.Update
}

func New(cfg *config.Config, svc Services, log logger.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) (*Bot, error) {
	if log == nil {
		log = logger.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	bot := &Bot{
		cfg:      cfg,
		svc:      svc,
		log:      log,
		metrics:  m,
		gatherer: gatherer,
		updates:  make(chan tgbotapi.Update, 100),
	}

	if !cfg.TelegramEnabled() {
		log.Warn(context.Background(), "telegram token not set, chat bot disabled")
		return bot, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	bot.api = api

	log.Info(context.Background(), "telegram authorized", logger.String("username", api.Self.UserName))

	// Set bot commands (menu button)
	bot.setCommands()

	return bot, nil
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "today", Description: "📅 Today's events"},
		{Command: "week", Description: "🗓 Next 7 days"},
		{Command: "city", Description: "📍 Set your city"},
		{Command: "weather", Description: "🌤 Set current weather"},
		{Command: "export", Description: "📤 Export calendar (.ics)"},
		{Command: "help", Description: "❓ Help"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Warn(context.Background(), "failed to set commands", logger.Error(err))
	}
}

func (b *Bot) SetupWebhook() error {
	if b.api == nil {
		return nil
	}

	webhookURL := b.cfg.Telegram.WebhookURL + webhookPath

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	_, err = b.api.Request(wh)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("get webhook info: %w", err)
	}

	if info.LastErrorDate != 0 {
		b.log.Warn(context.Background(), "webhook last error", logger.String("message", info.LastErrorMessage))
	}

	b.log.Info(context.Background(), "webhook set", logger.String("url", webhookURL))
	return nil
}

// Handler returns the HTTP surface: health, metrics, the REST API and the
// Telegram webhook when enabled.
func (b *Bot) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(b.gatherer, promhttp.HandlerOpts{}))

	b.SetupAPI(mux)

	if b.api != nil {
		mux.HandleFunc("POST "+webhookPath, b.webhook)
	}
	return mux
}

func (b *Bot) webhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.log.Warn(r.Context(), "bad webhook update", logger.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.updates <- *update
}

func (b *Bot) Start(ctx context.Context) error {
	b.server = &http.Server{
		Addr:              b.cfg.API.Addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		b.log.Info(ctx, "starting http server", logger.String("addr", b.cfg.API.Addr))
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Error(ctx, "http server error", logger.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-b.updates:
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) Stop(ctx context.Context) error {
	if b.server != nil {
		return b.server.Shutdown(ctx)
	}
	return nil
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	if b.api == nil {
		return ErrTelegramDisabled
	}
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	if b.api == nil {
		return ErrTelegramDisabled
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}
