package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tazhate/weatherplanner/config"
	"github.com/tazhate/weatherplanner/internal/bot"
	"github.com/tazhate/weatherplanner/internal/clients/caldav"
	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/interpreter"
	"github.com/tazhate/weatherplanner/internal/metrics"
	"github.com/tazhate/weatherplanner/internal/scheduler"
	"github.com/tazhate/weatherplanner/internal/service"
	"github.com/tazhate/weatherplanner/internal/storage"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Named("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log); err != nil {
		log.Error(ctx, "weatherplanner failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log logger.Logger) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}

	kv, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.Metrics.Namespace, reg)

	storeOpts := []service.Option{
		service.WithLogger(logger.Named("events")),
		service.WithMetrics(m),
		service.WithLocation(cfg.Location()),
	}
	if cfg.CalDAVEnabled() {
		client := caldav.NewClient(cfg.CalDAV, logger.Named("caldav"))
		if _, err := client.ResolveCalendar(ctx); err != nil {
			log.Warn(ctx, "caldav sync disabled", logger.Error(err))
		} else {
			storeOpts = append(storeOpts, service.WithSyncer(client))
		}
	}
	events := service.NewEventStore(kv, storeOpts...)

	profiles := service.NewProfileService(kv, domain.Profile{
		City: cfg.Defaults.City,
		Weather: domain.Weather{
			Temperature: cfg.Defaults.Temperature,
			Condition:   cfg.Defaults.Condition,
		},
	})

	interpOpts := []interpreter.Option{
		interpreter.WithLogger(logger.Named("interpreter")),
		interpreter.WithMetrics(m),
		interpreter.WithLocation(cfg.Location()),
	}
	activityScheduler := interpreter.NewScheduler(events, interpOpts...)
	deleter := interpreter.NewDeleter(events, interpOpts...)

	tgBot, err := bot.New(cfg, bot.Services{
		Events:    events,
		Profiles:  profiles,
		Router:    interpreter.NewRouter(activityScheduler, deleter, interpOpts...),
		Scheduler: activityScheduler,
		Deleter:   deleter,
	}, logger.Named("bot"), m, reg)
	if err != nil {
		return fmt.Errorf("init bot: %w", err)
	}

	if err := tgBot.SetupWebhook(); err != nil {
		return fmt.Errorf("setup webhook: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.TelegramEnabled() {
		sched = scheduler.New(cfg, events, profiles, logger.Named("scheduler"), m)
		sched.SetSender(tgBot)
		go func() {
			if err := sched.Start(ctx); err != nil {
				log.Error(ctx, "scheduler error", logger.Error(err))
			}
		}()
	}

	go func() {
		if err := tgBot.Start(ctx); err != nil {
			log.Error(ctx, "bot error", logger.Error(err))
		}
	}()

	log.Info(ctx, "weatherplanner started",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("timezone", cfg.Timezone),
		logger.Bool("telegram", cfg.TelegramEnabled()),
	)

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := tgBot.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "stop bot", logger.Error(err))
	}

	log.Info(shutdownCtx, "weatherplanner stopped")
	return nil
}
