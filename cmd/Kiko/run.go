package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BTreeMap/Kiko/internal/alert"
	"github.com/BTreeMap/Kiko/internal/api"
	"github.com/BTreeMap/Kiko/internal/chat"
	"github.com/BTreeMap/Kiko/internal/directory"
	"github.com/BTreeMap/Kiko/internal/genai"
	"github.com/BTreeMap/Kiko/internal/guard"
	"github.com/BTreeMap/Kiko/internal/intent"
	"github.com/BTreeMap/Kiko/internal/lockfile"
	"github.com/BTreeMap/Kiko/internal/messaging"
	"github.com/BTreeMap/Kiko/internal/metrics"
	"github.com/BTreeMap/Kiko/internal/pipeline"
	"github.com/BTreeMap/Kiko/internal/ratelimit"
	"github.com/BTreeMap/Kiko/internal/scheduler"
	"github.com/BTreeMap/Kiko/internal/store"
	"github.com/BTreeMap/Kiko/internal/twiliowhatsapp"
	"github.com/BTreeMap/Kiko/internal/whatsapp"
)

const (
	// dedupRetention is how long inbound message IDs are remembered.
	dedupRetention = 7 * 24 * time.Hour

	dedupPurgeSchedule    = "@hourly"
	outboxRequeueSchedule = "@every 10m"
)

var errTwilioWebhookURL = errors.New("TWILIO_WEBHOOK_URL is required to verify Twilio webhooks (set TWILIO_WEBHOOK_INSECURE=true to skip verification)")

// channel is one running messaging channel.
type channel struct {
	name    string
	service messaging.Service
	handler *messaging.ResponseHandler
	close   func()
}

// loadDirectory builds the roster, optionally from a watched YAML file.
func loadDirectory(ctx context.Context, path string, logger *slog.Logger) (*directory.Directory, error) {
	dir := directory.New(nil)
	if path == "" {
		return dir, nil
	}
	data, err := directory.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory file: %w", err)
	}
	dir.Replace(data)
	if err := dir.Watch(ctx, path, logger); err != nil {
		logger.Warn("loadDirectory: hot reload disabled", "path", path, "error", err)
	}
	return dir, nil
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.ApplicationDBDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var states store.StateStore = st
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisStateStore(ctx, cfg.RedisURL, cfg.StateTTL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rs.Close()
		states = rs
		logger.Info("run: conversation state in redis", "ttl", cfg.StateTTL)
	}

	dir, err := loadDirectory(ctx, cfg.DirectoryFile, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	limiter := ratelimit.New(
		ratelimit.WithPerMinute(cfg.RateLimitPerMinute),
		ratelimit.WithPerDay(cfg.RateLimitPerDay),
		ratelimit.WithLogger(logger),
	)

	alertOpts := []alert.Option{alert.WithLogStore(st), alert.WithLogger(logger)}
	if cfg.AlertWebhookURL != "" {
		alertOpts = append(alertOpts, alert.WithSender(alert.NewWebhookSender(cfg.AlertWebhookURL, cfg.AlertWebhookSecret)))
	}
	alerts := alert.NewManager(alertOpts...)
	go alerts.Run(ctx)
	defer alerts.Wait()

	moderator := guard.NewContentModerator(guard.WithCrisisSource(dir), guard.WithModeratorLogger(logger))
	screener := pipeline.New(limiter,
		pipeline.WithSink(alerts),
		pipeline.WithModerator(moderator),
		pipeline.WithMaxInputLength(cfg.MaxInputLength),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(logger),
	)
	engine := intent.NewEngine(dir, intent.WithRecorder(st), intent.WithRedactor(screener), intent.WithLogger(logger))

	chatOpts := []chat.Option{chat.WithHistory(st), chat.WithMetrics(m), chat.WithLogger(logger)}
	if cfg.LLMEnabled {
		llm, err := genai.NewClient(append(buildGenAIOptions(cfg), genai.WithMetrics(m), genai.WithLogger(logger))...)
		if err != nil {
			return fmt.Errorf("failed to create model client: %w", err)
		}
		chatOpts = append(chatOpts, chat.WithLLM(llm))
	}
	chatSvc := chat.NewService(screener, engine, states, chatOpts...)

	edge := api.NewEdgeLimiter(cfg.EdgeQPS, cfg.EdgeBurst, logger)
	go edge.Run(ctx)

	apiOpts := []api.Option{
		api.WithAddr(cfg.APIAddr),
		api.WithVersion(version),
		api.WithAppointments(st),
		api.WithSecurityLog(st),
		api.WithUsage(limiter),
		api.WithGatherer(reg),
		api.WithEdgeLimiter(edge),
		api.WithAdminToken(cfg.AdminToken),
		api.WithTrustProxy(cfg.TrustProxy),
		api.WithLogger(logger),
	}
	if cfg.AdminToken == "" {
		logger.Info("run: KIKO_ADMIN_TOKEN not set, admin endpoints disabled")
	}

	channels, err := startChannels(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, ch := range channels {
			ch.service.Stop()
			if ch.handler != nil {
				ch.handler.Wait()
			}
			if ch.close != nil {
				ch.close()
			}
		}
	}()

	services := make(map[string]messaging.Service, len(channels))
	for _, ch := range channels {
		if tsvc, ok := ch.service.(*messaging.TwilioService); ok {
			apiOpts = append(apiOpts, api.WithTwilioWebhook(http.HandlerFunc(tsvc.TwilioWebhookHandler)))
		}
		ch.handler = messaging.NewResponseHandler(ch.service, chatSvc,
			messaging.WithChannel(ch.name),
			messaging.WithDedup(st),
			messaging.WithOutbox(st),
		)
		if err := ch.service.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s channel: %w", ch.name, err)
		}
		ch.handler.Start(ctx)
		services[ch.name] = ch.service
	}

	if len(services) > 0 {
		sender := store.NewOutboxSender(st, messaging.OutboxSendFunc(services), store.WithSenderLogger(logger))
		if err := sender.RecoverStaleMessages(ctx); err != nil {
			logger.Warn("run: failed to recover stale outbox messages", "error", err)
		}
		go sender.Run(ctx)

		sched := scheduler.NewScheduler(logger)
		defer sched.Stop()
		if err := scheduleHousekeeping(sched, st, sender); err != nil {
			return err
		}
	}

	server := api.NewServer(chatSvc, dir, apiOpts...)
	logger.Info("run: Kiko ready", "channels", len(services), "llm", cfg.LLMEnabled)
	if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// startChannels connects the configured messaging channels.
func startChannels(ctx context.Context, cfg Config, logger *slog.Logger) ([]*channel, error) {
	var channels []*channel

	if cfg.WhatsAppEnabled {
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDBDSN), whatsapp.WithLogLevel(cfg.LogLevel)}
		if cfg.WhatsAppQRPath != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.WhatsAppQRPath))
		}
		if cfg.WhatsAppNumeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		wa, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		channels = append(channels, &channel{name: "whatsapp", service: messaging.NewWhatsAppService(wa), close: wa.Close})
	}

	if cfg.TwilioAccountSID != "" {
		tw, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		switch {
		case cfg.TwilioWebhookURL != "":
			opts = append(opts, messaging.WithSignatureValidator(twiliowhatsapp.NewWebhookValidator(cfg.TwilioAuthToken, cfg.TwilioWebhookURL)))
		case cfg.TwilioInsecure:
			opts = append(opts, messaging.WithInsecureWebhook())
			logger.Warn("startChannels: TWILIO_WEBHOOK_INSECURE set, webhook signatures are not verified")
		default:
			return nil, errTwilioWebhookURL
		}
		channels = append(channels, &channel{name: "twilio", service: messaging.NewTwilioService(tw, opts...)})
	}
	return channels, nil
}

// scheduleHousekeeping registers the periodic store maintenance jobs.
func scheduleHousekeeping(sched *scheduler.Scheduler, repo store.DedupRepo, sender *store.OutboxSender) error {
	if err := sched.AddJob("dedup-purge", dedupPurgeSchedule, func(ctx context.Context) error {
		_, err := repo.PurgeDedupBefore(ctx, time.Now().Add(-dedupRetention))
		return err
	}); err != nil {
		return err
	}
	return sched.AddJob("outbox-requeue", outboxRequeueSchedule, sender.RecoverStaleMessages)
}
