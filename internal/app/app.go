package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"slack-intake-go/internal/classify"
	"slack-intake-go/internal/config"
	"slack-intake-go/internal/db"
	"slack-intake-go/internal/debounce"
	"slack-intake-go/internal/dedup"
	"slack-intake-go/internal/drainer"
	"slack-intake-go/internal/handler"
	"slack-intake-go/internal/id"
	"slack-intake-go/internal/intake"
	"slack-intake-go/internal/metrics"
	"slack-intake-go/internal/queue"
	"slack-intake-go/internal/retention"
	"slack-intake-go/internal/router"
	"slack-intake-go/internal/scheduler"
	"slack-intake-go/internal/signature"
)

// components is the wired service graph
type components struct {
	cfg       *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	metrics   *metrics.Metrics
	queue     queue.Store
	buffer    *debounce.Buffer
	service   *intake.Service
	drainer   *drainer.Drainer
	scheduler *scheduler.Scheduler
}

// Run initializes and starts the application
func Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logrus.Info("Starting Slack intake service")

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	c, err := build(baseCtx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	h := handler.NewHandlers(handler.Deps{
		DB:        c.db,
		Redis:     c.redis,
		Service:   c.service,
		Queue:     c.queue,
		Drainer:   c.drainer,
		Buffer:    c.buffer,
		Scheduler: c.scheduler,
		Metrics:   c.metrics,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := c.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	tickCtx, stopTicker := context.WithCancel(baseCtx)
	go c.buffer.Run(tickCtx, cfg.Debounce.TickInterval)

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	stopTicker()
	if cfg.Debounce.Store == "memory" {
		// open batches live only in this process
		flushOpen(ctx, c.buffer)
	}
	c.buffer.Wait()

	if c.scheduler.IsRunning() {
		if err := c.scheduler.Stop(); err != nil {
			logrus.Errorf("Failed to stop scheduler: %v", err)
		}
	}
	c.scheduler.Wait()

	logrus.Info("Server stopped gracefully")
	return nil
}

// RunDrainOnce drains the queue once and exits. It serves cron style
// deployments where no long running scheduler is wanted.
func RunDrainOnce() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	res, err := c.drainer.DrainOnce(ctx)
	if err != nil {
		return fmt.Errorf("drain failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"claimed":   res.Claimed,
		"succeeded": res.Succeeded,
		"retried":   res.Retried,
		"failed":    res.Failed,
		"deferred":  res.Deferred,
	}).Info("Drain completed")
	return nil
}

func loadConfig() (*config.Config, error) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Slack.BypassVerify {
		logrus.Warn("Slack signature verification is bypassed")
	}
	return cfg, nil
}

func build(ctx context.Context, cfg *config.Config) (*components, error) {
	if err := id.Init(cfg.NodeID); err != nil {
		return nil, fmt.Errorf("failed to initialize id generator: %w", err)
	}

	conn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c := &components{
		cfg:     cfg,
		db:      conn,
		metrics: metrics.NewMetrics(prometheus.DefaultRegisterer),
	}

	if cfg.Redis.Enabled {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logrus.WithField("addr", cfg.Redis.Addr).Info("Redis connected")
	}

	var dedupStore dedup.Store = dedup.NewGormStore(conn)
	if c.redis != nil {
		dedupStore = dedup.NewRedisStore(c.redis, cfg.Retention.DedupHorizon)
	}

	c.queue = queue.NewGormStore(conn, cfg.Queue.LockTimeout)

	classifier := newClassifier(cfg.Classifier)

	var batchStore debounce.BatchStore = debounce.NewMemoryStore()
	if cfg.Debounce.Store == "redis" {
		batchStore = debounce.NewRedisStore(c.redis)
	}
	sink := intake.NewFlushSink(classifier, c.queue, cfg.Classifier.ConfidenceMin, c.metrics,
		intake.WithDedupRelease(dedupStore),
	)
	c.buffer = debounce.NewBuffer(batchStore, sink, cfg.Debounce.Window(),
		debounce.WithMetrics(c.metrics),
		debounce.WithBaseContext(ctx),
	)

	verifier := signature.NewVerifier(cfg.Slack.SigningSecret,
		signature.WithMaxSkew(cfg.Slack.MaxSkew()),
		signature.WithBypass(cfg.Slack.BypassVerify),
	)
	c.service = intake.NewService(verifier, dedupStore, c.buffer, c.metrics)

	processor := intake.NewProcessor(classifier, intake.NewGormIngestor(conn), cfg.Classifier.ConfidenceMin, c.metrics)
	c.drainer = drainer.New(c.queue, processor, cfg.Queue.BatchSize, cfg.Queue.MaxRetries, c.metrics)

	var sweeper scheduler.Sweeper
	if cfg.Retention.Enabled {
		sweeper = retention.NewSweeper(dedupStore, c.queue, cfg.Retention.DedupHorizon, cfg.Retention.ProcessedHorizon, c.metrics)
	}
	c.scheduler = scheduler.NewScheduler(&cfg.Scheduler, c.drainer, sweeper)

	logrus.WithFields(logrus.Fields{
		"debounce_store": cfg.Debounce.Store,
		"window":         cfg.Debounce.Window(),
		"classifier":     cfg.Classifier.Enabled,
		"redis":          cfg.Redis.Enabled,
		"retention":      cfg.Retention.Enabled,
	}).Info("Components initialized")
	return c, nil
}

func newClassifier(cfg config.ClassifierConfig) classify.Classifier {
	if !cfg.Enabled {
		logrus.Warn("Classifier disabled, every batch will be ignored")
		return classify.Disabled{}
	}
	return classify.WithPrefilter(classify.NewOpenAIClassifier(classify.OpenAIConfig{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout,
		Timezone: cfg.Timezone,
	}))
}

func flushOpen(ctx context.Context, b *debounce.Buffer) {
	open, err := b.OpenBatches(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list open batches on shutdown")
		return
	}
	for _, p := range open {
		if _, err := b.Flush(ctx, p.Key); err != nil {
			logrus.WithError(err).WithField("conversation", p.Key).Error("Failed to flush batch on shutdown")
		}
	}
	if len(open) > 0 {
		logrus.Infof("Flushed %d open batches on shutdown", len(open))
	}
}

func (c *components) close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logrus.Errorf("Failed to close redis: %v", err)
		}
	}
	if sqlDB, err := c.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}
}
