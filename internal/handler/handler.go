package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"slack-intake-go/internal/debounce"
	"slack-intake-go/internal/drainer"
	"slack-intake-go/internal/intake"
	metricsPkg "slack-intake-go/internal/metrics"
	"slack-intake-go/internal/queue"
	"slack-intake-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	redis     redis.UniversalClient
	service   *intake.Service
	queue     queue.Store
	drainer   *drainer.Drainer
	buffer    *debounce.Buffer
	scheduler *scheduler.Scheduler
	metrics   *metricsPkg.Metrics
}

// Deps groups the components the handlers serve. Redis may be nil.
type Deps struct {
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Service   *intake.Service
	Queue     queue.Store
	Drainer   *drainer.Drainer
	Buffer    *debounce.Buffer
	Scheduler *scheduler.Scheduler
	Metrics   *metricsPkg.Metrics
}

// NewHandlers creates new HTTP handlers
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		db:        d.DB,
		redis:     d.Redis,
		service:   d.Service,
		queue:     d.Queue,
		drainer:   d.Drainer,
		buffer:    d.Buffer,
		scheduler: d.Scheduler,
		metrics:   d.Metrics,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/slack/events", h.SlackEvents)

	api := router.Group("/api/v1")
	{
		api.GET("/queue/entries", h.GetQueueEntries)
		api.GET("/queue/entries/:id", h.GetQueueEntry)
		api.POST("/queue/entries/:id/requeue", h.RequeueEntry)

		api.POST("/intake/process", h.ProcessQueue)

		api.GET("/debounce", h.GetDebounceStatus)
		api.POST("/debounce/:key/flush", h.FlushBatch)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Redis:     "disabled",
		Metrics:   make(map[string]string),
	}

	if err := h.pingDB(ctx); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.redis != nil {
		response.Redis = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			response.Status = "error"
			response.Redis = "error"
			logrus.Errorf("Redis health check failed: %v", err)
		}
	}

	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		if next := h.scheduler.Status().NextDrain; next != nil {
			response.Metrics["next_drain"] = next.Format(time.RFC3339)
		}
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	if open, err := h.buffer.OpenBatches(ctx); err == nil {
		response.Metrics["open_batches"] = itoa(int64(len(open)))
	}
	if pending, err := h.queue.PendingCount(ctx); err == nil {
		response.Metrics["pending_entries"] = itoa(pending)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func (h *Handlers) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
