package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/crash-insight/internal/config"
	"github.com/aigoflow/crash-insight/pkg/client"
)

// HeartbeatInterval is how often the server announces itself.
const HeartbeatInterval = 30 * time.Second

// StatsSource reports the model queue state.
type StatsSource interface {
	Stats() QueueStats
}

// HealthStatus is both the health reply and the heartbeat payload.
type HealthStatus struct {
	ModelName    string    `json:"model_name"`
	Status       string    `json:"status"` // online, busy
	LastActivity time.Time `json:"last_activity"`
	Capabilities []string  `json:"capabilities"`
	Endpoint     string    `json:"endpoint"`
	NATSTopic    string    `json:"nats_topic"`
	QueueDepth   uint64    `json:"queue_depth"`
	Uptime       string    `json:"uptime"`
}

func HealthSubject(model string) string {
	return fmt.Sprintf("models.%s.health", model)
}

func HeartbeatSubject(model string) string {
	return fmt.Sprintf("models.%s.heartbeat", model)
}

// HealthService answers health probes and publishes heartbeats so clients
// can discover a running model server.
type HealthService struct {
	conn    *nats.Conn
	cfg     *config.Config
	stats   StatsSource
	started time.Time
}

func NewHealthService(conn *nats.Conn, cfg *config.Config, stats StatsSource) *HealthService {
	return &HealthService{conn: conn, cfg: cfg, stats: stats, started: time.Now()}
}

// Start subscribes to the health subject and begins heartbeats; both stop
// with ctx.
func (h *HealthService) Start(ctx context.Context) error {
	subject := HealthSubject(h.cfg.ModelName)
	if _, err := h.conn.Subscribe(subject, h.respond); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	slog.Info("Health service started", "topic", subject, "heartbeat", HeartbeatSubject(h.cfg.ModelName))

	go h.heartbeat(ctx)
	return nil
}

func (h *HealthService) respond(msg *nats.Msg) {
	data, err := json.Marshal(h.Status())
	if err != nil {
		slog.Error("Failed to marshal health status", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("Failed to answer health probe", "error", err)
	}
}

func (h *HealthService) heartbeat(ctx context.Context) {
	subject := HeartbeatSubject(h.cfg.ModelName)
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		data, err := json.Marshal(h.Status())
		if err != nil {
			continue
		}
		if err := h.conn.Publish(subject, data); err != nil {
			slog.Warn("Failed to publish heartbeat", "error", err)
		}
	}
}

// Status is the current health snapshot. The server reports busy while a
// generation is running.
func (h *HealthService) Status() HealthStatus {
	q := h.stats.Stats()
	st := HealthStatus{
		ModelName:    h.cfg.ModelName,
		Status:       "online",
		LastActivity: time.Now(),
		Capabilities: []string{"text-generation"},
		Endpoint:     "http://localhost" + h.cfg.HTTPAddr,
		NATSTopic:    client.SubjectFor(h.cfg.ModelName),
		QueueDepth:   q.Waiting,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
	}
	if q.Running > 0 {
		st.Status = "busy"
	}
	return st
}
