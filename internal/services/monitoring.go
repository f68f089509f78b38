package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Publisher is the subset of *nats.Conn the monitor needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type MonitoringService struct {
	pub   Publisher
	model string
	stats StatsSource
}

type BackpressureReport struct {
	ModelName     string    `json:"model_name"`
	Waiting       uint64    `json:"pending_messages"`
	Running       int       `json:"active_processing"`
	Timestamp     time.Time `json:"timestamp"`
	QueueCapacity int       `json:"queue_capacity"`
	Status        string    `json:"status"` // healthy, warning, critical
}

func NewMonitoringService(pub Publisher, model string, stats StatsSource) *MonitoringService {
	return &MonitoringService{pub: pub, model: model, stats: stats}
}

// BackpressureSubject is where reports for model are published.
func BackpressureSubject(model string) string {
	return fmt.Sprintf("monitoring.backpressure.%s", model)
}

func (m *MonitoringService) Start(ctx context.Context) {
	slog.Info("Starting monitoring service", "topic", BackpressureSubject(m.model))

	highLoadTicker := time.NewTicker(1 * time.Second)
	lowLoadTicker := time.NewTicker(10 * time.Second)
	defer highLoadTicker.Stop()
	defer lowLoadTicker.Stop()

	highLoad := false
	for {
		var tick <-chan time.Time = lowLoadTicker.C
		if highLoad {
			tick = highLoadTicker.C
		}

		select {
		case <-ctx.Done():
			return
		case <-tick:
			report := m.Report()
			highLoad = report.Waiting > 0
			m.publish(report)
		}
	}
}

// Report builds a backpressure report from the current queue state.
func (m *MonitoringService) Report() BackpressureReport {
	stats := m.stats.Stats()
	return BackpressureReport{
		ModelName:     m.model,
		Waiting:       stats.Waiting,
		Running:       stats.Running,
		Timestamp:     time.Now(),
		QueueCapacity: stats.Capacity,
		Status:        backpressureStatus(stats),
	}
}

func (m *MonitoringService) publish(report BackpressureReport) {
	reportData, err := json.Marshal(report)
	if err != nil {
		slog.Error("Failed to marshal backpressure report", "error", err)
		return
	}
	if err := m.pub.Publish(BackpressureSubject(m.model), reportData); err != nil {
		slog.Warn("Failed to publish backpressure report", "error", err)
		return
	}
	if report.Status != "healthy" {
		slog.Info("Backpressure report",
			"pending", report.Waiting,
			"active", report.Running,
			"status", report.Status)
	}
}

// backpressureStatus is healthy when idle, critical once half the queue is
// in use and warning in between.
func backpressureStatus(s QueueStats) string {
	switch {
	case s.Waiting == 0 && s.Running == 0:
		return "healthy"
	case s.Capacity > 0 && s.Waiting*2 >= uint64(s.Capacity):
		return "critical"
	default:
		return "warning"
	}
}
