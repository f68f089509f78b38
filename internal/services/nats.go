package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/crash-insight/internal/config"
	"github.com/aigoflow/crash-insight/pkg/client"
)

// NATSService answers inference requests on inference.request.<model> with
// the same JSON bodies the HTTP /infer endpoint returns.
type NATSService struct {
	conn       *nats.Conn
	inference  *InferenceService
	cfg        *config.Config
	monitoring *MonitoringService
	health     *HealthService
}

func NewNATSService(cfg *config.Config, inference *InferenceService) (*NATSService, error) {
	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name("llmserver-"+cfg.ModelName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSService{
		conn:       conn,
		inference:  inference,
		cfg:        cfg,
		monitoring: NewMonitoringService(conn, cfg.ModelName, inference),
		health:     NewHealthService(conn, cfg, inference),
	}, nil
}

// Start subscribes and blocks until ctx is cancelled. The connection is
// closed when Start returns, on error as well as on shutdown.
func (s *NATSService) Start(ctx context.Context) error {
	subject := client.SubjectFor(s.cfg.ModelName)
	sub, err := s.conn.QueueSubscribe(subject, s.cfg.QueueGroup, func(msg *nats.Msg) {
		// handled off the subscription goroutine so the model queue, not
		// the NATS dispatcher, decides what waits
		go s.processInferenceMessage(ctx, msg)
	})
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	if err := s.health.Start(ctx); err != nil {
		sub.Unsubscribe()
		s.conn.Close()
		return err
	}
	go s.monitoring.Start(ctx)

	slog.Info("NATS service starting", "subject", subject, "queue_group", s.cfg.QueueGroup)

	<-ctx.Done()
	slog.Info("NATS service shutting down")

	if err := s.conn.Drain(); err != nil {
		slog.Warn("NATS drain failed", "error", err)
		s.conn.Close()
	}
	return nil
}

func (s *NATSService) processInferenceMessage(ctx context.Context, msg *nats.Msg) {
	if msg.Reply == "" {
		slog.Warn("Dropping inference request without reply subject", "subject", msg.Subject)
		return
	}

	data := s.handle(ctx, msg.Data, "nats."+msg.Subject)
	if err := msg.Respond(data); err != nil {
		slog.Error("Failed to publish response", "reply_subject", msg.Reply, "error", err)
	}
}

// handle turns a request payload into a reply payload. Generation is bounded
// by the request timeout so an abandoned request does not hold the model.
func (s *NATSService) handle(ctx context.Context, data []byte, source string) []byte {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	req, err := DecodeInferRequest(data)
	if err != nil {
		slog.Warn("Rejected NATS inference request", "source", source, "error", err)
		return errorBody(err)
	}

	resp, err := s.inference.ProcessInference(ctx, req, source)
	if err != nil {
		return errorBody(err)
	}
	out, err := json.Marshal(resp.Reply())
	if err != nil {
		return errorBody(err)
	}
	return out
}

func errorBody(err error) []byte {
	msg := err.Error()
	if errors.Is(err, ErrQueueFull) {
		msg = ErrQueueFull.Error()
	}
	out, _ := json.Marshal(client.ErrorReply{Error: msg})
	return out
}
