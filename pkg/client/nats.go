package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
)

// SubjectFor is the request subject the model server listens on.
func SubjectFor(model string) string {
	return fmt.Sprintf("inference.request.%s", model)
}

// NATSClient sends prompts to the model server over NATS request/reply.
type NATSClient struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	owned   bool
}

// NewNATSClient connects to natsURL and targets the server for model.
func NewNATSClient(natsURL, model string, timeout time.Duration) (*NATSClient, error) {
	conn, err := nats.Connect(natsURL, nats.Name("crashinsight-client"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c := NewNATSClientWithConn(conn, model, timeout)
	c.owned = true
	return c, nil
}

// NewNATSClientWithConn reuses an existing connection; Close leaves it open.
func NewNATSClientWithConn(conn *nats.Conn, model string, timeout time.Duration) *NATSClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &NATSClient{
		conn:    conn,
		subject: SubjectFor(model),
		timeout: timeout,
	}
}

func (c *NATSClient) Infer(ctx context.Context, prompt string, opts Options) (*InferenceResponse, error) {
	req := InferRequest{
		ReqID:  ulid.Make().String(),
		Prompt: prompt,
	}
	if opts.MaxOutputTokens > 0 || len(opts.StopSequences) > 0 {
		o := opts
		req.Options = &o
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slog.Debug("Sending inference request", "subject", c.subject, "req_id", req.ReqID)

	msg, err := c.conn.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		return nil, unavailable(c.subject, 0, err)
	}
	if !gjson.ValidBytes(msg.Data) {
		return nil, unavailable(c.subject, 0, fmt.Errorf("malformed response body"))
	}
	if e := gjson.GetBytes(msg.Data, "error"); e.Exists() {
		return nil, unavailable(c.subject, 0, fmt.Errorf("%s", e.String()))
	}

	resp := extract(msg.Data, "response")
	if resp.ReqID == "" {
		resp.ReqID = req.ReqID
	}
	return resp, nil
}

func (c *NATSClient) Close() error {
	if c.owned && c.conn != nil {
		c.conn.Close()
	}
	return nil
}
