package services

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/aigoflow/crash-insight/internal/config"
	"github.com/aigoflow/crash-insight/internal/llama"
	"github.com/aigoflow/crash-insight/pkg/client"
)

// natsEndpoint accepts client connections and answers the connect handshake
// so nats.Connect succeeds. Everything else the client sends is ignored.
func natsEndpoint(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				c.Write([]byte("INFO {\"server_id\":\"test\",\"max_payload\":1048576}\r\n"))
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					if strings.HasPrefix(sc.Text(), "PING") {
						c.Write([]byte("PONG\r\n"))
					}
				}
			}(conn)
		}
	}()
	return "nats://" + ln.Addr().String()
}

func TestNATSStartClosesConnectionOnSubscribeError(t *testing.T) {
	cfg := config.Default()
	cfg.NatsURL = natsEndpoint(t)
	cfg.ModelName = "bad model"

	svc := NewInferenceService(&fakeGenerator{}, newRepo(t), 1)
	defer svc.Close()

	ns, err := NewNATSService(cfg, svc)
	if err != nil {
		t.Fatalf("NewNATSService: %v", err)
	}
	if err := ns.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with an invalid subject")
	}
	if !ns.conn.IsClosed() {
		t.Error("connection left open after Start failed")
	}
}

type blockingGenerator struct {
	hadDeadline chan bool
}

func (g *blockingGenerator) Generate(ctx context.Context, prompt string, p llama.Params) (*llama.Completion, error) {
	_, ok := ctx.Deadline()
	g.hadDeadline <- ok
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNATSHandleAppliesRequestTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.RequestTimeout = 50 * time.Millisecond

	gen := &blockingGenerator{hadDeadline: make(chan bool, 1)}
	svc := NewInferenceService(gen, newRepo(t), 1)
	defer svc.Close()
	ns := &NATSService{inference: svc, cfg: cfg}

	done := make(chan []byte, 1)
	go func() { done <- ns.handle(context.Background(), []byte(`{"prompt":"p"}`), "nats.test") }()

	select {
	case out := <-done:
		var reply client.ErrorReply
		if err := json.Unmarshal(out, &reply); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(reply.Error, "deadline") {
			t.Errorf("reply = %s", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request was not bounded by the request timeout")
	}
	select {
	case ok := <-gen.hadDeadline:
		if !ok {
			t.Error("generation ran without a deadline")
		}
	default:
		t.Error("generation never started")
	}
}
