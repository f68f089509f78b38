package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/aigoflow/crash-insight/internal/assistant"
	"github.com/aigoflow/crash-insight/internal/config"
	"github.com/aigoflow/crash-insight/internal/dataset"
	"github.com/aigoflow/crash-insight/internal/services"
	"github.com/aigoflow/crash-insight/internal/ui"
)

var (
	envFile    string
	configFile string
)

func main() {
	root := &cobra.Command{
		Use:           "crashinsight",
		Short:         "Browse crash records and ask the safety model about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "Optional .env file to load")
	root.PersistentFlags().StringVar(&configFile, "config", "", "Optional YAML config file")

	root.AddCommand(serveCmd(), summarizeCmd(), chatCmd(), rowsCmd(), monitorCmd())

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the JSON logger. Logs go to
// stderr so command output on stdout stays clean.
func setup() (*config.Config, error) {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			store, err := dataset.Load(cfg.DatasetPath, cfg.DatasetLimit)
			if err != nil {
				return err
			}
			a, err := assistant.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			slog.Info("Crash Insight starting",
				"ui_addr", cfg.UIAddr,
				"dataset", cfg.DatasetPath,
				"rows", store.Len(),
				"backend", cfg.BackendKind,
				"backend_url", cfg.BackendURL)

			return ui.NewServer(cfg.UIAddr, store, a).Start(ctx)
		},
	}
}

func summarizeCmd() *cobra.Command {
	var row int
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize one crash record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			store, err := dataset.Load(cfg.DatasetPath, cfg.DatasetLimit)
			if err != nil {
				return err
			}
			rec, err := store.Row(row)
			if err != nil {
				return err
			}
			a, err := assistant.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), a.Summarize(cmd.Context(), rec))
			return nil
		},
	}
	cmd.Flags().IntVar(&row, "row", 0, "Zero-based row index")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat TEXT",
		Short: "Send one chat message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			a, err := assistant.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			reply, err := a.Chat(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func rowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rows",
		Short: "Show how many crash records are addressable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			store, err := dataset.Load(cfg.DatasetPath, cfg.DatasetLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d rows from %s\n", store.Len(), cfg.DatasetPath)
			fmt.Fprintf(out, "columns: %s\n", strings.Join(store.Columns(), ", "))
			return nil
		},
	}
}

func monitorCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Query the model server's health over NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if cfg.NatsURL == "" {
				return errors.New("monitor requires nats_url")
			}
			nc, err := nats.Connect(cfg.NatsURL, nats.Name("crashinsight-monitor"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			start := time.Now()
			msg, err := nc.Request(services.HealthSubject(cfg.BackendModel), []byte("{}"), 5*time.Second)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			var status services.HealthStatus
			if err := json.Unmarshal(msg.Data, &status); err != nil {
				return fmt.Errorf("failed to parse health response: %w", err)
			}
			fmt.Fprintf(out, "%s  status=%s  queue=%d  topic=%s  rtt=%s\n",
				status.ModelName, status.Status, status.QueueDepth, status.NATSTopic,
				time.Since(start).Round(time.Millisecond))

			if !watch {
				return nil
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if _, err := nc.Subscribe(services.BackpressureSubject(cfg.BackendModel), func(m *nats.Msg) {
				var r services.BackpressureReport
				if err := json.Unmarshal(m.Data, &r); err != nil {
					slog.Warn("Bad backpressure report", "error", err)
					return
				}
				fmt.Fprintf(out, "%s  backpressure=%s  pending=%d  active=%d  capacity=%d\n",
					r.Timestamp.Format("15:04:05"), r.Status, r.Waiting, r.Running, r.QueueCapacity)
			}); err != nil {
				return err
			}
			if _, err := nc.Subscribe(services.HeartbeatSubject(cfg.BackendModel), func(m *nats.Msg) {
				var h services.HealthStatus
				if err := json.Unmarshal(m.Data, &h); err != nil {
					slog.Warn("Bad heartbeat", "error", err)
					return
				}
				fmt.Fprintf(out, "%s  heartbeat  status=%s  queue=%d\n",
					h.LastActivity.Format("15:04:05"), h.Status, h.QueueDepth)
			}); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep printing heartbeats and backpressure reports")
	return cmd
}
