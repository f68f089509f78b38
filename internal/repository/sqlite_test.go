package repository

import (
	"context"
	"testing"
	"time"

	"github.com/aigoflow/crash-insight/internal/models"
	"github.com/aigoflow/crash-insight/internal/store"
)

func openRepo(t *testing.T) Repository {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteRepository(db)
}

func TestRequestLogRoundTrip(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	for i, status := range []string{"ok", "error"} {
		err := repo.Request().LogRequest(ctx, &models.RequestLog{
			Timestamp:    time.Now(),
			ReqID:        []string{"r1", "r2"}[i],
			Source:       "http.infer",
			Prompt:       "The crash occurred on a Monday",
			ResponseText: "Minor.",
			ParamsJSON:   `{"max_tokens":256}`,
			TokensIn:     12,
			TokensOut:    2,
			DurationMs:   40,
			Status:       status,
		})
		if err != nil {
			t.Fatalf("LogRequest: %v", err)
		}
	}

	logs, err := repo.Request().GetRequestLogs(ctx, 10)
	if err != nil {
		t.Fatalf("GetRequestLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
	// newest first
	if logs[0].ReqID != "r2" || logs[0].Status != "error" {
		t.Errorf("logs[0] = %+v", logs[0])
	}
	if logs[1].PromptLen != len("The crash occurred on a Monday") || logs[1].DurationMs != 40 {
		t.Errorf("logs[1] = %+v", logs[1])
	}
}

func TestCountByStatus(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	for _, status := range []string{"ok", "ok", "rejected", "error", "ok"} {
		if err := repo.Request().LogRequest(ctx, &models.RequestLog{Timestamp: time.Now(), Status: status}); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := repo.Request().CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts["ok"] != 3 || counts["rejected"] != 1 || counts["error"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestGetRequestLogsDefaultLimit(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	for i := 0; i < DefaultLogLimit+5; i++ {
		_ = repo.Request().LogRequest(ctx, &models.RequestLog{Timestamp: time.Now(), Status: "ok"})
	}
	logs, err := repo.Request().GetRequestLogs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != DefaultLogLimit {
		t.Errorf("got %d logs, want %d", len(logs), DefaultLogLimit)
	}
}

func TestLogEvent(t *testing.T) {
	repo := openRepo(t)
	if err := repo.Event().LogEvent(context.Background(), "info", "startup", "Server starting", map[string]interface{}{"port": 8000}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
}
