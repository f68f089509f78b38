package repository

import (
	"context"

	"github.com/aigoflow/crash-insight/internal/models"
	"github.com/aigoflow/crash-insight/internal/store"
)

// DefaultLogLimit applies when a caller asks for a non-positive number of logs.
const DefaultLogLimit = 50

// SQLiteRepository implements Repository over the sqlite store.
type SQLiteRepository struct {
	requests *sqliteRequests
	events   *sqliteEvents
}

func NewSQLiteRepository(db *store.DB) Repository {
	return &SQLiteRepository{
		requests: &sqliteRequests{db: db},
		events:   &sqliteEvents{db: db},
	}
}

func (r *SQLiteRepository) Request() RequestRepositoryInterface {
	return r.requests
}

func (r *SQLiteRepository) Event() EventRepositoryInterface {
	return r.events
}

type sqliteRequests struct {
	db *store.DB
}

func (r *sqliteRequests) LogRequest(ctx context.Context, req *models.RequestLog) error {
	return r.db.InsertRequest(ctx, req)
}

func (r *sqliteRequests) GetRequestLogs(ctx context.Context, limit int) ([]*models.RequestLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return r.db.RecentRequests(ctx, limit)
}

func (r *sqliteRequests) CountByStatus(ctx context.Context) (map[string]int, error) {
	return r.db.StatusCounts(ctx)
}

type sqliteEvents struct {
	db *store.DB
}

func (r *sqliteEvents) LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error {
	return r.db.EventContext(ctx, level, code, msg, meta)
}
