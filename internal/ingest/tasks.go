package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/plutolabs/pluto-backend/internal/platform/ctxutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

const (
	taskKeyPrefix = "ingest:task:"
	taskTTL       = 24 * time.Hour
)

var ErrTaskNotFound = errors.New("ingest: task not found")

type Task struct {
	ID       string     `json:"id"`
	ScopeID  string     `json:"scope_id"`
	FileName string     `json:"file_name"`
	Status   TaskStatus `json:"status"`
	Error    string     `json:"error,omitempty"`
	Result   *Result    `json:"result,omitempty"`
	Created  time.Time  `json:"created"`
	Updated  time.Time  `json:"updated"`
}

// TaskStore tracks background ingestion jobs in redis. Entries expire after
// a day; clients are expected to poll shortly after submission.
type TaskStore struct {
	log *logger.Logger
	rdb *redis.Client
}

func NewTaskStore(log *logger.Logger, rdb *redis.Client) *TaskStore {
	return &TaskStore{log: log.With("service", "INGEST_TASKS"), rdb: rdb}
}

func (s *TaskStore) Create(ctx context.Context, scopeID, fileName string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:       uuid.NewString(),
		ScopeID:  scopeID,
		FileName: fileName,
		Status:   TaskQueued,
		Created:  now,
		Updated:  now,
	}
	if err := s.save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *TaskStore) MarkRunning(ctx context.Context, task *Task) error {
	task.Status = TaskRunning
	task.Updated = time.Now().UTC()
	return s.save(ctx, task)
}

func (s *TaskStore) MarkDone(ctx context.Context, task *Task, result *Result) error {
	task.Status = TaskDone
	task.Result = result
	task.Updated = time.Now().UTC()
	return s.save(ctx, task)
}

func (s *TaskStore) MarkFailed(ctx context.Context, task *Task, cause error) error {
	task.Status = TaskFailed
	task.Error = cause.Error()
	task.Updated = time.Now().UTC()
	return s.save(ctx, task)
}

func (s *TaskStore) Get(ctx context.Context, taskID string) (*Task, error) {
	raw, err := s.rdb.Get(ctxutil.Default(ctx), taskKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", taskID, err)
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *TaskStore) save(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	if err := s.rdb.Set(ctxutil.Default(ctx), taskKeyPrefix+task.ID, raw, taskTTL).Err(); err != nil {
		return fmt.Errorf("store task %s: %w", task.ID, err)
	}
	return nil
}
