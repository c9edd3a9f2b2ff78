package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/testsentry/internal/config"
	"github.com/huangang/testsentry/internal/models"
	"github.com/huangang/testsentry/pkg/logger"
	"gorm.io/gorm"
)

const (
	TaskTypeInvitationEmail    = "email:invitation"
	TaskTypePasswordResetEmail = "email:password_reset"
)

// EmailTask represents an outbound email job to be processed
type EmailTask struct {
	Type         string `json:"type"`
	InvitationID uint   `json:"invitation_id,omitempty"`
	UserID       uint   `json:"user_id,omitempty"`
	Token        string `json:"token"`
}

// TaskQueue defines the interface for email task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *EmailTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Infof("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Test connection by pinging Redis
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	_, err := inspector.Queues()
	if err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds an email task to the async queue
func (q *AsyncQueue) Enqueue(task *EmailTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(task.Type, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, type=%s", info.ID, task.Type)
	return nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue with synchronous processing (no Redis)
type SyncQueue struct {
	processor func(context.Context, *EmailTask) error
}

// NewSyncQueue creates a new synchronous queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks synchronously
func (q *SyncQueue) SetProcessor(processor func(context.Context, *EmailTask) error) {
	q.processor = processor
}

// Enqueue processes the task immediately in the current goroutine
func (q *SyncQueue) Enqueue(task *EmailTask) error {
	if q.processor == nil {
		logger.Infof("[SyncQueue] Warning: no processor set, task will be dropped")
		return nil
	}

	// Process in a goroutine to not block the API response
	go func() {
		ctx := context.Background()
		if err := q.processor(ctx, task); err != nil {
			logger.Infof("[SyncQueue] Task processing failed: %v", err)
		}
	}()

	return nil
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close is a no-op for sync queue
func (q *SyncQueue) Close() error {
	return nil
}

// EmailNotifier bridges the invitation and password reset services to the
// task queue. It never blocks the caller and never fails the request.
type EmailNotifier struct {
	queue TaskQueue
}

// NewEmailNotifier creates a notifier that enqueues email tasks
func NewEmailNotifier(queue TaskQueue) *EmailNotifier {
	return &EmailNotifier{queue: queue}
}

func (n *EmailNotifier) NotifyInvitation(inv *models.Invitation, token string) {
	err := n.queue.Enqueue(&EmailTask{
		Type:         TaskTypeInvitationEmail,
		InvitationID: inv.ID,
		Token:        token,
	})
	if err != nil {
		logger.Errorf("[EmailNotifier] failed to enqueue invitation email: %v", err)
	}
}

func (n *EmailNotifier) NotifyPasswordReset(user *models.User, token string) {
	err := n.queue.Enqueue(&EmailTask{
		Type:   TaskTypePasswordResetEmail,
		UserID: user.ID,
		Token:  token,
	})
	if err != nil {
		logger.Errorf("[EmailNotifier] failed to enqueue password reset email: %v", err)
	}
}

// NewEmailProcessor returns the function that turns queued email tasks into
// actual SMTP sends. Shared by the sync queue and the async worker.
func NewEmailProcessor(db *gorm.DB, emails *EmailService) func(context.Context, *EmailTask) error {
	return func(ctx context.Context, task *EmailTask) error {
		switch task.Type {
		case TaskTypeInvitationEmail:
			var inv models.Invitation
			if err := db.WithContext(ctx).
				Preload("Project").
				Preload("Inviter").
				First(&inv, task.InvitationID).Error; err != nil {
				return err
			}
			return emails.SendInvitation(&inv, task.Token)
		case TaskTypePasswordResetEmail:
			var user models.User
			if err := db.WithContext(ctx).First(&user, task.UserID).Error; err != nil {
				return err
			}
			return emails.SendPasswordReset(&user, task.Token)
		default:
			logger.Infof("[EmailProcessor] unknown task type %q, dropping", task.Type)
			return nil
		}
	}
}
