// Package queue resumes suspended runs from an external Redis queue. Systems
// that cannot call the HTTP resume endpoint push a small JSON document onto a
// list instead, and the listener turns each document into a resume.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/engageflow/flows/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const DefaultQueue = "flows:resumes"

// Resumer is the gateway surface the listener needs.
type Resumer interface {
	Resume(ctx context.Context, runID string, inputPatch map[string]any) (*models.FlowRun, error)
}

// resumeMessage is the document external systems push onto the queue.
type resumeMessage struct {
	RunID string         `json:"run_id"`
	Input map[string]any `json:"input,omitempty"`
}

type Listener struct {
	addr     string
	password string
	db       int
	queue    string

	client  redis.UniversalClient
	resumer Resumer
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewListener(addr, password string, db int, queue string, resumer Resumer, logger *slog.Logger) *Listener {
	if queue == "" {
		queue = DefaultQueue
	}

	return &Listener{
		addr:     addr,
		password: password,
		db:       db,
		queue:    queue,
		resumer:  resumer,
		stopCh:   make(chan struct{}),
		logger:   logger.With("module", "queue_listener", "queue", queue),
	}
}

func (l *Listener) Start(ctx context.Context) error {
	l.client = redis.NewClient(&redis.Options{
		Addr:     l.addr,
		Password: l.password,
		DB:       l.db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := l.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	l.logger.InfoContext(ctx, "Connected to Redis", "addr", l.addr, "db", l.db)

	l.wg.Add(1)

	go l.consume(ctx)

	return nil
}

func (l *Listener) Stop(ctx context.Context) error {
	l.logger.InfoContext(ctx, "Stopping queue listener")

	close(l.stopCh)
	l.wg.Wait()

	if l.client != nil {
		err := l.client.Close()
		if err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}

	return nil
}

func (l *Listener) consume(ctx context.Context) {
	defer l.wg.Done()

	l.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-l.stopCh:
			l.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			l.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := l.processMessage(ctx)
			if err != nil {
				l.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (l *Listener) processMessage(ctx context.Context) error {
	result, err := l.client.BLPop(ctx, 1*time.Second, l.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var msg resumeMessage

	err = json.Unmarshal([]byte(result[1]), &msg)
	if err != nil {
		l.logger.WarnContext(ctx, "Dropping malformed queue message", "error", err)

		return nil
	}

	if msg.RunID == "" {
		l.logger.WarnContext(ctx, "Dropping queue message without run_id")

		return nil
	}

	_, err = l.resumer.Resume(ctx, msg.RunID, msg.Input)
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to resume run from queue", "run_id", msg.RunID, "error", err)
	}

	return nil
}
