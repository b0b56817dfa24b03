// Package queue is the Redis list handoff between the API and the generation
// worker. Jobs are pushed with RPUSH and consumed with a blocking BLPOP.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueGenerateVideo = "queue:generate_video"
	QueueRenderExport  = "queue:render_export"
)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID  `json:"id"`
	Type      string     `json:"type"`
	VideoID   uuid.UUID  `json:"video_id"`
	ExportID  *uuid.UUID `json:"export_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueGenerateVideo enqueues a full generation run for a video.
func (q *Queue) EnqueueGenerateVideo(ctx context.Context, videoID, jobID uuid.UUID) error {
	job := &Job{
		ID:      jobID,
		Type:    "generate_video",
		VideoID: videoID,
	}
	return q.Enqueue(ctx, QueueGenerateVideo, job)
}

// EnqueueRenderExport enqueues an export render for a finished video.
func (q *Queue) EnqueueRenderExport(ctx context.Context, videoID, exportID, jobID uuid.UUID) error {
	job := &Job{
		ID:       jobID,
		Type:     "render_export",
		VideoID:  videoID,
		ExportID: &exportID,
	}
	return q.Enqueue(ctx, QueueRenderExport, job)
}
