// Package queue carries operator corrections and gallery-persistence
// requests over Redis via Asynq (spec §5, §6), decoupling the operator
// console (or any other producer) from the single-threaded frame loop
// that actually applies them.
//
// Grounded on the teacher's internal/queue/redis_consumer.go: the same
// asynq.Server construction (priority queues, exponential
// RetryDelayFunc, logging ErrorHandler) and asynq.NewServeMux dispatch
// shape, with task types changed from "videoagent:process" to
// "reidcore:correction" and "reidcore:persist-gallery".
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldlens/reidcore/internal/conflict"
	"github.com/fieldlens/reidcore/internal/gallery"
	"github.com/fieldlens/reidcore/internal/model"
)

// Task type names.
const (
	TaskCorrection     = "reidcore:correction"
	TaskPersistGallery = "reidcore:persist-gallery"
)

// Queue names and their relative worker weight, same shape as the
// teacher's "videoagent:critical/default/low" priorities.
const (
	QueueCritical = "reidcore:critical" // operator corrections: apply before the next frame
	QueueDefault  = "reidcore:default"  // gallery persistence: can lag a frame or two
)

// Config holds consumer/producer configuration.
type Config struct {
	RedisURL    string
	Concurrency int
}

// Client enqueues tasks onto the Redis-backed queue. Used by an operator
// console process or the coordinator itself.
type Client struct {
	client *asynq.Client
}

// NewClient opens an Asynq client against cfg.RedisURL.
func NewClient(cfg Config) (*Client, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Client{client: asynq.NewClient(redisOpt)}, nil
}

// Close releases the underlying Redis connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueCorrection submits an operator correction for the next frame's
// Matcher pass to consume (spec §4.8: "operator corrections enter via a
// thread-safe queue").
func (c *Client) EnqueueCorrection(corr model.Correction) error {
	payload, err := json.Marshal(corr)
	if err != nil {
		return fmt.Errorf("marshal correction: %w", err)
	}
	_, err = c.client.Enqueue(asynq.NewTask(TaskCorrection, payload), asynq.Queue(QueueCritical))
	return err
}

// EnqueuePersistGallery requests an out-of-band gallery save, used when a
// caller wants a snapshot sooner than the every-N-detections cadence
// (spec §4.6: "saves occur on clean shutdown and after every N
// detections added").
func (c *Client) EnqueuePersistGallery() error {
	_, err := c.client.Enqueue(asynq.NewTask(TaskPersistGallery, nil), asynq.Queue(QueueDefault))
	return err
}

// Server consumes queued tasks and applies them against a Resolver and
// Gallery shared with the frame loop.
type Server struct {
	server   *asynq.Server
	resolver *conflict.Resolver
	gal      *gallery.Gallery
}

// NewServer builds the Asynq server with the teacher's priority-queue and
// backoff shape.
func NewServer(cfg Config, resolver *conflict.Resolver, gal *gallery.Gallery) (*Server, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(1<<uint(n)) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("task %s failed: %v", task.Type(), err)
			}),
		},
	)

	return &Server{server: server, resolver: resolver, gal: gal}, nil
}

// Start begins consuming tasks; it blocks until Stop is called or a
// handler returns a fatal server error.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskCorrection, s.handleCorrection)
	mux.HandleFunc(TaskPersistGallery, s.handlePersistGallery)

	log.Println("starting reidcore queue consumer")
	if err := s.server.Run(mux); err != nil {
		return fmt.Errorf("run queue consumer: %w", err)
	}
	return nil
}

// Stop shuts the consumer down gracefully, letting in-flight handlers
// finish.
func (s *Server) Stop() {
	log.Println("shutting down reidcore queue consumer")
	s.server.Shutdown()
}

func (s *Server) handleCorrection(ctx context.Context, task *asynq.Task) error {
	var corr model.Correction
	if err := json.Unmarshal(task.Payload(), &corr); err != nil {
		return fmt.Errorf("unmarshal correction: %w", err)
	}
	s.resolver.Submit(corr)
	log.Printf("queued correction: track=%d kind=%s player=%q", corr.TrackID, corr.Kind, corr.PlayerID)
	return nil
}

func (s *Server) handlePersistGallery(ctx context.Context, task *asynq.Task) error {
	if err := s.gal.Save(); err != nil {
		return fmt.Errorf("persist gallery: %w", err)
	}
	log.Println("gallery persisted on demand")
	return nil
}
