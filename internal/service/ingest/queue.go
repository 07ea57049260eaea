// internal/service/ingest/queue.go

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"spark/internal/domain/geo"
	"spark/internal/domain/spark"
	"spark/internal/logging"
	"spark/internal/metrics"
)

// Processor runs detection for one location update
type Processor interface {
	Detect(ctx context.Context, userID string, loc geo.Location) ([]spark.Spark, error)
}

// StreamPublisher is the subset of jetstream.JetStream used to enqueue jobs
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Delivery is the subset of jetstream.Msg a worker needs
type Delivery interface {
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// MessageConsumer is the subset of jetstream.Consumer used by the worker pool
type MessageConsumer interface {
	Consume(handler jetstream.MessageHandler, opts ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error)
}

// QueueConfig contains configuration for the ingestion queue
type QueueConfig struct {
	Stream      string
	Subject     string
	Durable     string
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	AckWait     time.Duration
	JobTimeout  time.Duration
}

// DefaultQueueConfig returns the default queue parameters
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Stream:      "SPARK_LOCATIONS",
		Subject:     "spark.jobs.location",
		Durable:     "proximity-workers",
		Workers:     4,
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		AckWait:     30 * time.Second,
		JobTimeout:  20 * time.Second,
	}
}

// FailedSubject returns where exhausted jobs are parked for operators
func (c QueueConfig) FailedSubject() string {
	return c.Subject + ".failed"
}

// Job is a queued location update
type Job struct {
	UserID     string       `json:"userId"`
	Location   geo.Location `json:"location"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`
}

// Key identifies a job for JetStream deduplication. It carries a time
// component so distinct updates from one user are never coalesced.
func (j Job) Key() string {
	return fmt.Sprintf("%s:%d", j.UserID, j.EnqueuedAt.UnixNano())
}

// FailedJob is published when a job exhausts its attempts
type FailedJob struct {
	Job      Job       `json:"job"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// Queue accepts location updates and drains them through a worker pool
type Queue struct {
	publisher StreamPublisher
	processor Processor
	config    QueueConfig
	logger    *slog.Logger
	now       func() time.Time

	consumeCtx jetstream.ConsumeContext
	deliveries chan Delivery
	wg         sync.WaitGroup
	mu         sync.Mutex
}

// NewQueue creates a new ingestion queue. A nil publisher makes every
// Enqueue run detection synchronously.
func NewQueue(publisher StreamPublisher, processor Processor, config QueueConfig, logger *slog.Logger) *Queue {
	return &Queue{
		publisher: publisher,
		processor: processor,
		config:    config,
		logger:    logging.Component(logger, "ingest"),
		now:       time.Now,
	}
}

// Setup creates or updates the work-queue stream and the durable consumer
func (q *Queue) Setup(ctx context.Context, js jetstream.JetStream) (jetstream.Consumer, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      q.config.Stream,
		Subjects:  []string{q.config.Subject, q.config.FailedSubject()},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating stream %s: %w", q.config.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       q.config.Durable,
		FilterSubject: q.config.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.config.AckWait,
		MaxDeliver:    q.config.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating consumer %s: %w", q.config.Durable, err)
	}

	return consumer, nil
}

// Enqueue schedules detection for a location update and returns without
// waiting for it. When the queue is unavailable detection runs inline; if
// that fails too the update is dropped and only logged.
func (q *Queue) Enqueue(ctx context.Context, userID string, loc geo.Location) error {
	if userID == "" {
		return spark.Validation(nil, "user id is required")
	}
	if err := loc.Validate(); err != nil {
		return spark.Validation(err, "invalid location")
	}

	job := Job{UserID: userID, Location: loc, EnqueuedAt: q.now()}

	if q.publisher != nil {
		err := q.publish(ctx, job)
		if err == nil {
			metrics.IngestJobs.WithLabelValues("enqueued").Inc()
			return nil
		}
		q.logger.Warn("queue unavailable, processing location inline", "user_id", userID, "error", err)
	}

	metrics.IngestJobs.WithLabelValues("fallback").Inc()
	if _, err := q.processor.Detect(ctx, userID, loc); err != nil {
		metrics.IngestJobs.WithLabelValues("dropped").Inc()
		q.logger.Error("inline detection failed, dropping location update", "user_id", userID, "error", err)
	}
	return nil
}

func (q *Queue) publish(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("error marshaling job: %w", err)
	}
	if _, err := q.publisher.Publish(ctx, q.config.Subject, data, jetstream.WithMsgID(job.Key())); err != nil {
		return fmt.Errorf("error publishing job: %w", err)
	}
	return nil
}

// Start consumes jobs and hands them to the worker pool
func (q *Queue) Start(ctx context.Context, consumer MessageConsumer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.consumeCtx != nil {
		return nil
	}

	workers := q.config.Workers
	if workers <= 0 {
		workers = 1
	}

	q.deliveries = make(chan Delivery, workers)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.deliveries <- msg
	}, jetstream.PullMaxMessages(workers))
	if err != nil {
		close(q.deliveries)
		q.wg.Wait()
		return fmt.Errorf("error starting consumer: %w", err)
	}
	q.consumeCtx = cc

	q.logger.Info("ingestion workers started", "workers", workers, "subject", q.config.Subject)
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for d := range q.deliveries {
		q.Handle(ctx, d)
	}
}

// Handle processes one delivery: ack on success, nak with backoff while
// attempts remain, otherwise park the job on the failed subject and terminate it
func (q *Queue) Handle(ctx context.Context, d Delivery) {
	var job Job
	if err := json.Unmarshal(d.Data(), &job); err != nil {
		q.logger.Error("malformed location job", "error", err)
		metrics.IngestJobs.WithLabelValues("failed").Inc()
		if err := d.Term(); err != nil {
			q.logger.Warn("error terminating job", "error", err)
		}
		return
	}

	attempt := 1
	if md, err := d.Metadata(); err == nil && md.NumDelivered > 0 {
		attempt = int(md.NumDelivered)
	}

	jobCtx := ctx
	if q.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.config.JobTimeout)
		defer cancel()
	}

	_, err := q.processor.Detect(jobCtx, job.UserID, job.Location)
	if err == nil {
		metrics.IngestJobs.WithLabelValues("processed").Inc()
		if err := d.Ack(); err != nil {
			q.logger.Warn("error acking job", "user_id", job.UserID, "error", err)
		}
		return
	}

	retryable := !errors.Is(err, spark.ErrValidation)
	if retryable && attempt < q.config.MaxAttempts {
		delay := q.Backoff(attempt)
		metrics.IngestJobs.WithLabelValues("retried").Inc()
		q.logger.Warn("location job failed, retrying", "user_id", job.UserID, "attempt", attempt, "delay", delay, "error", err)
		if err := d.NakWithDelay(delay); err != nil {
			q.logger.Warn("error nacking job", "user_id", job.UserID, "error", err)
		}
		return
	}

	q.fail(ctx, job, attempt, err)
	if err := d.Term(); err != nil {
		q.logger.Warn("error terminating job", "user_id", job.UserID, "error", err)
	}
}

// Backoff returns the delay before the retry that follows attempt
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.config.BackoffBase * time.Duration(1<<uint(attempt-1))
}

func (q *Queue) fail(ctx context.Context, job Job, attempts int, cause error) {
	metrics.IngestJobs.WithLabelValues("failed").Inc()
	q.logger.Error("location job failed permanently", "user_id", job.UserID, "attempts", attempts, "error", cause)

	if q.publisher == nil {
		return
	}

	data, err := json.Marshal(FailedJob{
		Job:      job,
		Attempts: attempts,
		Error:    cause.Error(),
		FailedAt: q.now(),
	})
	if err != nil {
		q.logger.Error("error marshaling failed job", "error", err)
		return
	}
	if _, err := q.publisher.Publish(ctx, q.config.FailedSubject(), data); err != nil {
		q.logger.Error("error publishing failed job", "user_id", job.UserID, "error", err)
	}
}

// Stop stops consuming and waits for in-flight jobs
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	cc := q.consumeCtx
	q.consumeCtx = nil
	q.mu.Unlock()

	if cc == nil {
		return nil
	}

	cc.Stop()
	<-cc.Closed()
	close(q.deliveries)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
