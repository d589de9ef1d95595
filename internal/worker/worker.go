package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
	"github.com/Kaikei-e/Alt-sub006/internal/infra/logger"
	"github.com/Kaikei-e/Alt-sub006/internal/usecase"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	jobTimeout          = 60 * time.Second
	initialBackoff      = 1 * time.Second
	maxBackoff          = 5 * time.Minute
)

// JobWorker drains the indexing queue. One worker runs per process; fairness
// across processes comes from the repository's SKIP LOCKED acquire.
type JobWorker struct {
	jobRepo      domain.RagJobRepository
	indexUsecase usecase.IndexArticleUsecase
	logger       *slog.Logger
	stopChan     chan struct{}

	// backoff is nonzero after a failure and doubles per consecutive failure.
	// Only the run goroutine touches it.
	backoff time.Duration
}

func NewJobWorker(
	jobRepo domain.RagJobRepository,
	indexUsecase usecase.IndexArticleUsecase,
	logger *slog.Logger,
) *JobWorker {
	return &JobWorker{
		jobRepo:      jobRepo,
		indexUsecase: indexUsecase,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

func (w *JobWorker) Start() {
	w.logger.Info("starting job worker")
	go w.run()
}

func (w *JobWorker) Stop() {
	w.logger.Info("stopping job worker")
	close(w.stopChan)
}

func (w *JobWorker) run() {
	timer := time.NewTimer(defaultPollInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-timer.C:
			w.processNextJob()
			timer.Reset(w.pollDelay())
		}
	}
}

// pollDelay returns the wait before the next acquire attempt: the backoff
// after failures, the base interval otherwise.
func (w *JobWorker) pollDelay() time.Duration {
	if w.backoff > 0 {
		return w.backoff
	}
	return defaultPollInterval
}

func (w *JobWorker) processNextJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	job, err := w.jobRepo.AcquireNextJob(ctx)
	if err != nil {
		w.logger.Error("failed to acquire next job", "error", err)
		return
	}
	if job == nil {
		return
	}

	ctx = logger.WithJobID(ctx, job.ID.String())
	log := logger.FromContext(ctx, w.logger)
	log.Info("processing job", "type", job.JobType)

	processErr := w.dispatch(ctx, job)

	status := domain.JobStatusCompleted
	var errMsg *string
	if processErr != nil {
		status = domain.JobStatusFailed
		msg := processErr.Error()
		errMsg = &msg
		w.backoff = w.nextBackoff(w.backoff)
		log.Warn("worker backing off", "backoff", w.backoff, "error", processErr)
	} else {
		w.backoff = 0
		log.Info("job completed")
	}

	if err := w.jobRepo.UpdateStatus(ctx, job.ID, status, errMsg); err != nil {
		log.Error("failed to update job status", "error", err)
	}
}

func (w *JobWorker) dispatch(ctx context.Context, job *domain.RagJob) error {
	switch job.JobType {
	case domain.JobTypeBackfillArticle:
		return w.processBackfillArticle(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

func (w *JobWorker) nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (w *JobWorker) processBackfillArticle(ctx context.Context, job *domain.RagJob) error {
	fields, err := requiredStrings(job.Payload, "article_id", "title", "body")
	if err != nil {
		return err
	}
	// Jobs enqueued before the url field existed carry none.
	url, _ := job.Payload["url"].(string)

	articleID := fields["article_id"]
	ctx = logger.WithArticleID(ctx, articleID)
	logger.FromContext(ctx, w.logger).Info("indexing article")

	return w.indexUsecase.Upsert(ctx, articleID, fields["title"], url, fields["body"])
}

// requiredStrings extracts the named payload fields, failing on the first one
// that is absent or not a string.
func requiredStrings(payload map[string]interface{}, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		value, ok := payload[key].(string)
		if !ok {
			return nil, fmt.Errorf("missing or invalid %s", key)
		}
		out[key] = value
	}
	return out, nil
}
