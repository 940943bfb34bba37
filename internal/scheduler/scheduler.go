// Package scheduler runs delayed one-shot jobs. Jobs are persisted in sqlite
// so they survive restarts; redis, when available, keeps a sorted-set index
// of wake-up times so due jobs are picked up without scanning the table.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bookflow/internal/config"
	"bookflow/internal/domain"
	"bookflow/internal/metrics"
	"bookflow/internal/models"
)

const (
	wakeKey       = "scheduler:wake"
	deadLetterKey = "scheduler:deadletter"
)

// Handler executes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job models.Job) error

type Scheduler struct {
	jobs         domain.JobRepository
	redis        *redis.Client
	retryPolicy  RetryPolicy
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New builds a scheduler. redisClient may be nil, in which case due jobs are
// found by polling the job table only.
func New(jobs domain.JobRepository, redisClient *redis.Client, cfg config.SchedulerConfig, logger *zerolog.Logger) *Scheduler {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Scheduler{
		jobs:  jobs,
		redis: redisClient,
		retryPolicy: RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      cfg.MaxDelay,
			BackoffFactor: cfg.BackoffFactor,
		}.withDefaults(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
		now:          time.Now,
		handlers:     make(map[string]Handler),
	}
}

// Register binds a handler to a job type. Registering twice replaces it.
func (s *Scheduler) Register(jobType string, h Handler) {
	s.mu.Lock()
	s.handlers[jobType] = h
	s.mu.Unlock()
}

func (s *Scheduler) handler(jobType string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[jobType]
	return h, ok
}

// ScheduleOnce persists a job that fires at or after runAt.
func (s *Scheduler) ScheduleOnce(ctx context.Context, jobType, ref string, runAt time.Time, payload interface{}) (int64, error) {
	if jobType == "" {
		return 0, errors.New("job type is required")
	}

	var raw string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode payload: %w", err)
		}
		raw = string(b)
	}

	job := models.Job{
		JobType: jobType,
		Ref:     ref,
		Payload: raw,
		Status:  models.JobPending,
		RunAt:   runAt,
	}
	if err := s.jobs.CreateJob(ctx, &job); err != nil {
		return 0, fmt.Errorf("persist job: %w", err)
	}

	s.wakeAt(ctx, job.ID, runAt)
	s.logger.Debug().Int64("job_id", job.ID).Str("type", jobType).Str("ref", ref).Time("run_at", runAt).Msg("job scheduled")
	return job.ID, nil
}

// Cancel stops every job of jobType for ref that has not started yet. An
// empty jobType cancels all job types for ref.
func (s *Scheduler) Cancel(ctx context.Context, jobType, ref string) error {
	ids, err := s.jobs.CancelJobs(ctx, jobType, ref)
	if err != nil {
		return fmt.Errorf("cancel jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	if s.redis != nil {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = strconv.FormatInt(id, 10)
		}
		if err := s.redis.ZRem(ctx, wakeKey, members...).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("scheduler: failed to drop canceled jobs from wake index")
		}
	}
	for range ids {
		metrics.IncJob(jobType, models.JobCanceled)
	}
	s.logger.Debug().Str("type", jobType).Str("ref", ref).Int("count", len(ids)).Msg("jobs canceled")
	return nil
}

// Start runs until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("poll_interval", s.pollInterval).Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.RunDue(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunDue executes every job that is due now and returns how many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	ran := 0

	for _, id := range s.popWoken(ctx) {
		job, err := s.jobs.GetJob(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Int64("job_id", id).Msg("scheduler: woken job not found")
			continue
		}
		if s.processJob(ctx, job) {
			ran++
		}
	}

	jobs, err := s.jobs.GetDueJobs(ctx, s.now(), s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler: fetch due jobs")
		return ran
	}
	for i := range jobs {
		if s.processJob(ctx, &jobs[i]) {
			ran++
		}
	}
	return ran
}

func (s *Scheduler) wakeAt(ctx context.Context, id int64, at time.Time) {
	if s.redis == nil {
		return
	}
	err := s.redis.ZAdd(ctx, wakeKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: strconv.FormatInt(id, 10),
	}).Err()
	if err != nil {
		s.logger.Warn().Err(err).Int64("job_id", id).Msg("scheduler: wake index unavailable, relying on polling")
	}
}

// popWoken removes due members from the wake index. ZREM decides ownership
// when several processes share the index.
func (s *Scheduler) popWoken(ctx context.Context) []int64 {
	if s.redis == nil {
		return nil
	}

	members, err := s.redis.ZRangeByScore(ctx, wakeKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: int64(s.batchSize),
	}).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("scheduler: read wake index")
		return nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		removed, err := s.redis.ZRem(ctx, wakeKey, m).Result()
		if err != nil || removed == 0 {
			continue
		}
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// processJob claims and runs a job. Reports whether the handler was invoked.
func (s *Scheduler) processJob(ctx context.Context, job *models.Job) bool {
	if job.Status != models.JobPending && job.Status != models.JobRetry {
		return false
	}
	if job.Status == models.JobPending && job.RunAt.After(s.now()) {
		// woken early, e.g. clock skew between processes
		s.wakeAt(ctx, job.ID, job.RunAt)
		return false
	}
	if job.Status == models.JobRetry && job.NextRetryAt != nil && job.NextRetryAt.After(s.now()) {
		s.wakeAt(ctx, job.ID, *job.NextRetryAt)
		return false
	}

	claimed, err := s.jobs.ClaimJob(ctx, job.ID)
	if err != nil {
		s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("scheduler: claim job")
		return false
	}
	if !claimed {
		return false
	}

	log := s.logger.With().Int64("job_id", job.ID).Str("type", job.JobType).Str("ref", job.Ref).Logger()

	h, ok := s.handler(job.JobType)
	if !ok {
		s.fail(ctx, job, fmt.Errorf("no handler for job type %q", job.JobType))
		return false
	}

	if err := h(ctx, *job); err != nil {
		log.Warn().Err(err).Int("attempt", job.RetryCount+1).Msg("job failed")
		s.retryOrFail(ctx, job, err)
		return true
	}

	if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobCompleted, "", nil); err != nil {
		log.Error().Err(err).Msg("scheduler: mark completed")
	}
	metrics.IncJob(job.JobType, models.JobCompleted)
	log.Debug().Msg("job completed")
	return true
}

func (s *Scheduler) retryOrFail(ctx context.Context, job *models.Job, cause error) {
	attempt := job.RetryCount + 1
	if attempt >= s.retryPolicy.MaxRetries {
		s.fail(ctx, job, cause)
		return
	}

	next := s.now().Add(s.retryPolicy.NextDelay(attempt))
	if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobRetry, cause.Error(), &next); err != nil {
		s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("scheduler: mark retry")
		return
	}
	s.wakeAt(ctx, job.ID, next)
	metrics.IncJob(job.JobType, models.JobRetry)
}

func (s *Scheduler) fail(ctx context.Context, job *models.Job, cause error) {
	if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobFailed, cause.Error(), nil); err != nil {
		s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("scheduler: mark failed")
	}
	metrics.IncJob(job.JobType, models.JobFailed)
	s.logger.Error().Err(cause).Int64("job_id", job.ID).Str("type", job.JobType).Msg("job moved to dead letter")
	s.pushDeadLetter(ctx, job, cause)
}

func (s *Scheduler) pushDeadLetter(ctx context.Context, job *models.Job, cause error) {
	if s.redis == nil {
		return
	}
	entry := struct {
		models.Job
		Error string `json:"error"`
	}{Job: *job, Error: cause.Error()}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		s.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("scheduler: push dead letter")
	}
}
