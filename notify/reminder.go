package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"solarflow/agreement"
)

// ReminderDelay is how long after sending an unsigned agreement nags the
// client.
const ReminderDelay = 72 * time.Hour

const reminderQueueKey = "solarflow:reminders"

// ReminderJob is the delayed unit of work scheduled when an agreement goes
// out. Jobs are not cancelable; the worker re-validates at fire time.
type ReminderJob struct {
	AgreementID string `json:"agreement_id"`
	ClientPhone string `json:"client_phone"`
	ClientName  string `json:"client_name"`
	SigningURL  string `json:"signing_url"`
}

// Scheduler enqueues delayed reminder jobs.
type Scheduler interface {
	Schedule(ctx context.Context, job ReminderJob, due time.Time) error
}

// RedisScheduler keeps pending jobs in a sorted set scored by due time.
type RedisScheduler struct {
	rdb *redis.Client
	key string
}

func NewRedisScheduler(rdb *redis.Client) *RedisScheduler {
	return &RedisScheduler{rdb: rdb, key: reminderQueueKey}
}

func (s *RedisScheduler) Schedule(ctx context.Context, job ReminderJob, due time.Time) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("notify: marshal reminder job: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(due.Unix()),
		Member: string(body),
	}).Err(); err != nil {
		return fmt.Errorf("notify: schedule reminder: %w", err)
	}
	return nil
}

// claimDue pops every job due at or before now. ZREM after read keeps this
// correct for the single worker the deployment runs.
func (s *RedisScheduler) claimDue(ctx context.Context, now time.Time) ([]ReminderJob, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("notify: read due reminders: %w", err)
	}

	jobs := make([]ReminderJob, 0, len(members))
	for _, m := range members {
		if err := s.rdb.ZRem(ctx, s.key, m).Err(); err != nil {
			return jobs, fmt.Errorf("notify: claim reminder: %w", err)
		}
		var job ReminderJob
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			log.Printf("notify: dropping malformed reminder job: %v", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// StatusChecker re-reads the agreement status so a fired reminder can no-op
// once the client has signed.
type StatusChecker interface {
	CurrentStatus(ctx context.Context, agreementID string) (agreement.Status, error)
}

// ReminderWorker polls the queue and sends reminder texts for agreements
// that are still unsigned when the job fires.
type ReminderWorker struct {
	scheduler *RedisScheduler
	status    StatusChecker
	sms       SMSGateway
	interval  time.Duration
	now       func() time.Time
}

func NewReminderWorker(scheduler *RedisScheduler, status StatusChecker, sms SMSGateway) *ReminderWorker {
	return &ReminderWorker{
		scheduler: scheduler,
		status:    status,
		sms:       sms,
		interval:  time.Minute,
		now:       time.Now,
	}
}

func (w *ReminderWorker) WithInterval(d time.Duration) *ReminderWorker {
	w.interval = d
	return w
}

func (w *ReminderWorker) WithClock(now func() time.Time) *ReminderWorker {
	w.now = now
	return w
}

// Run polls until the context is canceled.
func (w *ReminderWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ReminderWorker) tick(ctx context.Context) {
	jobs, err := w.scheduler.claimDue(ctx, w.now())
	if err != nil {
		log.Printf("notify: reminder poll: %v", err)
		return
	}
	for _, job := range jobs {
		w.fire(ctx, job)
	}
}

// fire delivers one reminder. The precondition check runs here, at fire
// time, because scheduled jobs cannot be canceled when the client signs.
func (w *ReminderWorker) fire(ctx context.Context, job ReminderJob) {
	status, err := w.status.CurrentStatus(ctx, job.AgreementID)
	if err != nil {
		log.Printf("notify: reminder for agreement %s: status check: %v", job.AgreementID, err)
		return
	}
	if status == agreement.StatusSigned {
		return
	}
	if job.ClientPhone == "" {
		return
	}

	text := fmt.Sprintf("Hi %s, your solar installation agreement is still waiting for your signature: %s", job.ClientName, job.SigningURL)
	if err := w.sms.SendSMS(ctx, job.ClientPhone, text); err != nil {
		log.Printf("notify: reminder for agreement %s: %v", job.AgreementID, err)
	}
}
