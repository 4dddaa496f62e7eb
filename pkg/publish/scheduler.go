package publish

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/config"
	"github.com/castorhq/castor/pkg/metrics"
	"github.com/castorhq/castor/pkg/services"
	castorslack "github.com/castorhq/castor/pkg/slack"
	"github.com/castorhq/castor/pkg/transport"
)

// schedReq is one mutation of the wake-up index, applied by the run loop,
// which is the sole goroutine that touches the heap.
type schedReq struct {
	kind      reqKind
	publishID string
	at        time.Time
}

type reqKind int

const (
	reqSchedule reqKind = iota
	reqCancel
	reqWake
)

// QueueEntry is one pending publish as seen by the scheduler.
type QueueEntry struct {
	PublishID     string    `json:"publish_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

// Scheduler owns the publish dispatch loop. It rebuilds its heap from the
// database on startup, sleeps until the earliest scheduled time, claims due
// rows with PopDue, and fans uploads out across a bounded worker pool.
// Losing a wake-up is harmless: the poll tick re-checks the database anyway.
type Scheduler struct {
	config    *config.PublisherConfig
	publishes *services.PublishService
	transport transport.Transport
	slack     *castorslack.Service
	logger    *slog.Logger

	// Heap state, owned exclusively by the run loop.
	pending   publishHeap
	cancelled map[string]bool

	reqCh chan schedReq
	sem   chan struct{}

	mu       sync.Mutex
	snapshot []QueueEntry

	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a publish scheduler. slackService may be nil.
func NewScheduler(cfg *config.PublisherConfig, publishes *services.PublishService, tr transport.Transport, slackService *castorslack.Service) *Scheduler {
	if cfg == nil {
		cfg = config.DefaultPublisherConfig()
	}
	concurrency := cfg.UploadConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		config:    cfg,
		publishes: publishes,
		transport: tr,
		slack:     slackService,
		logger:    slog.Default().With("component", "publish-scheduler"),
		cancelled: make(map[string]bool),
		reqCh:     make(chan schedReq, 256),
		sem:       make(chan struct{}, concurrency),
	}
}

// Start rebuilds the heap from persisted scheduled publishes and begins the
// dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("publish scheduler already started")
	}

	rows, err := s.publishes.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild publish heap: %w", err)
	}
	s.pending = make(publishHeap, 0, len(rows))
	for _, p := range rows {
		s.pending = append(s.pending, heapEntry{publishID: p.ID, at: p.ScheduledTime.UTC()})
	}
	heap.Init(&s.pending)
	s.publishSnapshot()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go func() {
		defer close(s.done)
		s.run(runCtx)
	}()

	s.logger.Info("Publish scheduler started",
		"rebuilt", len(rows),
		"concurrency", s.config.UploadConcurrency)
	return nil
}

// Stop halts the dispatch loop and waits for in-flight uploads to finish.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	<-s.done
	s.wg.Wait()
	s.started = false
	s.logger.Info("Publish scheduler stopped")
}

// Submit registers a freshly created publish task for dispatch. Satisfies
// the execution engine's publish sink.
func (s *Scheduler) Submit(p *ent.PublishTask) {
	if p == nil {
		return
	}
	s.Schedule(p.ID, p.ScheduledTime)
}

// Schedule adds or moves a publish in the wake-up index.
func (s *Scheduler) Schedule(publishID string, at time.Time) {
	s.send(schedReq{kind: reqSchedule, publishID: publishID, at: at.UTC()})
}

// Cancel drops publishes from the wake-up index. The database rows must
// already be cancelled; this only stops the early wake-up.
func (s *Scheduler) Cancel(publishIDs ...string) {
	for _, id := range publishIDs {
		s.send(schedReq{kind: reqCancel, publishID: id})
	}
}

// Wake forces an immediate due-check. The NOTIFY listener calls this when
// another pod mutates the publish queue.
func (s *Scheduler) Wake() {
	s.send(schedReq{kind: reqWake})
}

// send is non-blocking: a full channel just means the poll tick picks the
// change up instead, since PopDue trusts only the database.
func (s *Scheduler) send(req schedReq) {
	select {
	case s.reqCh <- req:
	default:
	}
}

// Queue returns the pending entries in dispatch order.
func (s *Scheduler) Queue() []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueueEntry, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(s.sleepFor(time.Now().UTC()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-s.reqCh:
			s.apply(req)
			if req.kind == reqWake {
				s.dispatchDue(ctx)
			}

		case <-timer.C:
			s.dispatchDue(ctx)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.sleepFor(time.Now().UTC()))
	}
}

func (s *Scheduler) apply(req schedReq) {
	switch req.kind {
	case reqSchedule:
		delete(s.cancelled, req.publishID)
		heap.Push(&s.pending, heapEntry{publishID: req.publishID, at: req.at})
	case reqCancel:
		s.cancelled[req.publishID] = true
	}
	s.publishSnapshot()
}

// sleepFor returns how long to sleep before the next due-check: until the
// heap head, capped by the poll interval safety net.
func (s *Scheduler) sleepFor(now time.Time) time.Duration {
	s.dropCancelledHead()
	wait := s.config.PollInterval
	if wait <= 0 {
		wait = 30 * time.Second
	}
	if len(s.pending) > 0 {
		until := s.pending[0].at.Sub(now)
		if until < wait {
			wait = until
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// dropCancelledHead discards lazily-deleted entries sitting at the heap head.
func (s *Scheduler) dropCancelledHead() {
	for len(s.pending) > 0 && s.cancelled[s.pending[0].publishID] {
		entry := heap.Pop(&s.pending).(heapEntry)
		delete(s.cancelled, entry.publishID)
	}
}

// dispatchDue claims every due publish and hands each to an upload worker.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now().UTC()

	// Trim heap entries that are due; the database claim below is what
	// actually decides who uploads.
	s.dropCancelledHead()
	for len(s.pending) > 0 && !s.pending[0].at.After(now) {
		heap.Pop(&s.pending)
		s.dropCancelledHead()
	}
	s.publishSnapshot()

	for {
		claimed, err := s.publishes.PopDue(ctx, now, s.config.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("Failed to claim due publishes", "error", err)
			}
			return
		}
		if len(claimed) == 0 {
			return
		}

		for _, p := range claimed {
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			s.wg.Add(1)
			go func(p *ent.PublishTask) {
				defer s.wg.Done()
				defer func() { <-s.sem }()
				s.dispatch(ctx, p)
			}(p)
		}
		if len(claimed) < s.config.BatchSize {
			return
		}
	}
}

// dispatch performs one upload and records the outcome. Terminal writes use
// a background context so shutdown cannot strand a row in uploading.
func (s *Scheduler) dispatch(ctx context.Context, p *ent.PublishTask) {
	uploadCtx, cancel := context.WithTimeout(ctx, s.config.UploadTimeout)
	defer cancel()

	item := transport.UploadItem{
		PublishID:   p.ID,
		AccountID:   p.AccountID,
		VideoRef:    p.VideoRef,
		Title:       p.Title,
		Description: p.Description,
		Tags:        p.Tags,
		Privacy:     p.Privacy,
	}
	if p.ThumbnailRef != nil {
		item.ThumbnailRef = *p.ThumbnailRef
	}

	result, err := s.transport.Upload(uploadCtx, item)

	bg := context.Background()
	switch {
	case err != nil:
		// Transport-level failure: always retryable.
		s.recordFailure(bg, p, err.Error(), "transport_error", true)

	case result.Success:
		if err := s.publishes.MarkSuccess(bg, p.ID, result.PlatformVideoID, result.PlatformURL); err != nil {
			s.logger.Error("Failed to mark publish success", "publish_id", p.ID, "error", err)
			return
		}
		metrics.PublishDispatches.WithLabelValues("success").Inc()
		s.logger.Info("Publish succeeded",
			"publish_id", p.ID,
			"account_id", p.AccountID,
			"platform_video_id", result.PlatformVideoID)
		if s.slack != nil {
			if updated, err := s.publishes.Get(bg, p.ID); err == nil {
				s.slack.NotifyPublishResult(bg, updated, true)
			}
		}

	default:
		s.recordFailure(bg, p, result.ErrorMessage, result.ErrorCode, result.Retryable)
	}
}

// recordFailure marks the row failed and either spawns a retry row or
// settles the parent task.
func (s *Scheduler) recordFailure(ctx context.Context, p *ent.PublishTask, errMsg, errCode string, retryable bool) {
	failed, err := s.publishes.MarkFailed(ctx, p.ID, errMsg, errCode)
	if err != nil {
		s.logger.Error("Failed to mark publish failed", "publish_id", p.ID, "error", err)
		return
	}

	if retryable && failed.RetryCount < s.config.MaxRetries {
		backoff := services.RetryBackoff(time.Now().UTC(), failed.RetryCount, s.config.RetryBackoffUnit)
		retry, err := s.publishes.SpawnRetry(ctx, failed, backoff)
		if err != nil {
			s.logger.Error("Failed to spawn publish retry", "publish_id", p.ID, "error", err)
		} else {
			metrics.PublishDispatches.WithLabelValues("retried").Inc()
			s.logger.Warn("Publish failed, retry scheduled",
				"publish_id", p.ID,
				"retry_id", retry.ID,
				"retry_count", retry.RetryCount,
				"scheduled_time", retry.ScheduledTime,
				"error_code", errCode)
			s.Schedule(retry.ID, retry.ScheduledTime)
			// A scheduled retry keeps the parent in flight; AdvanceParent
			// would see it and no-op, so skip the call.
			return
		}
	}

	metrics.PublishDispatches.WithLabelValues("failed").Inc()
	s.logger.Error("Publish failed terminally",
		"publish_id", p.ID,
		"account_id", p.AccountID,
		"retry_count", failed.RetryCount,
		"error_code", errCode,
		"error", errMsg)
	if err := s.publishes.AdvanceParent(ctx, failed.TaskID); err != nil {
		s.logger.Error("Failed to advance parent task", "task_id", failed.TaskID, "error", err)
	}
	if s.slack != nil {
		s.slack.NotifyPublishResult(ctx, failed, false)
	}
}

// publishSnapshot refreshes the read-side copy of the queue and the depth
// gauge. Called only from the run loop (and Start, before the loop exists).
func (s *Scheduler) publishSnapshot() {
	entries := make([]QueueEntry, 0, len(s.pending))
	for _, e := range s.pending {
		if s.cancelled[e.publishID] {
			continue
		}
		entries = append(entries, QueueEntry{PublishID: e.publishID, ScheduledTime: e.at})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ScheduledTime.Equal(entries[j].ScheduledTime) {
			return entries[i].PublishID < entries[j].PublishID
		}
		return entries[i].ScheduledTime.Before(entries[j].ScheduledTime)
	})

	metrics.PublishQueueDepth.Set(float64(len(entries)))

	s.mu.Lock()
	s.snapshot = entries
	s.mu.Unlock()
}
