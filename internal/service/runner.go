package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	redisclient "github.com/homeyield/selection-server-go/internal/redis"
)

type Reconciler interface {
	Reconcile(ctx context.Context, req ReconcileRequest) ReconcileSummary
}

// StepRun reports a run that aborted before producing its own steps.
const StepRun = "run"

// forgetTimeout bounds clearing a run marker after the run's own deadline
// may already have passed.
const forgetTimeout = 5 * time.Second

// RunTracker remembers which (user, session) pairs were already reconciled.
type RunTracker interface {
	// MarkRun reports true only for the first call per pair within the TTL.
	MarkRun(ctx context.Context, userID, sessionID string) (bool, error)
	// Forget clears the pair so the next read path runs it again.
	Forget(ctx context.Context, userID, sessionID string) error
}

type RedisRunTracker struct {
	client goredis.Cmdable
	ttl    time.Duration
}

func NewRedisRunTracker(client goredis.Cmdable, ttl time.Duration) *RedisRunTracker {
	return &RedisRunTracker{client: client, ttl: ttl}
}

func (t *RedisRunTracker) MarkRun(ctx context.Context, userID, sessionID string) (bool, error) {
	key := redisclient.ReconcileMarkerKey(userID, sessionID)
	return t.client.SetNX(ctx, key, time.Now().Unix(), t.ttl).Result()
}

func (t *RedisRunTracker) Forget(ctx context.Context, userID, sessionID string) error {
	return t.client.Del(ctx, redisclient.ReconcileMarkerKey(userID, sessionID)).Err()
}

type MemoryRunTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryRunTracker() *MemoryRunTracker {
	return &MemoryRunTracker{seen: make(map[string]struct{})}
}

func (t *MemoryRunTracker) MarkRun(_ context.Context, userID, sessionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := userID + ":" + sessionID
	if _, ok := t.seen[key]; ok {
		return false, nil
	}
	t.seen[key] = struct{}{}
	return true, nil
}

func (t *MemoryRunTracker) Forget(_ context.Context, userID, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.seen, userID+":"+sessionID)
	return nil
}

// ReconcileRunner runs reconciliation detached from the request that asked
// for it. Concurrent triggers for the same pair share one run. In-flight runs
// are never cancelled; Stop waits for them.
type ReconcileRunner struct {
	reconciler Reconciler
	tracker    RunTracker
	timeout    time.Duration
	group      singleflight.Group
	wg         sync.WaitGroup
	mu         sync.Mutex
	stopped    bool
}

func NewReconcileRunner(reconciler Reconciler, tracker RunTracker, timeout time.Duration) *ReconcileRunner {
	return &ReconcileRunner{
		reconciler: reconciler,
		tracker:    tracker,
		timeout:    timeout,
	}
}

// Trigger starts a run and returns its completion signal. The channel yields
// one summary and is then closed; it is closed without a value if the runner
// is stopped.
func (r *ReconcileRunner) Trigger(req ReconcileRequest) <-chan ReconcileSummary {
	done := make(chan ReconcileSummary, 1)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		close(done)
		return done
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(done)

		key := req.UserID + ":" + req.SessionID
		v, _, shared := r.group.Do(key, func() (any, error) {
			return r.run(req), nil
		})
		if shared {
			log.Debug().Str("userId", req.UserID).Msg("joined in-flight reconciliation")
		}
		done <- v.(ReconcileSummary)
	}()

	return done
}

// run executes one reconciliation. A failed or panicking run clears the pair's
// marker so the next page load retries it.
func (r *ReconcileRunner) run(req ReconcileRequest) (summary ReconcileSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("userId", req.UserID).Str("panic", fmt.Sprint(p)).Msg("reconciliation panicked")
			summary = ReconcileSummary{
				UserID:    req.UserID,
				SessionID: req.SessionID,
				Steps:     []StepResult{StepResult{Step: StepRun}.fail(fmt.Errorf("panic: %v", p))},
			}
		}
		if summary.Failed() {
			r.forget(req)
		}
	}()

	return r.reconciler.Reconcile(ctx, req)
}

func (r *ReconcileRunner) forget(req ReconcileRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), forgetTimeout)
	defer cancel()

	if err := r.tracker.Forget(ctx, req.UserID, req.SessionID); err != nil {
		log.Warn().Err(err).Str("userId", req.UserID).Msg("clear reconcile marker failed")
	}
}

// OnSignIn handles the authentication event: it always runs and records the
// pair so read paths do not run it again.
func (r *ReconcileRunner) OnSignIn(ctx context.Context, req ReconcileRequest) <-chan ReconcileSummary {
	if _, err := r.tracker.MarkRun(ctx, req.UserID, req.SessionID); err != nil {
		log.Warn().Err(err).Str("userId", req.UserID).Msg("mark reconcile run failed")
	}
	return r.Trigger(req)
}

// EnsureRan triggers a run if none was recorded for the pair yet. It reports
// whether a run was started. It never blocks on the run itself.
func (r *ReconcileRunner) EnsureRan(ctx context.Context, req ReconcileRequest) bool {
	first, err := r.tracker.MarkRun(ctx, req.UserID, req.SessionID)
	if err != nil {
		log.Warn().Err(err).Str("userId", req.UserID).Msg("check reconcile marker failed")
		return false
	}
	if !first {
		return false
	}
	r.Trigger(req)
	return true
}

func (r *ReconcileRunner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.wg.Wait()
	log.Info().Msg("reconcile runner stopped")
}
