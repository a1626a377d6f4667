package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homeyield/selection-server-go/internal/service"
)

const repairRunTimeout = 30 * time.Second

type MissingAnalysisFinder interface {
	FindUserIDsMissingAnalysis(ctx context.Context, afterUserID string, limit int) ([]string, error)
}

type Backfiller interface {
	Backfill(ctx context.Context, userID string) service.ReconcileSummary
}

// RepairJob periodically back-fills analysis ids on user selections that a
// sign-in reconcile left without one, for example because the user had no
// analysis yet or the reconcile failed part way.
type RepairJob struct {
	finder     MissingAnalysisFinder
	backfiller Backfiller
	interval   time.Duration
	batchSize  int
	// cursor is the last user id handled; a short batch wraps it back to "".
	cursor string
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewRepairJob(finder MissingAnalysisFinder, backfiller Backfiller, interval time.Duration, batchSize int) *RepairJob {
	return &RepairJob{
		finder:     finder,
		backfiller: backfiller,
		interval:   interval,
		batchSize:  batchSize,
		done:       make(chan struct{}),
	}
}

func (j *RepairJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Int("batchSize", j.batchSize).Msg("repair job started")
}

func (j *RepairJob) Stop() {
	close(j.done)
	j.wg.Wait()
	log.Info().Msg("repair job stopped")
}

func (j *RepairJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.repair()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.repair()
		}
	}
}

// repair handles one batch and advances the cursor past it, so users that
// keep failing cannot hold back the ones after them.
func (j *RepairJob) repair() (repaired int64) {
	ctx, cancel := context.WithTimeout(context.Background(), repairRunTimeout)
	defer cancel()

	userIDs, err := j.finder.FindUserIDsMissingAnalysis(ctx, j.cursor, j.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to find selections missing analysis")
		return 0
	}
	if len(userIDs) < j.batchSize {
		j.cursor = ""
	} else {
		j.cursor = userIDs[len(userIDs)-1]
	}

	failed := 0
	for _, userID := range userIDs {
		select {
		case <-j.done:
			return repaired
		default:
		}

		summary := j.backfiller.Backfill(ctx, userID)
		if summary.Failed() {
			failed++
			continue
		}
		repaired += summary.Backfilled
	}

	if repaired > 0 || failed > 0 {
		log.Info().
			Int("users", len(userIDs)).
			Int64("backfilled", repaired).
			Int("failed", failed).
			Msg("repaired selections missing analysis")
	}
	return repaired
}
