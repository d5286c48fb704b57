package cron

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bher20/meterlog/internal/metrics"
	"github.com/bher20/meterlog/internal/notification"
	"github.com/bher20/meterlog/internal/series"
	"github.com/bher20/meterlog/internal/storage"
	"github.com/bher20/meterlog/internal/weather"
)

// Advisory lock keys, one per job so replicas can interleave different jobs.
const (
	lockKeyWeather int64 = 4201
	lockKeyRebuild int64 = 4202
	lockKeyDigest  int64 = 4203
)

// weatherTrailingDays covers the archive API's publishing lag plus the
// longest stats window.
const weatherTrailingDays = 120

// Worker runs the periodic maintenance jobs: weather refresh, series
// rebuild, and the pending-review email digest. In a multi-instance
// deployment PostgreSQL advisory locks keep each job single-flight; other
// backends run unguarded, which is fine for a single instance.
type Worker struct {
	st      storage.Storage
	weather *weather.Client
	notif   *notification.Service
}

func NewWorker(st storage.Storage, wc *weather.Client, notif *notification.Service) *Worker {
	return &Worker{st: st, weather: wc, notif: notif}
}

// Run blocks until ctx is cancelled. The interval setting may be integer
// seconds or a cron expression; a settings-table row overrides the
// environment so the schedule can be changed without a redeploy.
func (w *Worker) Run(ctx context.Context) error {
	intervalSetting := "3600"
	if raw := os.Getenv("METERLOG_CRON_INTERVAL_SECONDS"); raw != "" {
		intervalSetting = raw
	}
	if val, err := w.st.GetSetting(ctx, "refresh_interval_seconds"); err == nil && val != "" {
		intervalSetting = val
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	getNextRun := func(setting string, from time.Time) time.Time {
		if v, err := strconv.Atoi(setting); err == nil && v > 0 {
			return from.Add(time.Duration(v) * time.Second)
		}
		if sched, err := cron.ParseStandard(setting); err == nil {
			return sched.Next(from)
		}
		return from.Add(time.Hour)
	}

	// Run once right away, then on schedule.
	nextRun := time.Now()

	log.Printf("cron worker starting, initial setting=%q", intervalSetting)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if val, err := w.st.GetSetting(ctx, "refresh_interval_seconds"); err == nil && val != "" && val != intervalSetting {
				log.Printf("cron: interval updated from %q to %q", intervalSetting, val)
				intervalSetting = val
				nextRun = getNextRun(intervalSetting, time.Now())
			}

			if time.Now().Before(nextRun) {
				continue
			}

			w.runJob(ctx, "refresh_weather", lockKeyWeather, w.refreshWeather)
			w.runJob(ctx, "rebuild_series", lockKeyRebuild, func(ctx context.Context) error {
				return series.RebuildAll(ctx, w.st)
			})
			w.runJob(ctx, "review_digest", lockKeyDigest, w.sendDigest)

			nextRun = getNextRun(intervalSetting, time.Now())
		}
	}
}

// runJob executes one job under its advisory lock and records the outcome.
func (w *Worker) runJob(ctx context.Context, name string, lockKey int64, fn func(context.Context) error) {
	started := time.Now()

	if locker, ok := w.st.(storage.AdvisoryLocker); ok {
		acquired, err := locker.AcquireAdvisoryLock(ctx, lockKey)
		if err != nil {
			log.Printf("cron: %s: acquire advisory lock failed: %v", name, err)
			metrics.UpdateJobMetrics(name, started, err)
			return
		}
		if !acquired {
			log.Printf("cron: %s: lock held by another worker, skipping", name)
			return
		}
		defer func() {
			if _, err := locker.ReleaseAdvisoryLock(ctx, lockKey); err != nil {
				log.Printf("cron: %s: release advisory lock failed: %v", name, err)
			}
		}()
	}

	runErr := fn(ctx)
	metrics.UpdateJobMetrics(name, started, runErr)

	dur := time.Since(started)
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := w.st.UpdateScheduledJob(ctx, name, started, dur, runErr == nil, errMsg); err != nil {
		log.Printf("cron: %s: update scheduled_jobs failed: %v", name, err)
	}

	if runErr != nil {
		log.Printf("cron: job %s completed with error: %v (duration=%s)", name, runErr, dur)
	} else {
		log.Printf("cron: job %s completed successfully (duration=%s)", name, dur)
	}
}

func (w *Worker) refreshWeather(ctx context.Context) error {
	if w.weather == nil {
		return nil
	}
	return w.weather.Refresh(ctx, w.st, weatherTrailingDays)
}

func (w *Worker) sendDigest(ctx context.Context) error {
	if w.notif == nil {
		return nil
	}
	return w.notif.SendPendingReviewDigest(ctx)
}
