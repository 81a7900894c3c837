package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/nse"
)

// DownloadJob is one report for one trading date
type DownloadJob struct {
	Report string
	Date   time.Time
	Folder string
}

// DownloadResult represents the result of a download job
type DownloadResult struct {
	Job      DownloadJob
	Path     string
	Success  bool
	Skipped  bool // already on disk
	Missing  bool // not published for that date
	Error    error
	Duration time.Duration
	Size     int64
}

// ReportClient is the part of nse.Client the pool drives
type ReportClient interface {
	DownloadReport(ctx context.Context, name string, date time.Time, cfg *nse.DownloadConfig) (string, error)
	ReportPath(name string, date time.Time, folder string) (string, error)
}

// WorkerPool downloads reports concurrently. Throttling is left to the
// session behind the client, which all workers share.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan DownloadJob
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	client      ReportClient
	logger      logger.Logger
}

// NewWorkerPool creates a pool bound to ctx; cancelling ctx stops workers
// after their current job
func NewWorkerPool(ctx context.Context, numWorkers int, client ReportClient, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan DownloadJob, numWorkers*2),
		resultQueue: make(chan DownloadResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		client:      client,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for queued jobs and closes Results.
// Submit must not be called after Stop.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
	wp.logger.Debug("worker pool stopped")
}

// Submit queues a job, blocking while the queue is full
func (wp *WorkerPool) Submit(job DownloadJob) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel; it must be drained while jobs run
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("worker stopping, context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		default:
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(job DownloadJob, workerID int) DownloadResult {
	start := time.Now()
	result := DownloadResult{Job: job}
	fields := map[string]interface{}{
		"worker_id": workerID,
		"report":    job.Report,
		"date":      job.Date.Format(time.DateOnly),
	}

	if path, err := wp.client.ReportPath(job.Report, job.Date, job.Folder); err == nil {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			wp.logger.DebugWithFields("report already downloaded", fields)
			result.Path = path
			result.Size = info.Size()
			result.Success = true
			result.Skipped = true
			result.Duration = time.Since(start)
			return result
		}
	}

	path, err := wp.client.DownloadReport(wp.ctx, job.Report, job.Date, &nse.DownloadConfig{Folder: job.Folder})
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		result.Missing = errs.IsNotFound(err)
		if !result.Missing {
			wp.logger.WithError(err).ErrorWithFields("report download failed", fields)
		}
		return result
	}

	result.Path = path
	result.Success = true
	if info, err := os.Stat(path); err == nil {
		result.Size = info.Size()
	}

	fields["path"] = path
	fields["duration"] = result.Duration
	wp.logger.DebugWithFields("report downloaded", fields)
	return result
}

// TradingDays lists the weekdays from from to to inclusive. Exchange
// holidays are not removed; their reports come back as missing.
func TradingDays(from, to time.Time) []time.Time {
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days
}

// RangeRequest describes a batch of report downloads
type RangeRequest struct {
	Reports  []string
	From, To time.Time
	Folder   string
	Workers  int
	// OnResult, when set, is called from the collecting goroutine as each
	// job finishes
	OnResult func(DownloadResult)
}

// Jobs returns the number of downloads the request expands to
func (req RangeRequest) Jobs() int {
	return len(TradingDays(req.From, req.To)) * len(req.Reports)
}

// DownloadRange fetches every requested report for every trading day of
// the range and returns the results ordered by date, then report. A failed
// job does not stop the others. When ctx ends before every job finished,
// the results gathered so far are returned together with ctx.Err().
func DownloadRange(ctx context.Context, client ReportClient, req RangeRequest, log logger.Logger) ([]DownloadResult, error) {
	if req.From.After(req.To) {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "from date is after to date")
	}
	if len(req.Reports) == 0 {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "no reports requested")
	}

	pool := NewWorkerPool(ctx, req.Workers, client, log)
	pool.Start()

	total := req.Jobs()
	var submitErr error
	go func() {
		defer pool.Stop()
		for _, day := range TradingDays(req.From, req.To) {
			for _, name := range req.Reports {
				if err := pool.Submit(DownloadJob{Report: name, Date: day, Folder: req.Folder}); err != nil {
					submitErr = err
					return
				}
			}
		}
	}()

	var results []DownloadResult
	for r := range pool.Results() {
		if req.OnResult != nil {
			req.OnResult(r)
		}
		results = append(results, r)
	}

	if err := ctx.Err(); err != nil && !allFinished(results, total, err) {
		submitErr = err
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Job, results[j].Job
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Report < b.Report
	})
	return results, submitErr
}

// allFinished reports whether every job came back without being cut short
// by the context error ctxErr
func allFinished(results []DownloadResult, total int, ctxErr error) bool {
	if len(results) < total {
		return false
	}
	for _, r := range results {
		if r.Error != nil && errors.Is(r.Error, ctxErr) {
			return false
		}
	}
	return true
}
