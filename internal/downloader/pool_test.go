package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/nse"
)

// MockClient writes a small file per report, or fails for dates listed
// in missing
type MockClient struct {
	folder        string
	downloadDelay time.Duration
	downloadError error
	missing       map[string]bool

	downloadCounter int32
	active          int32
	maxActive       int32
}

func newMockClient(t *testing.T) *MockClient {
	return &MockClient{folder: t.TempDir(), missing: make(map[string]bool)}
}

func (m *MockClient) ReportPath(name string, date time.Time, folder string) (string, error) {
	if folder == "" {
		folder = m.folder
	}
	return filepath.Join(folder, fmt.Sprintf("%s_%s.csv", name, date.Format("20060102"))), nil
}

func (m *MockClient) DownloadReport(ctx context.Context, name string, date time.Time, cfg *nse.DownloadConfig) (string, error) {
	atomic.AddInt32(&m.downloadCounter, 1)
	n := atomic.AddInt32(&m.active, 1)
	defer atomic.AddInt32(&m.active, -1)
	for {
		peak := atomic.LoadInt32(&m.maxActive)
		if n <= peak || atomic.CompareAndSwapInt32(&m.maxActive, peak, n) {
			break
		}
	}

	if m.downloadDelay > 0 {
		time.Sleep(m.downloadDelay)
	}
	if m.downloadError != nil {
		return "", m.downloadError
	}
	if m.missing[date.Format(time.DateOnly)] {
		return "", errs.Newf(errs.ErrorTypeNotFound, 404, "%s for %s not found", name, date.Format(time.DateOnly))
	}

	path, _ := m.ReportPath(name, date, cfg.Folder)
	return path, os.WriteFile(path, []byte("SYMBOL,CLOSE\nINFY,1500\n"), 0644)
}

func (m *MockClient) GetDownloadCount() int {
	return int(atomic.LoadInt32(&m.downloadCounter))
}

func collect(pool *WorkerPool) (*[]DownloadResult, *sync.WaitGroup) {
	var results []DownloadResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range pool.Results() {
			results = append(results, r)
		}
	}()
	return &results, &wg
}

func day(d int) time.Time {
	return time.Date(2026, time.October, d, 0, 0, 0, 0, time.UTC)
}

func TestWorkerPoolBasicFunctionality(t *testing.T) {
	client := newMockClient(t)
	client.downloadDelay = 10 * time.Millisecond

	pool := NewWorkerPool(context.Background(), 3, client, nil)
	pool.Start()
	results, wg := collect(pool)

	numJobs := 10
	for i := 0; i < numJobs; i++ {
		require.NoError(t, pool.Submit(DownloadJob{Report: "equity", Date: day(1 + i)}))
	}
	pool.Stop()
	wg.Wait()

	require.Len(t, *results, numJobs)
	for _, r := range *results {
		assert.True(t, r.Success)
		assert.False(t, r.Skipped)
		assert.FileExists(t, r.Path)
		assert.Positive(t, r.Size)
	}
	assert.Equal(t, numJobs, client.GetDownloadCount())
}

func TestWorkerPoolWithErrors(t *testing.T) {
	client := newMockClient(t)
	client.downloadError = errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
	tl := logger.NewTestLogger()

	pool := NewWorkerPool(context.Background(), 2, client, tl)
	pool.Start()
	results, wg := collect(pool)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(DownloadJob{Report: "fno", Date: day(5 + i)}))
	}
	pool.Stop()
	wg.Wait()

	require.Len(t, *results, 5)
	for _, r := range *results {
		assert.False(t, r.Success)
		assert.False(t, r.Missing)
		assert.True(t, errs.IsNetwork(r.Error))
	}
	assert.Equal(t, 5, tl.CountMessage("report download failed"))
}

func TestWorkerPoolMissingReportIsNotAnError(t *testing.T) {
	client := newMockClient(t)
	client.missing["2026-10-02"] = true
	tl := logger.NewTestLogger()

	pool := NewWorkerPool(context.Background(), 2, client, tl)
	pool.Start()
	results, wg := collect(pool)

	require.NoError(t, pool.Submit(DownloadJob{Report: "equity", Date: day(2)}))
	pool.Stop()
	wg.Wait()

	require.Len(t, *results, 1)
	r := (*results)[0]
	assert.True(t, r.Missing)
	assert.True(t, errs.IsNotFound(r.Error))
	assert.False(t, tl.HasError())
}

func TestWorkerPoolConcurrency(t *testing.T) {
	client := newMockClient(t)
	client.downloadDelay = 100 * time.Millisecond

	pool := NewWorkerPool(context.Background(), 5, client, nil)
	pool.Start()
	results, wg := collect(pool)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(DownloadJob{Report: "indices", Date: day(1 + i)}))
	}
	pool.Stop()
	wg.Wait()

	// two rounds of five
	assert.Less(t, time.Since(start), 450*time.Millisecond)
	assert.Len(t, *results, 10)
	assert.LessOrEqual(t, atomic.LoadInt32(&client.maxActive), int32(5))
	assert.Greater(t, atomic.LoadInt32(&client.maxActive), int32(1))
}

func TestWorkerPoolSkipsExistingReports(t *testing.T) {
	client := newMockClient(t)
	for _, d := range []int{1, 2} {
		path, _ := client.ReportPath("equity", day(d), "")
		require.NoError(t, os.WriteFile(path, []byte("cached"), 0644))
	}
	empty, _ := client.ReportPath("equity", day(5), "")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	pool := NewWorkerPool(context.Background(), 2, client, nil)
	pool.Start()
	results, wg := collect(pool)

	for _, d := range []int{1, 2, 5, 6} {
		require.NoError(t, pool.Submit(DownloadJob{Report: "equity", Date: day(d)}))
	}
	pool.Stop()
	wg.Wait()

	require.Len(t, *results, 4)
	skipped := 0
	for _, r := range *results {
		assert.True(t, r.Success)
		if r.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 2, skipped)
	assert.Equal(t, 2, client.GetDownloadCount(), "an empty file is downloaded again")
}

func TestWorkerPoolSubmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(ctx, 1, newMockClient(t), nil)
	cancel()

	// fill the buffer so Submit has to choose
	for i := 0; i < 2; i++ {
		pool.jobQueue <- DownloadJob{Report: "equity", Date: day(1)}
	}
	err := pool.Submit(DownloadJob{Report: "equity", Date: day(2)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTradingDays(t *testing.T) {
	// Friday 2026-10-16 to Tuesday 2026-10-20
	got := TradingDays(time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC), day(20))
	var dates []string
	for _, d := range got {
		dates = append(dates, d.Format(time.DateOnly))
	}
	assert.Equal(t, []string{"2026-10-16", "2026-10-19", "2026-10-20"}, dates)

	assert.Empty(t, TradingDays(day(17), day(18)))
}

func TestDownloadRange(t *testing.T) {
	client := newMockClient(t)
	client.missing["2026-10-19"] = true
	folder := t.TempDir()

	req := RangeRequest{
		Reports: []string{"fno", "equity"},
		From:    day(16),
		To:      day(20),
		Folder:  folder,
		Workers: 3,
	}
	seen := 0
	req.OnResult = func(DownloadResult) { seen++ }
	assert.Equal(t, 6, req.Jobs())

	results, err := DownloadRange(context.Background(), client, req, nil)
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Equal(t, 6, seen)

	var order []string
	for _, r := range results {
		order = append(order, r.Job.Date.Format("02")+" "+r.Job.Report)
		assert.Equal(t, folder, r.Job.Folder)
	}
	assert.Equal(t, []string{"16 equity", "16 fno", "19 equity", "19 fno", "20 equity", "20 fno"}, order)

	assert.True(t, results[0].Success)
	assert.Equal(t, folder, filepath.Dir(results[0].Path))
	assert.True(t, results[2].Missing)
	assert.True(t, results[3].Missing)
}

func TestDownloadRangeCancelled(t *testing.T) {
	client := newMockClient(t)
	client.downloadDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := RangeRequest{
		Reports: []string{"equity"},
		From:    day(12),
		To:      day(16),
		Workers: 1,
		// stop after the first report lands
		OnResult: func(DownloadResult) { cancel() },
	}

	results, err := DownloadRange(ctx, client, req, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, results)
	assert.Less(t, len(results), req.Jobs())
}

func TestDownloadRangeRejectsBadRequests(t *testing.T) {
	client := newMockClient(t)

	_, err := DownloadRange(context.Background(), client, RangeRequest{Reports: []string{"equity"}, From: day(20), To: day(16)}, nil)
	assert.True(t, errs.Is(err, errs.ErrorTypeInvalidArgument))

	_, err = DownloadRange(context.Background(), client, RangeRequest{From: day(16), To: day(20)}, nil)
	assert.True(t, errs.Is(err, errs.ErrorTypeInvalidArgument))

	assert.Zero(t, client.GetDownloadCount())
}
