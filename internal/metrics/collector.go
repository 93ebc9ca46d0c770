package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// JobStats is a snapshot of the job queue
type JobStats struct {
	Queued  int
	Running int
}

// JobStatsProvider reports job queue statistics
type JobStatsProvider interface {
	JobStats(ctx context.Context) (*JobStats, error)
}

// Collector periodically refreshes system and queue gauges
type Collector struct {
	metrics   *Metrics
	jobs      JobStatsProvider
	dbPath    string
	interval  time.Duration
	startTime time.Time

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewCollector creates a collector. jobs and dbPath are optional.
func NewCollector(m *Metrics, jobs JobStatsProvider, dbPath string, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		metrics:   m,
		jobs:      jobs,
		dbPath:    dbPath,
		interval:  interval,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the collection loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collection loop and waits for it to exit
func (c *Collector) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect updates all gauges once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.dbPath != "" {
		if info, err := os.Stat(c.dbPath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.jobs != nil {
		if stats, err := c.jobs.JobStats(ctx); err == nil {
			c.metrics.JobsQueued.Set(float64(stats.Queued))
			c.metrics.JobsRunning.Set(float64(stats.Running))
		}
	}
}
