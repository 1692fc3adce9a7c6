package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailforge/internal/template"
)

// TemplateStatsProvider provides template statistics for metrics
type TemplateStatsProvider interface {
	Stats(ctx context.Context) (*template.Stats, error)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// counterSample is one persisted counter series.
type counterSample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and updates system gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	templateStats TemplateStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector and restores persisted counters into m.
func NewCollector(db *bolt.DB, m *Metrics, templateStats TemplateStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		templateStats: templateStats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.collectSystemMetrics(ctx)

	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted values to the registered counters
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var snapshot map[string][]counterSample
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil // Skip invalid data
		}

		for name, samples := range snapshot {
			if vec, ok := c.metrics.counterVecs[name]; ok {
				for _, s := range samples {
					counter, err := vec.GetMetricWith(prometheus.Labels(s.Labels))
					if err != nil {
						continue // label set changed between versions
					}
					counter.Add(s.Value)
				}
				continue
			}
			if counter, ok := c.metrics.counters[name]; ok {
				for _, s := range samples {
					counter.Add(s.Value)
				}
			}
		}
		return nil
	})
}

// snapshot gathers the current value of every restorable counter
func (c *Collector) snapshot() (map[string][]counterSample, error) {
	families, err := c.metrics.registry.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]counterSample)
	for _, mf := range families {
		name := mf.GetName()
		_, isVec := c.metrics.counterVecs[name]
		_, isCounter := c.metrics.counters[name]
		if (!isVec && !isCounter) || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}

		for _, metric := range mf.GetMetric() {
			sample := counterSample{Value: metric.GetCounter().GetValue()}
			if len(metric.GetLabel()) > 0 {
				sample.Labels = make(map[string]string, len(metric.GetLabel()))
				for _, lp := range metric.GetLabel() {
					sample.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			out[name] = append(out[name], sample)
		}
	}
	return out, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	snapshot, err := c.snapshot()
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.templateStats != nil {
		if stats, err := c.templateStats.Stats(ctx); err == nil {
			c.metrics.TemplatesStored.Set(float64(stats.Total))
		}
	}
}
