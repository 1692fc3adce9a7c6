package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailforge/internal/template"
)

type mockTemplateStats struct {
	stats *template.Stats
}

func (m *mockTemplateStats) Stats(ctx context.Context) (*template.Stats, error) {
	return m.stats, nil
}

func openTestDB(t *testing.T, path string) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func TestNewCollector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)
	defer db.Close()

	c, err := NewCollector(db, New(), nil, path, 0)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}
	if c.flushInterval != 10*time.Second {
		t.Errorf("flushInterval = %v, want 10s", c.flushInterval)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Failed to stop collector: %v", err)
	}
	// Stop is idempotent
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestCollectorPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)

	m := New()
	c, err := NewCollector(db, m, nil, path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	m.RendersTotal.WithLabelValues("html", SiteExport).Add(3)
	m.ExportsTotal.WithLabelValues("api").Add(2)
	m.TemplatesSavedTotal.Add(5)
	m.APIRequestsTotal.WithLabelValues("POST", "/api/v1/preview", "200").Inc()
	m.UptimeSeconds.Set(1234) // gauges are not persisted

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	db.Close()

	// Reopen and restore into a fresh registry
	db = openTestDB(t, path)
	defer db.Close()

	restored := New()
	c2, err := NewCollector(db, restored, nil, path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Stop()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"renders", testutil.ToFloat64(restored.RendersTotal.WithLabelValues("html", SiteExport)), 3},
		{"exports", testutil.ToFloat64(restored.ExportsTotal.WithLabelValues("api")), 2},
		{"saved", testutil.ToFloat64(restored.TemplatesSavedTotal), 5},
		{"api requests", testutil.ToFloat64(restored.APIRequestsTotal.WithLabelValues("POST", "/api/v1/preview", "200")), 1},
		{"uptime", testutil.ToFloat64(restored.UptimeSeconds), 0},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %v, want %v", ch.name, ch.got, ch.want)
		}
	}
}

func TestCollectorInvalidSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)
	defer db.Close()

	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMetrics)
		if err != nil {
			return err
		}
		return b.Put(keyCounters, []byte("{not json"))
	})
	if err != nil {
		t.Fatal(err)
	}

	c, err := NewCollector(db, New(), nil, path, time.Hour)
	if err != nil {
		t.Fatalf("NewCollector() should skip invalid data, got %v", err)
	}
	c.Stop()
}

func TestCollectSystemMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)
	defer db.Close()

	m := New()
	stats := &mockTemplateStats{stats: &template.Stats{Total: 7, Owners: 2}}
	c, err := NewCollector(db, m, stats, path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	c.collectSystemMetrics(context.Background())

	if got := testutil.ToFloat64(m.TemplatesStored); got != 7 {
		t.Errorf("TemplatesStored = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.Goroutines); got <= 0 {
		t.Errorf("Goroutines = %v, want > 0", got)
	}
	if got := testutil.ToFloat64(m.StorageUsedBytes); got <= 0 {
		t.Errorf("StorageUsedBytes = %v, want > 0", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)
	defer db.Close()

	c, err := NewCollector(db, New(), nil, path, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	time.Sleep(30 * time.Millisecond)

	if err := c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
