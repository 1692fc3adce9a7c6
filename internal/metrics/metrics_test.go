package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}

	// Touch every vector so Gather reports it
	m.RendersTotal.WithLabelValues("text", SitePreview)
	m.RenderDurationSeconds.WithLabelValues(SitePreview)
	m.ValidationFailuresTotal.WithLabelValues("title")
	m.ExportsTotal.WithLabelValues("api")
	m.UploadsTotal.WithLabelValues("local", "ok")
	m.TestSendsTotal.WithLabelValues("ok")
	m.APIRequestsTotal.WithLabelValues("GET", "/", "200")
	m.APIRequestDurationSeconds.WithLabelValues("GET", "/")
	m.APIErrorsTotal.WithLabelValues("not_found")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"mailforge_renders_total",
		"mailforge_render_duration_seconds",
		"mailforge_validation_failures_total",
		"mailforge_exports_total",
		"mailforge_uploads_total",
		"mailforge_templates_saved_total",
		"mailforge_templates_stored",
		"mailforge_test_sends_total",
		"mailforge_api_requests_total",
		"mailforge_api_request_duration_seconds",
		"mailforge_uptime_seconds",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestGlobalMetrics(t *testing.T) {
	SetGlobal(nil)
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
}

func TestHelpers(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	ObserveRender("markdown", SiteExport, 2*time.Millisecond)
	ObserveRender("markdown", SiteExport, time.Millisecond)
	IncValidationFailures("images")
	IncExports("saved")
	IncUploads("s3", "rejected")
	IncTemplatesSaved()
	IncTestSends("failed")
	IncAPIErrors("server_error")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"renders", testutil.ToFloat64(m.RendersTotal.WithLabelValues("markdown", SiteExport)), 2},
		{"validation", testutil.ToFloat64(m.ValidationFailuresTotal.WithLabelValues("images")), 1},
		{"exports", testutil.ToFloat64(m.ExportsTotal.WithLabelValues("saved")), 1},
		{"uploads", testutil.ToFloat64(m.UploadsTotal.WithLabelValues("s3", "rejected")), 1},
		{"saved", testutil.ToFloat64(m.TemplatesSavedTotal), 1},
		{"sends", testutil.ToFloat64(m.TestSendsTotal.WithLabelValues("failed")), 1},
		{"errors", testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("server_error")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestHelpersWithoutGlobal(t *testing.T) {
	SetGlobal(nil)

	// None of these may panic
	ObserveRender("text", SitePreview, time.Millisecond)
	IncValidationFailures("title")
	IncExports("api")
	IncUploads("local", "ok")
	IncTemplatesSaved()
	IncTestSends("ok")
	IncAPIErrors("not_found")
}
