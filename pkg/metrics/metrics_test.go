package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "order_expiry"
	m.JobFinished(job, 250*time.Millisecond, 3, nil)
	m.JobFinished(job, 10*time.Millisecond, 0, errors.New("stripe down"))
	m.CycleSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "storefront_cron_job_runs_total", "outcome", "success"); err != nil || got != 1 {
		t.Fatalf("expected success=1, got %v (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "storefront_cron_job_runs_total", "outcome", "failure"); err != nil || got != 1 {
		t.Fatalf("expected failure=1, got %v (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "storefront_cron_job_rows_affected_total", "job", job); err != nil || got != 3 {
		t.Fatalf("expected rows=3, got %v (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "storefront_cron_job_duration_seconds", "job", job); err != nil || got <= 0 {
		t.Fatalf("expected duration sum > 0, got %v (%v)", got, err)
	}
	if mf := findMetricFamily(mfs, "storefront_cron_cycles_skipped_total"); mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one skipped cycle")
	}
	if mf := findMetricFamily(mfs, "storefront_cron_job_last_success_timestamp_seconds"); mf == nil || mf.GetMetric()[0].GetGauge().GetValue() <= 0 {
		t.Fatalf("expected last success timestamp to be set")
	}
}

func TestStorefrontMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStorefrontMetrics(reg)
	m.CheckoutOutcome(CheckoutCreated)
	m.CheckoutOutcome(CheckoutCreated)
	m.StockMovement("sale", -3)
	m.WebhookEvent("checkout.session.completed", "applied")
	m.RateLimited("checkout")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	checks := []struct {
		name, label, value string
		want               float64
	}{
		{"storefront_checkouts_total", "outcome", CheckoutCreated, 2},
		{"storefront_stock_movements_total", "type", "sale", 1},
		{"storefront_stock_units_moved_total", "type", "sale", 3},
		{"storefront_webhook_events_total", "outcome", "applied", 1},
		{"storefront_rate_limited_total", "limiter", "checkout", 1},
	}
	for _, c := range checks {
		got, err := fetchCounterValue(mfs, c.name, c.label, c.value)
		if err != nil {
			t.Fatalf("fetch %s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestEmptyLabelsAreReportedAsUnknown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStorefrontMetrics(reg)
	m.CheckoutOutcome("")
	m.RateLimited("")
	NewCronJobMetrics(reg).JobFinished("", time.Second, 0, nil)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for name, label := range map[string]string{
		"storefront_checkouts_total":     "outcome",
		"storefront_rate_limited_total":  "limiter",
		"storefront_cron_job_runs_total": "job",
	} {
		got, err := fetchCounterValue(mfs, name, label, "unknown")
		if err != nil {
			t.Fatalf("fetch %s: %v", name, err)
		}
		if got != 1 {
			t.Fatalf("%s: expected 1, got %v", name, got)
		}
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *StorefrontMetrics
	m.CheckoutOutcome(CheckoutFailed)
	m.StockMovement("sale", 1)

	empty := NewStorefrontMetrics(nil)
	empty.WebhookEvent("x", "y")

	var cron *CronJobMetrics
	cron.JobFinished("job", time.Second, 1, nil)
	cron.CycleSkipped()
	if NewCronJobMetrics(nil) != nil {
		t.Fatal("nil registerer should yield a nil recorder")
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
