package perf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

type flakyReconciler struct {
	calls  int
	failOn map[int]bool
	healed int64
}

func (f *flakyReconciler) Reconcile(ctx context.Context, storeID, productID int64) (inventory.Summary, error) {
	f.calls++
	if f.failOn[f.calls] {
		return inventory.Summary{}, errors.New("lock timeout")
	}
	return inventory.Summary{
		Count:   1,
		Scanned: 40,
		Healed:  []inventory.HealedProduct{{ProductID: int64(f.calls), OrphanStock: f.healed}},
	}, nil
}

func TestReconcileJobReliabilityAndHealedUnits(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	rec := &flakyReconciler{failOn: map[int]bool{7: true, 19: true}, healed: 5}
	job := jobs.NewInventoryReconcileJob(rec, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	task, err := jobs.NewInventoryReconcileTask(jobs.ReconcilePayload{StoreID: 4})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	for i := 0; i < 48; i++ {
		_ = job.Handle(context.Background(), task)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "pos_jobs_total", map[string]string{"job": jobs.TaskInventoryReconcile, "status": "success"})
	failure := metricValue(t, families, "pos_jobs_total", map[string]string{"job": jobs.TaskInventoryReconcile, "status": "failure"})
	if success != 46 || failure != 2 {
		t.Fatalf("unexpected run counts: success=%v failure=%v", success, failure)
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("reconcile success ratio too low: %f", ratio)
	}

	healed := metricValue(t, families, "pos_inventory_healed_units_total", map[string]string{"store": "4"})
	if healed != 46*5 {
		t.Fatalf("healed units = %v, want %v", healed, 46*5)
	}

	mean := histogramMean(t, families, "pos_job_duration_seconds", map[string]string{"job": jobs.TaskInventoryReconcile})
	if mean > 0.5 {
		t.Fatalf("reconcile job duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
