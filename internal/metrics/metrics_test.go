package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	// WHY: Each recorder must land in its own labelled series.
	t.Parallel()
	m := New()
	m.RunFinished("completed", 20*time.Millisecond)
	m.RunFinished("failed", time.Millisecond)
	m.StageFailed("discovering_service", "service unavailable")
	m.Outcome("imported")
	m.Outcome("imported")
	m.Outcome("failed")

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed runs = %v", got)
	}
	if got := testutil.ToFloat64(m.stageFailures.WithLabelValues("discovering_service", "service unavailable")); got != 1 {
		t.Errorf("stage failures = %v", got)
	}
	if got := testutil.ToFloat64(m.outcomesTotal.WithLabelValues("imported")); got != 2 {
		t.Errorf("imported outcomes = %v", got)
	}
	if n := testutil.CollectAndCount(m.runDuration); n != 1 {
		t.Errorf("histogram series = %d", n)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	// WHY: Metrics are optional; callers hold a nil *Metrics when disabled.
	t.Parallel()
	var m *Metrics
	m.RunFinished("completed", time.Second)
	m.StageFailed("x", "y")
	m.Outcome("imported")
	if m.Registry() != nil {
		t.Error("nil Metrics returned a registry")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Errorf("WriteTextfile: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()
	m := New()
	m.Outcome("duplicate")
	path := filepath.Join(t.TempDir(), "keyshare.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `keyshare_import_outcomes_total{kind="duplicate"} 1`) {
		t.Errorf("textfile missing outcome series:\n%s", data)
	}
}
