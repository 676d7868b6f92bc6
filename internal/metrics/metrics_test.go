package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fishfry/internal/order"
)

func TestRuleHook_CountsExecutionsAndFailures(t *testing.T) {
	r := NewRegistry()
	r.RuleHook(order.RuleTotal, true, nil)
	r.RuleHook(order.RuleTotal, true, errors.New("boom"))

	if got := testutil.ToFloat64(r.RulesExecuted.WithLabelValues("total")); got != 2 {
		t.Fatalf("executed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.RuleFailures.WithLabelValues("total")); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	r := NewRegistry()
	r.LabelsRendered.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "fishfry_labels_rendered_total 1") {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}
