package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/keypool/internal/adapter/observability"
)

func TestMetricsRecord(t *testing.T) {
	observability.SelectionsTotal.WithLabelValues("selected").Inc()
	observability.SelectionsTotal.WithLabelValues("exhausted").Inc()
	observability.OutcomesTotal.WithLabelValues("failure").Add(2)
	observability.KeysInCooldown.Set(3)
	observability.StateErrorsTotal.WithLabelValues("load").Inc()

	assert.GreaterOrEqual(t, testutil.ToFloat64(observability.SelectionsTotal.WithLabelValues("selected")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(observability.OutcomesTotal.WithLabelValues("failure")), 2.0)
	assert.Equal(t, 3.0, testutil.ToFloat64(observability.KeysInCooldown))
}

func TestInitMetricsRegistersOnce(t *testing.T) {
	// InitMetrics must not panic on a fresh default registry; calling the
	// helper twice in one process would, so it is invoked once here.
	assert.NotPanics(t, func() { observability.InitMetrics() })
}
