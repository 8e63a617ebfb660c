package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(decisionsTotal.WithLabelValues("local", "DIRECT"))
	RecordDecision("local", "DIRECT")
	assert.Equal(t, before+1, testutil.ToFloat64(decisionsTotal.WithLabelValues("local", "DIRECT")))

	before = testutil.ToFloat64(dialectSwitchesTotal.WithLabelValues("nested"))
	RecordDialectSwitch("nested")
	assert.Equal(t, before+1, testutil.ToFloat64(dialectSwitchesTotal.WithLabelValues("nested")))

	before = testutil.ToFloat64(backendUnavailableTotal)
	RecordBackendUnavailable()
	assert.Equal(t, before+1, testutil.ToFloat64(backendUnavailableTotal))
}

func TestLatencyObserved(t *testing.T) {
	ObserveMatchLatency("hybrid", 120*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(matchLatency))
}
