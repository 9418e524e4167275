package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		SessionsOpenedTotal,
		SessionsActive,
		FragmentsWrittenTotal,
		FragmentBytesTotal,
		FragmentWriteErrorsTotal,
		FramesDiscardedTotal,
		ControlMessagesTotal,
		MergesTotal,
		MergeDuration,
		MergesInFlight,
		WebSocketRejectionsTotal,
	}

	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		c.Describe(desc)
		close(desc)
		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(MergesTotal.WithLabelValues("merged"))
	MergesTotal.WithLabelValues("merged").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(MergesTotal.WithLabelValues("merged")))

	before = testutil.ToFloat64(ControlMessagesTotal.WithLabelValues("malformed"))
	ControlMessagesTotal.WithLabelValues("malformed").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(ControlMessagesTotal.WithLabelValues("malformed")))
}
