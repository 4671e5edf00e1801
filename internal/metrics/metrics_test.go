package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCacheResults_TracksHitsAndMissesSeparately(t *testing.T) {
	CacheResults.Reset()
	CacheResults.WithLabelValues("hot", "hit").Inc()
	CacheResults.WithLabelValues("hot", "hit").Inc()
	CacheResults.WithLabelValues("hot", "miss").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(CacheResults.WithLabelValues("hot", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(CacheResults.WithLabelValues("hot", "miss")))
}

func TestVersionConflicts_LabeledByComponent(t *testing.T) {
	VersionConflicts.Reset()
	VersionConflicts.WithLabelValues("draft").Inc()
	VersionConflicts.WithLabelValues("title").Inc()
	VersionConflicts.WithLabelValues("title").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(VersionConflicts.WithLabelValues("draft")))
	assert.Equal(t, float64(2), testutil.ToFloat64(VersionConflicts.WithLabelValues("title")))
}

func TestQueueOverflows_IsAPlainCounter(t *testing.T) {
	before := testutil.ToFloat64(QueueOverflows)
	QueueOverflows.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(QueueOverflows))
}

func TestStreamChunksDelivered_LabeledByKind(t *testing.T) {
	StreamChunksDelivered.Reset()
	StreamChunksDelivered.WithLabelValues("stream_chunk").Inc()
	StreamChunksDelivered.WithLabelValues("ready").Inc()
	StreamChunksDelivered.WithLabelValues("ready").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(StreamChunksDelivered.WithLabelValues("stream_chunk")))
	assert.Equal(t, float64(2), testutil.ToFloat64(StreamChunksDelivered.WithLabelValues("ready")))
}

func TestActiveSessions_IsAGaugeSettableByShard(t *testing.T) {
	ActiveSessions.Reset()
	ActiveSessions.WithLabelValues("0").Set(4)
	ActiveSessions.WithLabelValues("1").Set(9)

	assert.Equal(t, float64(4), testutil.ToFloat64(ActiveSessions.WithLabelValues("0")))
	assert.Equal(t, float64(9), testutil.ToFloat64(ActiveSessions.WithLabelValues("1")))
}
