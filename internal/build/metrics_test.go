package build

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordBuild(t *testing.T) {
	m := NewMetrics()

	m.RecordBuild(100*time.Millisecond, nil)
	m.RecordBuild(300*time.Millisecond, fmt.Errorf("boom"))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalBuilds)
	assert.Equal(t, int64(1), snap.SuccessfulBuilds)
	assert.Equal(t, int64(1), snap.FailedBuilds)
	assert.Equal(t, 200*time.Millisecond, snap.AverageDuration)
	assert.Equal(t, 300*time.Millisecond, snap.LastDuration)
	assert.InDelta(t, 50.0, snap.SuccessRate(), 0.001)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.builds.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.builds.WithLabelValues("failure")))
}

func TestMetricsCacheAndOutput(t *testing.T) {
	m := NewMetrics()

	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordCache(false)
	m.RecordOutput("index", "js", 2048)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(2), snap.CacheMisses)
	assert.InDelta(t, 33.333, snap.CacheHitRate(), 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.modules))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.outputBytes.WithLabelValues("index", "js")))
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.RecordBuild(time.Millisecond, nil)

	assert.Equal(t, int64(0), b.Snapshot().TotalBuilds)
	families, err := b.Registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
