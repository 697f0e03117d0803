package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	t.Run("投递扫描", func(t *testing.T) {
		m.RecordSweep("ok", 3, time.Second)
		m.RecordSweep("locked", 0, time.Millisecond)
		m.RecordDelivery(true)
		m.RecordDelivery(true)
		m.RecordDelivery(false)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepsTotal.WithLabelValues("ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepsTotal.WithLabelValues("locked")))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.MessagesDue))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesDelivered))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures))
	})

	t.Run("定时任务", func(t *testing.T) {
		m.RecordJobRun("deliver", nil, time.Second)
		m.RecordJobRun("deliver", errors.New("x"), time.Second)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("deliver", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("deliver", "error")))
	})

	t.Run("邮件结果", func(t *testing.T) {
		m.RecordEmail("confirmation", false)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("confirmation", "failed")))
	})

	t.Run("暴露指标接口", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "timecapsule_delivery_sweeps_total")
		assert.Contains(t, rec.Body.String(), "timecapsule_uptime_seconds")
	})
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	// 每个实例使用独立注册表，重复创建不会冲突
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}
