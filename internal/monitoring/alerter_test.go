package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sku-lookup/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{DLQThreshold: 50})

	alerts := a.Evaluate(&MetricsSnapshot{Products: 100, DLQDepth: 3})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_DLQBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{DLQThreshold: 10})

	alerts := a.Evaluate(&MetricsSnapshot{DLQDepth: 25})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDLQBacklog, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "25 failed contributions")
}

func TestAlerter_Evaluate_ZeroThresholdDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{DLQThreshold: 0})

	alerts := a.Evaluate(&MetricsSnapshot{DLQDepth: 999})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_CircuitOpen(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	alerts := a.Evaluate(&MetricsSnapshot{OpenCircuits: map[string]string{
		"upc_itemdb":     "open",
		"barcode_spider": "half-open",
	}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCircuitOpen, alerts[0].Type)
	assert.Equal(t, "catalog circuit not closed: barcode_spider, upc_itemdb", alerts[0].Message)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{DLQThreshold: 1})

	alerts := a.Evaluate(&MetricsSnapshot{
		DLQDepth:     2,
		OpenCircuits: map[string]string{"barcode_spider": "open"},
	})
	assert.Len(t, alerts, 2)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertDLQBacklog])
	assert.True(t, types[AlertCircuitOpen])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertDLQBacklog, Severity: "high", Message: "test alert 1"},
		{Type: AlertCircuitOpen, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertDLQBacklog, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertDLQBacklog, Message: "test"}})
	assert.Equal(t, 0, sent)
}
