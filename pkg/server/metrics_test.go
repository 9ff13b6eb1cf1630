package server

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRegisteredPeers(3)
		m.RecordRegistration()
		m.RecordRegistrationRejected("nickname_taken")
		m.RecordConnectionOpened()
		m.RecordConnectionClosed()
		m.RecordBroadcast("broadcast", 2, 1, 0.01)
		m.RecordMessageReceived("BROADCAST")
		m.RecordErrorSent()
	})
}

func TestRecordBroadcast(t *testing.T) {
	m := NewMetrics()

	m.RecordBroadcast("joined", 3, 0, 0.001)
	m.RecordBroadcast("left", 2, 1, 0.002)
	m.RecordBroadcast("left", 1, 2, 0.002)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("joined")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("left")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.deliveryFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.broadcastFanout))
}

func TestConnectionGauge(t *testing.T) {
	m := NewMetrics()

	m.RecordConnectionOpened()
	m.RecordConnectionOpened()
	m.RecordConnectionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
}

func TestMessagesReceivedByCommand(t *testing.T) {
	m := NewMetrics()

	m.RecordMessageReceived("BROADCAST")
	m.RecordMessageReceived("BROADCAST")
	m.RecordMessageReceived("PORT")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("BROADCAST")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("PORT")))
}
