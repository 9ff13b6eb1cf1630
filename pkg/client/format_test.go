package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0B", FormatBytes(0))
	assert.Equal(t, "1023B", FormatBytes(1023))
	assert.Equal(t, "1.0KB", FormatBytes(1024))
	assert.Equal(t, "1.5MB", FormatBytes(1536*1024))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "5m", FormatDuration(5*time.Minute+10*time.Second))
	assert.Equal(t, "2h", FormatDuration(2*time.Hour))
	assert.Equal(t, "2h15m", FormatDuration(2*time.Hour+15*time.Minute))
}

func TestFormatTrafficLine(t *testing.T) {
	assert.Equal(t, "↑ 10B  ↓ 2.0KB", FormatTrafficLine(10, 2048))
}
