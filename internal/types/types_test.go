package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeframe_Duration(t *testing.T) {
	d, err := H4.Duration()
	assert.NoError(t, err)
	assert.Equal(t, 4*time.Hour, d)

	_, err = Timeframe("W2").Duration()
	assert.Error(t, err, "Unknown timeframe should error")
}

func TestSideFromPrediction(t *testing.T) {
	assert.Equal(t, Long, SideFromPrediction(0.001))
	assert.Equal(t, Short, SideFromPrediction(-0.001))
	assert.Equal(t, float64(-1), Short.Sign())
	assert.Equal(t, float64(1), Long.Sign())
}
