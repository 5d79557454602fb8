package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahekanna/gann-robot/pkg/config"
)

func TestSessionGates(t *testing.T) {
	s, err := NewSession(config.SessionConfig{
		Open: "09:15", Close: "15:30", SquareOff: "15:15", Timezone: "Asia/Kolkata",
	})
	require.NoError(t, err)

	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	at := func(h, m int) time.Time {
		return time.Date(2024, 6, 3, h, m, 0, 0, ist)
	}

	assert.False(t, s.CanEnter(at(9, 0)), "before open")
	assert.True(t, s.CanEnter(at(10, 30)))
	assert.False(t, s.CanEnter(at(15, 20)), "past square-off cutoff")
	assert.False(t, s.CanEnter(at(16, 0)), "after close")

	assert.False(t, s.ShouldSquareOff(at(10, 30)))
	assert.True(t, s.ShouldSquareOff(at(15, 16)))

	assert.Equal(t, "2024-06-03", s.Day(at(10, 30)))
	// A UTC timestamp late on the 3rd is already the 4th in IST.
	assert.Equal(t, "2024-06-04", s.Day(time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC)))
}
