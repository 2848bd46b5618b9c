package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNotExpiredWithinBudget(t *testing.T) {
	clk := NewClock(time.Minute)

	assert.False(t, clk.Expired())
	assert.Greater(t, clk.Remaining(), 59*time.Second)
	assert.True(t, clk.Deadline().After(time.Now()))
}

func TestClockExpiresAfterBudget(t *testing.T) {
	clk := NewClock(10 * time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	assert.True(t, clk.Expired())
	assert.Equal(t, time.Duration(0), clk.Remaining())
}

func TestClockZeroBudgetExpiresImmediately(t *testing.T) {
	clk := NewClock(0)

	assert.True(t, clk.Expired())
	assert.Equal(t, time.Duration(0), clk.Remaining())
}
