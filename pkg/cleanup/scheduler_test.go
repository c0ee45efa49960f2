package cleanup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRejectsInvalidExpression(t *testing.T) {
	fx := newJanitorFixture(t, nil, false)

	_, err := NewScheduler(fx.janitor, "not a cron expression")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cleanup schedule")
}

func TestSchedulerStartStop(t *testing.T) {
	fx := newJanitorFixture(t, nil, false)

	s, err := NewScheduler(fx.janitor, "@every 1h")
	require.NoError(t, err)

	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
}
