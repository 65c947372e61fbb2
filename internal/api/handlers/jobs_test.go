package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTrackerLateSubscriberGetsOutcome(t *testing.T) {
	tracker := NewJobTracker()
	id := tracker.Start(3)

	tracker.Publish(ProgressEvent{JobID: id, Status: JobCompleted, Processed: 3, Total: 3})

	last, ch, ok := tracker.Subscribe(id)
	require.True(t, ok)
	assert.Nil(t, ch)
	assert.Equal(t, JobCompleted, last.Status)
	assert.Equal(t, 3, last.Processed)
}

func TestJobTrackerEvictsFinishedJobs(t *testing.T) {
	tracker := NewJobTracker()
	tracker.retention = 10 * time.Millisecond
	id := tracker.Start(1)

	tracker.Publish(ProgressEvent{JobID: id, Status: JobFailed, Total: 1, Failed: 1})

	assert.Eventually(t, func() bool {
		_, _, ok := tracker.Subscribe(id)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestJobTrackerRunningJobsSurvive(t *testing.T) {
	tracker := NewJobTracker()
	tracker.retention = time.Millisecond
	id := tracker.Start(2)

	tracker.Publish(ProgressEvent{JobID: id, Status: JobRunning, Processed: 1, Total: 2})
	time.Sleep(20 * time.Millisecond)

	last, ch, ok := tracker.Subscribe(id)
	require.True(t, ok)
	require.NotNil(t, ch)
	assert.Equal(t, 1, last.Processed)
	tracker.Unsubscribe(id, ch)
}
