package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/socializer-backend/internal/queue"
)

func TestQueueFor(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"ingest_thread":       queue.QueueIngestion,
		"poll_thread":         queue.QueueIngestion,
		"poll_thread.catchup": queue.QueueIngestion,
		"classify_comments":   queue.QueueML,
		"link_entities":       queue.QueueML,
		"compute_aggregates":  queue.QueueML,
		"check_alerts":        queue.QueueAlerts,
		"deliver_alert_event": queue.QueueAlerts,
		"sweep_stale_locks":   queue.QueueDefault,
		"":                    queue.QueueDefault,
	}

	for task, want := range tests {
		assert.Equal(t, want, queue.QueueFor(task), task)
	}
}

func TestBaseTask(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "poll_thread", queue.BaseTask("poll_thread.catchup"))
	assert.Equal(t, "poll_thread", queue.BaseTask("poll_thread"))
	assert.Equal(t, ".hidden", queue.BaseTask(".hidden"))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	env, err := queue.NewEnvelope(queue.TaskClassifyComments, queue.ClassifyCommentsArgs{CommentIDs: []int64{4, 8, 15}})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, 0, env.Attempt)
	assert.WithinDuration(t, time.Now(), env.EnqueuedAt, time.Minute)

	payload, err := env.Encode()
	require.NoError(t, err)

	decoded, err := queue.DecodeEnvelope(payload)
	require.NoError(t, err)

	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, queue.TaskClassifyComments, decoded.Task)

	var args queue.ClassifyCommentsArgs
	require.NoError(t, decoded.DecodeArgs(&args))
	assert.Equal(t, []int64{4, 8, 15}, args.CommentIDs)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := queue.DecodeEnvelope("not json")
	assert.Error(t, err)

	_, err = queue.DecodeEnvelope(`{"args":{}}`)
	assert.Error(t, err)
}
