package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletedWireLayout(t *testing.T) {
	taskID := uuid.New()
	event := NewCompleted("u1", taskID, "reverse_string", map[string]any{"reversed_text": "cba"})

	data, err := Encode(event)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "u1", wire["user_id"])
	assert.Equal(t, taskID.String(), wire["task_id"])
	assert.Equal(t, "reverse_string", wire["task_type"])
	assert.Equal(t, "completed", wire["status"])
	assert.Equal(t, map[string]any{"reversed_text": "cba"}, wire["result"])
	assert.NotContains(t, wire, "error")

	ts, err := time.Parse(time.RFC3339Nano, wire["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestNewErrorWireLayout(t *testing.T) {
	event := NewError("u1", "", "bogus", "Task type not found: bogus")

	data, err := Encode(event)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, SyntheticTaskID, wire["task_id"])
	assert.Equal(t, "error", wire["status"])
	assert.Equal(t, "bogus", wire["task_type"])
	assert.Equal(t, "Task type not found: bogus", wire["error"])
	assert.NotContains(t, wire, "result")
}

func TestDecode(t *testing.T) {
	t.Run("accepts numeric identity", func(t *testing.T) {
		e, err := Decode([]byte(`{"user_id": 3, "task_id": "t", "task_type": "x", "status": "completed", "timestamp": "2025-01-01T00:00:00", "result": {"number": 4}}`))
		require.NoError(t, err)
		assert.True(t, e.BelongsTo("3"))
		assert.False(t, e.BelongsTo("4"))
		assert.Equal(t, float64(4), e.Result["number"])
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := Decode([]byte(`not json`))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := Decode([]byte(`{"user_id": "u1", "task_id": "t", "status": "pending"}`))
		assert.ErrorIs(t, err, ErrUnknownStatus)
	})

	t.Run("rejects missing task id", func(t *testing.T) {
		_, err := Decode([]byte(`{"user_id": "u1", "status": "error", "error": "boom"}`))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("rejects error event with result", func(t *testing.T) {
		_, err := Decode([]byte(`{"user_id": "u1", "task_id": "t", "status": "error", "result": {}}`))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestBelongsToRequiresIdentity(t *testing.T) {
	e := NewError("", "", "x", "boom")
	assert.False(t, e.BelongsTo(""), "events without identity are never routed")
}

func TestTimestampIsUTC(t *testing.T) {
	local := time.FixedZone("UTC+5", 5*60*60)
	orig := clock
	clock = func() time.Time { return time.Date(2024, 3, 1, 17, 4, 5, 123456000, local) }
	t.Cleanup(func() { clock = orig })

	event := NewError("u1", "", "bogus", "Task type not found: bogus")
	assert.Equal(t, "2024-03-01T12:04:05.123456Z", event.Timestamp)
}
