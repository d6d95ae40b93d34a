package runtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-dictate/internal/session"
)

func TestHubRegisterQueuesSnapshotFirst(t *testing.T) {
	h := newHub(func() session.Snapshot {
		return session.Snapshot{State: session.StateRecording}
	}, newLogger())

	c := newWSClient()
	require.True(t, h.register(c))
	h.observe(session.Event{Kind: session.EventState, Snapshot: session.Snapshot{State: session.StateTranscribing}})

	next := func() streamMessage {
		t.Helper()
		select {
		case data := <-c.send:
			var msg streamMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			return msg
		default:
			t.Fatal("no frame queued")
			return streamMessage{}
		}
	}
	assert.Equal(t, session.StateRecording, next().Session.State)
	assert.Equal(t, session.StateTranscribing, next().Session.State)
}

func TestHubRejectsClientsAfterClose(t *testing.T) {
	h := newHub(func() session.Snapshot { return session.Snapshot{} }, newLogger())
	h.close()

	c := newWSClient()
	assert.False(t, h.register(c))
	assert.Empty(t, c.send)
}
