package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

func connectBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestBusDeviceStreamsFramesUntilFinal(t *testing.T) {
	client := connectBus(t)
	dev := NewBusDevice(client, "kitchen", newLogger())

	stream, err := dev.Acquire(context.Background())
	require.NoError(t, err)

	subject := protocol.AudioFrameSubject("kitchen")
	frames := []protocol.AudioFrame{
		{SessionID: "remote", Sequence: 1, PCM: []byte("ab")},
		{SessionID: "remote", Sequence: 1, PCM: []byte("dup")},
		{SessionID: "remote", Sequence: 2, PCM: []byte("cd")},
		{SessionID: "remote", Sequence: 3, PCM: []byte("ef"), Final: true},
	}
	for _, f := range frames {
		require.NoError(t, client.PublishJSON(subject, f))
	}
	require.NoError(t, client.Flush())

	events := collect(t, stream)
	last := events[len(events)-1]
	assert.Equal(t, EventStopped, last.Kind)
	assert.NoError(t, last.Err)
	assert.Equal(t, "abcdef", joined(events))
	assert.NoError(t, stream.Stop())
}

func TestBusDeviceStop(t *testing.T) {
	client := connectBus(t)
	stream, err := NewBusDevice(client, "desk", newLogger()).Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.PublishJSON(protocol.AudioFrameSubject("desk"), protocol.AudioFrame{PCM: []byte("zz")}))
	require.NoError(t, client.Flush())

	require.NoError(t, stream.Stop())

	events := collect(t, stream)
	assert.Equal(t, EventStopped, events[len(events)-1].Kind)
	require.NoError(t, client.PublishJSON(protocol.AudioFrameSubject("desk"), protocol.AudioFrame{PCM: []byte("late")}))
	assert.NotContains(t, joined(events), "late")
}

func TestBusDeviceUnavailableWhenDisconnected(t *testing.T) {
	client := connectBus(t)
	client.Close()

	_, err := NewBusDevice(client, "desk", newLogger()).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
