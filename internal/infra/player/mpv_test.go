package player

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumePercent(t *testing.T) {
	tests := []struct {
		name   string
		volume float64
		want   int
	}{
		{name: "silent", volume: 0, want: 0},
		{name: "default gain", volume: 0.15, want: 15},
		{name: "full", volume: 1, want: 100},
		{name: "rounds up", volume: 0.155, want: 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, volumePercent(tt.volume))
		})
	}
}

func TestProviderAcquireReturnsDistinctPlayers(t *testing.T) {
	p := NewProvider("")

	a, err := p.Acquire(1)
	require.NoError(t, err)
	b, err := p.Acquire(2)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, "mpv", a.(*MPV).binary)
}

func TestSetPropertyWritesIPCCommand(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	m := &MPV{conn: client}

	lines := make(chan map[string]any, 1)
	go func() {
		var payload map[string]any
		dec := json.NewDecoder(server)
		if err := dec.Decode(&payload); err == nil {
			lines <- payload
		}
	}()

	require.NoError(t, m.Pause())

	select {
	case payload := <-lines:
		assert.Equal(t, []any{"set_property", "pause", true}, payload["command"])
	case <-time.After(time.Second):
		t.Fatal("no IPC command received")
	}
}

func TestControlWithoutPlayerFails(t *testing.T) {
	m := &MPV{}

	assert.Error(t, m.Pause())
	assert.Error(t, m.Resume())
	assert.NoError(t, m.SetVolume(0.5))
}
