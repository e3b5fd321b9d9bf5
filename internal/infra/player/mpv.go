// Package player implements the voice transport over an mpv subprocess.
//
// mpv decodes and renders the stream; control after startup (pause, resume,
// live volume) goes through its JSON IPC socket. One player process exists
// per guild session, spawned per track and torn down on stop.
package player

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/mlbx/melobox/internal/app/playback"
)

const socketDialTimeout = 5 * time.Second

// MPV drives one guild's audio through an mpv process.
type MPV struct {
	mu sync.Mutex

	binary  string
	cmd     *exec.Cmd
	conn    net.Conn
	stopped bool
}

// Provider hands out one player per guild.
type Provider struct {
	binary string
}

// NewProvider creates a provider. binary is the mpv executable to spawn.
func NewProvider(binary string) *Provider {
	if binary == "" {
		binary = "mpv"
	}
	return &Provider{binary: binary}
}

// Acquire implements session.TransportProvider.
func (p *Provider) Acquire(_ snowflake.ID) (playback.VoiceTransport, error) {
	return &MPV{binary: p.binary}, nil
}

// Play spawns a player for the stream. done fires from the process-wait
// goroutine when the stream ends or the process dies. The lock is held only
// briefly around the spawn: the IPC socket dial runs unlocked, so Stop and
// property writes never wait behind a slow stream open. A Stop or a newer
// Play issued during the dial aborts this one.
func (m *MPV) Play(ctx context.Context, streamURL string, volume float64, done func(err error)) error {
	// A fresh socket per spawn avoids racing against a dying predecessor.
	socketPath := filepath.Join(os.TempDir(), fmt.Sprintf("melobox-%s.sock", uuid.NewString()))

	cmd := exec.Command(m.binary,
		"--no-video",
		"--no-terminal",
		"--idle=no",
		fmt.Sprintf("--volume=%d", volumePercent(volume)),
		"--input-ipc-server="+socketPath,
		streamURL,
	)

	m.mu.Lock()
	m.teardownLocked()
	m.stopped = false
	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "failed to start player process")
	}
	m.cmd = cmd
	m.mu.Unlock()

	conn, err := dialSocket(ctx, socketPath)

	m.mu.Lock()
	if err == nil && (m.stopped || m.cmd != cmd) {
		err = errors.New("player superseded during startup")
	}
	if err != nil {
		if m.cmd == cmd {
			m.cmd = nil
		}
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return errors.Wrap(err, "failed to reach player IPC socket")
	}
	m.conn = conn
	m.mu.Unlock()

	// Drain IPC events so mpv's socket writer never blocks.
	go drain(conn)

	go func() {
		err := cmd.Wait()
		m.mu.Lock()
		stale := m.stopped || m.cmd != cmd
		if m.cmd == cmd {
			m.closeConnLocked()
			m.cmd = nil
		}
		m.mu.Unlock()

		if stale {
			return
		}
		if err != nil {
			done(errors.Wrap(err, "player exited abnormally"))
			return
		}
		done(nil)
	}()

	return nil
}

// Stop kills the current player, if any.
func (m *MPV) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	m.teardownLocked()
}

// Pause implements playback.VoiceTransport.
func (m *MPV) Pause() error {
	return m.setProperty("pause", true)
}

// Resume implements playback.VoiceTransport.
func (m *MPV) Resume() error {
	return m.setProperty("pause", false)
}

// SetVolume implements playback.VoiceTransport. Applies to the running
// stream without interrupting it; a no-op when nothing is playing.
func (m *MPV) SetVolume(volume float64) error {
	m.mu.Lock()
	idle := m.conn == nil
	m.mu.Unlock()
	if idle {
		return nil
	}
	return m.setProperty("volume", volumePercent(volume))
}

func (m *MPV) setProperty(name string, value any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.New("no player running")
	}

	payload, err := json.Marshal(map[string]any{
		"command": []any{"set_property", name, value},
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode IPC command")
	}
	payload = append(payload, '\n')

	if _, err := conn.Write(payload); err != nil {
		return errors.Wrapf(err, "failed to set %s", name)
	}
	return nil
}

func dialSocket(ctx context.Context, socketPath string) (net.Conn, error) {
	deadline := time.Now().Add(socketDialTimeout)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// teardownLocked kills the process and closes the socket. The wait
// goroutine observes m.stopped and suppresses its completion callback.
func (m *MPV) teardownLocked() {
	if m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err != nil {
			zlog.Debug().Msgf("player: kill failed: error=%v", err)
		}
	}
	m.closeConnLocked()
}

func (m *MPV) closeConnLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

// volumePercent maps the gain fraction onto mpv's 0-100 scale.
func volumePercent(volume float64) int {
	return int(volume*100 + 0.5)
}

func drain(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
