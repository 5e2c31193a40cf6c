package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/bloxgate/core"
)

func TestSessionLifecycle(t *testing.T) {
	m := NewSessionManager(8, time.Minute, nil)
	defer m.CloseAll()

	sess := m.Create(ProtocolVersion)
	assert.Equal(t, SessionNew, sess.State())
	assert.NotEmpty(t, sess.ID)

	sess.Ready()
	assert.Equal(t, SessionReady, sess.State())

	got, ok := m.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, m.Count())

	m.Remove(sess.ID)
	assert.Equal(t, SessionClosed, sess.State())
	_, ok = m.Get(sess.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}

func TestSessionReadyOnlyFromNew(t *testing.T) {
	m := NewSessionManager(8, time.Minute, nil)
	defer m.CloseAll()

	sess := m.Create(ProtocolVersion)
	sess.Close()
	sess.Ready()
	assert.Equal(t, SessionClosed, sess.State(), "closed sessions never reopen")
}

func TestSessionSendReceive(t *testing.T) {
	m := NewSessionManager(8, time.Minute, nil)
	defer m.CloseAll()

	sess := m.Create(ProtocolVersion)
	require.NoError(t, sess.Send(Frame{Type: TypeProgress, Message: "started"}))

	frame := <-sess.Receive()
	assert.Equal(t, TypeProgress, frame.Type)
	assert.Equal(t, "started", frame.Message)
}

func TestSessionSendAfterClose(t *testing.T) {
	m := NewSessionManager(8, time.Minute, nil)
	defer m.CloseAll()

	sess := m.Create(ProtocolVersion)
	sess.Close()

	err := sess.Send(Frame{Type: TypeProgress})
	assert.ErrorIs(t, err, core.ErrSessionClosed)
}

func TestSessionSendUnblocksOnClose(t *testing.T) {
	m := NewSessionManager(1, time.Minute, nil)
	defer m.CloseAll()

	sess := m.Create(ProtocolVersion)
	require.NoError(t, sess.Send(Frame{Type: TypeProgress}))

	// Queue is full; the next send blocks until the session closes.
	done := make(chan error, 1)
	go func() {
		done <- sess.Send(Frame{Type: TypeProgress})
	}()

	time.Sleep(10 * time.Millisecond)
	sess.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked send did not observe session close")
	}
}

func TestSessionContextCancelledOnClose(t *testing.T) {
	m := NewSessionManager(8, time.Minute, nil)
	defer m.CloseAll()

	sess := m.Create(ProtocolVersion)
	ctx := sess.Context()
	require.NoError(t, ctx.Err())

	sess.Close()
	assert.Error(t, ctx.Err())
}

func TestSessionIdleEviction(t *testing.T) {
	m := NewSessionManager(8, 40*time.Millisecond, nil)
	defer m.CloseAll()

	idle := m.Create(ProtocolVersion)
	active := m.Create(ProtocolVersion)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		active.Touch()
		if _, ok := m.Get(idle.ID); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, ok := m.Get(idle.ID)
	assert.False(t, ok, "idle session evicted")
	_, ok = m.Get(active.ID)
	assert.True(t, ok, "active session survives")
	assert.Equal(t, SessionClosed, idle.State())
}

func TestCloseAll(t *testing.T) {
	m := NewSessionManager(8, time.Minute, nil)

	a := m.Create(ProtocolVersion)
	b := m.Create(ProtocolVersion)
	m.CloseAll()

	assert.Equal(t, 0, m.Count())
	assert.Equal(t, SessionClosed, a.State())
	assert.Equal(t, SessionClosed, b.State())
}
