package gateway

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectLifecycle(t *testing.T) {
	s := NewMockSession()
	m := NewManager(s, discardLogger())

	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsReady())

	err := m.Connect(context.Background(), "localhost", 7497, 7, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.IsReady())

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, s.IsConnected())

	// idempotent
	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectTearsDownExistingSession(t *testing.T) {
	m, s := ConnectedMock()
	require.True(t, m.IsReady())

	err := m.Connect(context.Background(), "localhost", 7497, 8, time.Second)
	require.NoError(t, err)
	assert.True(t, m.IsReady())
	assert.True(t, s.IsConnected())
}

func TestConnectErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		dialErr error
		want    error
	}{
		{"timeout", context.DeadlineExceeded, ErrConnectionTimeout},
		{"refused", syscall.ECONNREFUSED, ErrConnectionRefused},
		{"other", errors.New("handshake rejected"), ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMockSession()
			s.ConnectErr = tt.dialErr
			m := NewManager(s, discardLogger())

			err := m.Connect(context.Background(), "localhost", 7497, 1, time.Second)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateDisconnected, m.State(), "failed connect must leave a clean state")
		})
	}
}

func TestIsReadyDemotesOnSocketDrop(t *testing.T) {
	m, s := ConnectedMock()
	require.True(t, m.IsReady())

	s.DropConnection()
	assert.False(t, m.IsReady())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestAcquireRestoresDispatcher(t *testing.T) {
	m, _ := ConnectedMock()
	saved := CurrentDispatcher()
	require.NotNil(t, saved)

	// Host swaps in a fresh dispatcher between interactions.
	SetCurrentDispatcher(NewDispatcher("rerun"))
	require.NotEqual(t, saved, CurrentDispatcher())

	sess, err := m.Acquire()
	require.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Same(t, saved, CurrentDispatcher(), "Acquire must restore the session's dispatcher")
}

func TestAcquireWhenDisconnected(t *testing.T) {
	s := NewMockSession()
	m := NewManager(s, discardLogger())

	_, err := m.Acquire()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPermissionFlagViaErrorCallback(t *testing.T) {
	m, s := ConnectedMock()
	require.False(t, m.Filter().PermissionDenied())

	s.EmitError(VenueError{Code: 354, Message: "not subscribed", ReqID: 12})
	assert.True(t, m.Filter().PermissionDenied())

	// Reconnecting resets the flag.
	require.NoError(t, m.Connect(context.Background(), "localhost", 7497, 1, time.Second))
	assert.False(t, m.Filter().PermissionDenied())
}
