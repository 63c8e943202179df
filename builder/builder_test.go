package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_TCPClientRequiresValidHostAndPort(t *testing.T) {
	_, err := New().TCPClient("not a valid host!!", 9000).UseIndependentContext().Build()
	assert.Error(t, err)

	_, err = New().TCPClient("localhost", -1).UseIndependentContext().Build()
	assert.Error(t, err)
}

func TestBuild_TCPClientWithValidConfigSucceeds(t *testing.T) {
	ch, err := New().
		TCPClient("127.0.0.1", 9999).
		ConnectTimeout(100 * time.Millisecond).
		UseIndependentContext().
		Build()

	require.NoError(t, err)
	require.NotNil(t, ch)
}

func TestBuild_TCPServerAutoStartListens(t *testing.T) {
	ch, err := New().
		TCPServer("127.0.0.1", 19321).
		AutoStart().
		UseIndependentContext().
		Build()

	require.NoError(t, err)
	require.NotNil(t, ch)
	t.Cleanup(ch.Stop)
}

func TestBuild_SerialRejectsInvalidBaudRate(t *testing.T) {
	_, err := New().Serial("/dev/ttyUSB0", 0).UseIndependentContext().Build()
	assert.Error(t, err)
}

func TestBuild_SerialRejectsInvalidDevicePath(t *testing.T) {
	_, err := New().Serial("not-a-device!!", 9600).UseIndependentContext().Build()
	assert.Error(t, err)
}

func TestBuild_NoCarrierSelectedFails(t *testing.T) {
	_, err := New().UseIndependentContext().Build()
	assert.Error(t, err)
}

func TestBuild_OnDataCallbackIsWired(t *testing.T) {
	ch, err := New().
		TCPClient("127.0.0.1", 9999).
		ConnectTimeout(50 * time.Millisecond).
		OnData(func(data []byte) {}).
		UseIndependentContext().
		Build()

	require.NoError(t, err)
	t.Cleanup(ch.Stop)
}
