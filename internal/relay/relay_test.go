package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendVerbatim(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	c, err := New(pc.LocalAddr().String())
	require.NoError(t, err)
	assert.Equal(t, pc.LocalAddr().String(), c.Addr())
	body := []byte("name=Alice&note=hi+there")
	require.NoError(t, c.Send(context.Background(), body))

	buf := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, body, buf[:n])
}

func TestSendNoListener(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	pc.Close()

	c, err := New(addr)
	require.NoError(t, err)
	// fire and forget: nobody listening is not a send error
	assert.NoError(t, c.Send(context.Background(), []byte("a=1")))
}

func TestSendTooLarge(t *testing.T) {
	c, err := New("127.0.0.1:9")
	require.NoError(t, err)
	assert.Error(t, c.Send(context.Background(), make([]byte, 70000)))
}

func TestNewInvalid(t *testing.T) {
	_, err := New("not an address")
	assert.Error(t, err)
}
