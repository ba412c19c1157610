package notify

import (
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func TestDatagramSinkDelivers(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: socketPath, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()

	NewDatagramSink(socketPath, newTestLogger()).Send(Notification{
		Title:    "Plugin installed",
		Message:  "sonarr v1.2.0",
		Priority: PriorityInfo,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var got Notification
	require.NoError(t, json.Unmarshal(buf[:n], &got))
	require.Equal(t, "Plugin installed", got.Title)
	require.Equal(t, "sonarr v1.2.0", got.Message)
}

func TestDatagramSinkSwallowsFailures(t *testing.T) {
	// no listener on the socket, Send must not panic or block
	sink := NewDatagramSink(filepath.Join(t.TempDir(), "missing.sock"), newTestLogger())
	sink.Send(Notification{Title: "dropped"})
}
