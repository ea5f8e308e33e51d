package connio

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/brudvik/hugin-ircd/internal/ircmsg"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(logrusDiscard{})
	return logrus.NewEntry(l)
}

type logrusDiscard struct{}

func (logrusDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestConnDeliversParsedLines(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	received := make(chan ircmsg.Message, 4)
	dead := make(chan struct{})

	c := New("conn1", server, time.Second, discardLogger(),
		func(id string, msg ircmsg.Message) { received <- msg },
		func(id string, err error) { close(dead) },
	)
	shutdown := make(chan struct{})
	c.Start(shutdown)

	_, err := client.Write([]byte("NICK alice\r\n"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Equal(t, "NICK", msg.Command)
		require.Equal(t, []string{"alice"}, msg.Params)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for parsed message")
	}
}

func TestConnEnqueueWritesToClient(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New("conn1", server, time.Second, discardLogger(),
		func(id string, msg ircmsg.Message) {},
		func(id string, err error) {},
	)
	shutdown := make(chan struct{})
	c.Start(shutdown)

	ok := c.Enqueue(ircmsg.Message{Command: "PING", Params: []string{"token"}})
	require.True(t, ok)

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "PING token")
}

func TestConnEnqueueDropsWhenQueueFull(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := New("conn1", server, time.Second, discardLogger(),
		func(id string, msg ircmsg.Message) {},
		func(id string, err error) {},
	)
	// Do not Start the writer loop, so the channel fills up.
	for i := 0; i < SendQueueSize; i++ {
		require.True(t, c.Enqueue(ircmsg.Message{Command: "PING"}))
	}
	require.False(t, c.Enqueue(ircmsg.Message{Command: "PING"}))
}
