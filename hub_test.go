package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/brudvik/hugin-ircd/internal/config"
	"github.com/brudvik/hugin-ircd/internal/metrics"
	"github.com/brudvik/hugin-ircd/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testHub(t *testing.T, port string) *Hub {
	cfg := &config.Config{
		ListenHost: "127.0.0.1",
		ListenPort: port,
		ServerName: "irc.test",
		ServerInfo: "test server",
		Version:    "hugin-test",
		Network:    "TestNet",
		MOTD:       "welcome\nto the test net",
		TS6SID:     "8HT",
		Limits:     config.Limits{PingTimeout: 2 * time.Second},
	}
	log := logrus.NewEntry(logrus.New())
	h := NewHub(cfg, log, store.NewMemoryStore(), metrics.NoopSink{})
	require.NoError(t, h.Listen())
	go h.Run()
	t.Cleanup(h.Shutdown)
	return h
}

// registerClient dials addr and drives the real NICK/USER registration
// sequence, returning the connection once the 001 welcome numeric arrives
// so callers can assert on subsequent protocol exchanges from a fully
// admitted connection rather than a fabricated one.
func registerClient(t *testing.T, addr, nick string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	reader := bufio.NewReader(conn)

	_, err = fmt.Fprintf(conn, "NICK %s\r\n", nick)
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn, "USER %s 0 * :%s Realname\r\n", nick, nick)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, " 001 ") {
			break
		}
	}
	return conn, reader
}

func TestHubRespondsToPingBeforeRegistration(t *testing.T) {
	h := testHub(t, "18901")
	_ = h

	conn, err := net.Dial("tcp", "127.0.0.1:18901")
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "PING :hello\r\n")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "PONG")
	require.Contains(t, line, "hello")
}

func TestHubRejectsUnregisteredJoin(t *testing.T) {
	h := testHub(t, "18902")
	_ = h

	conn, err := net.Dial("tcp", "127.0.0.1:18902")
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "JOIN #lobby\r\n")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "451")
}

func TestHubAcceptTracksConnectionCount(t *testing.T) {
	h := testHub(t, "18903")

	conn, err := net.Dial("tcp", "127.0.0.1:18903")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.conns) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return len(h.conns) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHubRegistrationEmitsWelcomeBurst(t *testing.T) {
	h := testHub(t, "18904")
	_ = h

	conn, reader := registerClient(t, "127.0.0.1:18904", "alice")
	defer conn.Close()

	require.Eventually(t, func() bool {
		return len(h.conns) == 1
	}, time.Second, 10*time.Millisecond)

	_ = reader
}

func TestHubJoinAndPrivmsgFanOutToOtherMember(t *testing.T) {
	h := testHub(t, "18905")
	addr := "127.0.0.1:18905"

	aliceConn, aliceReader := registerClient(t, addr, "alice")
	defer aliceConn.Close()
	bobConn, bobReader := registerClient(t, addr, "bob")
	defer bobConn.Close()

	_, err := fmt.Fprintf(aliceConn, "JOIN #lobby\r\n")
	require.NoError(t, err)

	aliceConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		line, err := aliceReader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, "JOIN") {
			break
		}
	}

	_, err = fmt.Fprintf(bobConn, "JOIN #lobby\r\n")
	require.NoError(t, err)

	bobConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		line, err := bobReader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, "JOIN") {
			break
		}
	}

	aliceConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var joinLine string
	for {
		line, err := aliceReader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, "JOIN") {
			joinLine = line
			break
		}
	}
	require.Contains(t, joinLine, "JOIN")
	require.Contains(t, joinLine, "bob")

	_, err = fmt.Fprintf(aliceConn, "PRIVMSG #lobby :hello there\r\n")
	require.NoError(t, err)

	bobConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var privmsgLine string
	for {
		line, err := bobReader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, "PRIVMSG") {
			privmsgLine = line
			break
		}
	}
	require.Contains(t, privmsgLine, "alice")
	require.Contains(t, privmsgLine, "hello there")
}
