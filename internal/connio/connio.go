// Package connio wraps a net.Conn in the read-loop/write-loop pattern the
// teacher's net.go Conn and local_client.go readLoop/writeLoop use: a
// deadline-bounded line reader on one goroutine, a bounded non-blocking
// outbound queue drained by a writer goroutine on another. It implements
// broker.Sender so the router can hand messages to a live connection
// without ever blocking on a slow client.
package connio

import (
	"net"
	"sync"
	"time"

	"github.com/brudvik/hugin-ircd/internal/ircmsg"
	"github.com/sirupsen/logrus"
)

// SendQueueSize is the outbound channel capacity before a connection is
// flagged as having exceeded its send queue, mirroring the teacher's
// unbounded-looking but actually channel-capacity-bounded WriteChan.
const SendQueueSize = 100

// Conn owns one client or server connection's I/O goroutines.
type Conn struct {
	id      string
	conn    net.Conn
	ioWait  time.Duration
	writeCh chan ircmsg.Message
	log     *logrus.Entry
	onDead  func(id string, err error)
	onLine  func(id string, msg ircmsg.Message)

	sendQueueExceeded bool
}

// New wraps conn, returning a Conn ready for Start. onLine is invoked
// (from the reader goroutine) for every successfully parsed message;
// onDead is invoked (from either goroutine) exactly once when the
// connection terminates, for either the reader or writer's error.
func New(id string, conn net.Conn, ioWait time.Duration, log *logrus.Entry, onLine func(id string, msg ircmsg.Message), onDead func(id string, err error)) *Conn {
	var once sync.Once
	dead := func(id string, err error) { once.Do(func() { onDead(id, err) }) }
	return &Conn{
		id:      id,
		conn:    conn,
		ioWait:  ioWait,
		writeCh: make(chan ircmsg.Message, SendQueueSize),
		log:     log,
		onLine:  onLine,
		onDead:  dead,
	}
}

// Start launches the reader and writer goroutines. shutdown is closed by
// the owning server to force both loops to exit during a clean shutdown.
func (c *Conn) Start(shutdown <-chan struct{}) {
	go c.readLoop()
	go c.writeLoop(shutdown)
}

// Enqueue implements broker.Sender: it never blocks. If the outbound
// queue is full the connection is flagged as send-queue-exceeded and the
// message is dropped, mirroring maybeQueueMessage.
func (c *Conn) Enqueue(m ircmsg.Message) bool {
	if c.sendQueueExceeded {
		return false
	}
	select {
	case c.writeCh <- m:
		return true
	default:
		c.sendQueueExceeded = true
		return false
	}
}

// Close closes the outbound channel, which drains the writer goroutine
// and, once it has flushed what it can, closes the socket.
func (c *Conn) Close() {
	defer func() { recover() }() // closing an already-closed channel is a caller bug we tolerate here
	close(c.writeCh)
}

func (c *Conn) readLoop() {
	scanner := ircmsg.NewScanner(c.conn)
	for scanner.Scan() {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.ioWait)); err != nil {
			break
		}
		line := scanner.Text()
		msg, err := ircmsg.Parse(line)
		if err != nil {
			c.log.WithError(err).WithField("conn", c.id).Debug("discarding malformed line")
			continue
		}
		c.onLine(c.id, msg)
	}
	c.onDead(c.id, scanner.Err())
}

func (c *Conn) writeLoop(shutdown <-chan struct{}) {
	for {
		select {
		case m, ok := <-c.writeCh:
			if !ok {
				c.closeSocket()
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioWait)); err != nil {
				c.closeSocket()
				c.onDead(c.id, err)
				return
			}
			if _, err := c.conn.Write([]byte(m.Encode())); err != nil {
				c.closeSocket()
				c.onDead(c.id, err)
				return
			}
		case <-shutdown:
			c.closeSocket()
			return
		}
	}
}

func (c *Conn) closeSocket() {
	if err := c.conn.Close(); err != nil {
		c.log.WithError(err).WithField("conn", c.id).Debug("error closing connection")
	}
}
