package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fsnebula/converter-api/internal/events"
)

const writeWait = 10 * time.Second

// conn is one websocket subscriber. The bus delivers events through
// HandleEvent on its per-sink goroutine; a single writer pump owns the
// socket, interleaving event frames with keep-alive frames.
type conn struct {
	srv         *Server
	ws          *websocket.Conn
	ticket      int64
	interactive bool

	out chan []byte

	// closing is signalled once the terminal done event is queued; the
	// pump drains out and then closes the socket.
	closing chan struct{}
	once    sync.Once

	// done stops HandleEvent from blocking on a dead pump.
	done     chan struct{}
	doneOnce sync.Once
}

func newConn(s *Server, ws *websocket.Conn, ticket int64, interactive bool) *conn {
	return &conn{
		srv:         s,
		ws:          ws,
		ticket:      ticket,
		interactive: interactive,
		out:         make(chan []byte, 256),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// HandleEvent implements events.Sink. Delivery order is preserved: the
// send blocks rather than dropping frames when the client is slow.
func (c *conn) HandleEvent(ticket int64, ev events.Event) {
	frame, err := events.Encode(ev)
	if err != nil {
		c.srv.logger.Error("cannot encode event", "ticket", ticket, "error", err)
		return
	}

	select {
	case c.out <- frame:
	case <-c.done:
		return
	}

	if _, terminal := ev.(events.Done); terminal {
		// The stream ends here; anything after the done frame is noise.
		c.once.Do(func() { close(c.closing) })
	}
}

func (c *conn) serve(ctx context.Context) {
	logger := c.srv.logger.With("ticket", c.ticket, "remote", c.ws.RemoteAddr().String(), "interactive", c.interactive)
	logger.Info("watcher connected")

	go c.readPump(logger)

	if err := c.srv.bus.Subscribe(ctx, c.ticket, c); err != nil {
		logger.Error("cannot subscribe to ticket", "error", err)
		c.shutdown()
		_ = c.ws.Close()
		return
	}

	c.writePump(logger)

	c.srv.bus.Unsubscribe(c.ticket, c)
	c.shutdown()
	_ = c.ws.Close()
	logger.Info("watcher disconnected")
}

// shutdown releases anything blocked on this connection.
func (c *conn) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// writePump is the sole writer on the socket. It exits when the client
// goes away or after flushing the frames queued up to the done event.
func (c *conn) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(c.srv.keepAlive)
	defer ticker.Stop()

	keepAlive, err := events.Encode(events.KeepAlive{})
	if err != nil {
		return
	}

	for {
		select {
		case frame := <-c.out:
			if !c.write(frame) {
				return
			}
		case <-ticker.C:
			if !c.write(keepAlive) {
				return
			}
		case <-c.done:
			return
		case <-c.closing:
			// Drain what is already queued, then say goodbye.
			for {
				select {
				case frame := <-c.out:
					if !c.write(frame) {
						return
					}
				default:
					logger.Debug("event stream complete, closing")
					_ = c.ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

func (c *conn) write(frame []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return false
	}
	return true
}

// readPump consumes client frames. Watch connections only use it to
// detect disconnects; interactive ones forward well-formed frames onto
// the ticket's input channel.
func (c *conn) readPump(logger *slog.Logger) {
	defer c.shutdown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			logger.Debug("read loop ending", "error", err)
			return
		}
		if !c.interactive {
			continue
		}

		if _, _, err := events.SplitFrame(data); err != nil {
			// Bad input never kills the connection.
			logger.Warn("dropping malformed input frame", "error", err)
			continue
		}
		if err := c.srv.bus.SendInput(context.Background(), c.ticket, data); err != nil {
			logger.Warn("cannot forward input frame", "error", err)
		}
	}
}
