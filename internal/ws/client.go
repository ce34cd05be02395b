package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

const writeWait = 10 * time.Second

type outbound struct {
	name    models.EventName
	payload []byte
}

// client is one open connection. Events are queued on send and written by a
// single writer goroutine, so frames reach the peer in the order they were routed.
type client struct {
	conn      *websocket.Conn
	info      ConnInfo
	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newClient(conn *websocket.Conn, info ConnInfo, buffer int, log zerolog.Logger) *client {
	return &client{
		conn: conn,
		info: info,
		send: make(chan outbound, buffer),
		done: make(chan struct{}),
		log:  log.With().Str("conn_id", info.ConnID).Int("user_id", info.UserID).Logger(),
	}
}

func (c *client) ID() string { return c.info.ConnID }

// Send queues ev without blocking. A full queue drops the event.
func (c *client) Send(ev models.Event) bool {
	payload, err := models.EncodeEvent(ev)
	if err != nil {
		c.log.Error().Err(err).Msg("encode event")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- outbound{name: ev.EventName(), payload: payload}:
		return true
	case <-c.done:
		return false
	default:
		observability.IncWSEvent(string(ev.EventName()), observability.OutcomeDropped)
		c.log.Warn().Str("event", string(ev.EventName())).Msg("send queue full, event dropped")
		return false
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
				c.log.Debug().Err(err).Msg("websocket write error")
				c.Close()
				return
			}
			observability.IncWSEvent(string(msg.name), observability.OutcomeDelivered)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
