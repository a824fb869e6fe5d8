package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"PRelay/module/relay/model"
	"PRelay/service/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrQueueFull  = errors.New("send queue full")
)

// conn is one websocket. Only writePump writes to ws; send is never closed.
type conn struct {
	id      string
	ws      *websocket.Conn
	opts    Options
	send    chan []byte
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	log     *zap.Logger
	metrics *metrics.Metrics
}

func newConn(id string, ws *websocket.Conn, opts Options, log *zap.Logger, m *metrics.Metrics) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		opts:    opts,
		send:    make(chan []byte, opts.SendQueue),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log.With(zap.String("handle", id)),
		metrics: m,
	}
}

// ID implements presence.Handle.
func (c *conn) ID() string { return c.id }

// Send implements presence.Handle. It never blocks.
func (c *conn) Send(env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *conn) enqueue(data []byte) error {
	select {
	case <-c.quit:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.metrics.RecordDroppedFrame()
		return ErrQueueFull
	}
}

func (c *conn) shutdown() {
	c.once.Do(func() { close(c.quit) })
}

// writePump owns every write to the socket, pings included.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				c.shutdown()
				return
			}
		case <-c.quit:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}
